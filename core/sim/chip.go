// Package sim simulates an L6470 at the SPI byte level.
//
// The simulated chip keeps the one-frame response lag of the real part:
// a byte loaded for output while a frame is decoded is clocked out during the
// next frame. Register writes honor the byte masks and write-timing classes.
package sim

import (
	"errors"

	"l6470/protocol"
)

// ErrClosed is returned by Transfer after Close
var ErrClosed = errors.New("sim: chip closed")

// Power-up register values, datasheet table 9
var resetValues = map[byte]uint32{
	protocol.ACC.Address:        0x08A,
	protocol.DEC.Address:        0x08A,
	protocol.MAX_SPEED.Address:  0x041,
	protocol.KVAL_HOLD.Address:  0x29,
	protocol.KVAL_RUN.Address:   0x29,
	protocol.KVAL_ACC.Address:   0x29,
	protocol.KVAL_DEC.Address:   0x29,
	protocol.INIT_SPEED.Address: 0x0408,
	protocol.ST_SLP.Address:     0x19,
	protocol.FN_SLP_ACC.Address: 0x29,
	protocol.FN_SLP_DEC.Address: 0x29,
	protocol.OCD_TH.Address:     0x08,
	protocol.STALL_TH.Address:   0x40,
	protocol.FS_SPD.Address:     0x027,
	protocol.STEP_MODE.Address:  0x07,
	protocol.ALARM_EN.Address:   0xFF,
	protocol.CONFIG.Address:     0x2E88,
}

// Chip is a simulated L6470. It implements core.Conn.
type Chip struct {
	regs   map[byte][]byte
	status protocol.StatusFields

	// Frame pipeline
	shift   byte   // Byte clocked out on the next frame
	queue   []byte // Response bytes waiting to be loaded
	pending *protocol.CommandSpec
	opcode  byte
	need    int
	args    []byte

	// Fault injection
	failAfter int
	failErr   error

	closed bool

	// Received records every byte clocked in
	Received []byte

	// Opcodes records every decoded command byte
	Opcodes []byte
}

// New returns a chip in its power-up state
func New() *Chip {
	c := &Chip{failAfter: -1}
	c.reset()
	return c
}

func (c *Chip) reset() {
	c.regs = make(map[byte][]byte, len(protocol.Registers))
	for _, r := range protocol.Registers {
		b, _ := protocol.PackValue(r, resetValues[r.Address])
		c.regs[r.Address] = b
	}
	c.status = protocol.StatusFields{
		HiZ:       true,
		Busy:      true,
		Dir:       true,
		MotStatus: protocol.Stopped,
		UVLO:      true,
		ThWrn:     true,
		ThSD:      true,
		OCD:       true,
		StepLossA: true,
		StepLossB: true,
	}
	c.syncStatusRegister()
}

// FailAfter makes Transfer return err once n more bytes have been clocked
func (c *Chip) FailAfter(n int, err error) {
	c.failAfter = n
	c.failErr = err
}

// Transfer clocks one frame
func (c *Chip) Transfer(b byte) (byte, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if c.failAfter == 0 {
		return 0, c.failErr
	}
	if c.failAfter > 0 {
		c.failAfter--
	}

	c.Received = append(c.Received, b)

	out := c.shift
	c.clockIn(b)
	c.shift = 0
	if len(c.queue) > 0 {
		c.shift = c.queue[0]
		c.queue = c.queue[1:]
	}
	return out, nil
}

// Close marks the chip closed
func (c *Chip) Close() error {
	c.closed = true
	return nil
}

// Closed reports whether Close has been called
func (c *Chip) Closed() bool {
	return c.closed
}

// Register returns a copy of a register's bytes
func (c *Chip) Register(reg protocol.RegisterSpec) []byte {
	b := make([]byte, len(c.regs[reg.Address]))
	copy(b, c.regs[reg.Address])
	return b
}

// StatusFields returns the current status without clearing latched flags
func (c *Chip) StatusFields() protocol.StatusFields {
	return c.status
}

// SetStatus replaces the status, for example to raise an alarm
func (c *Chip) SetStatus(s protocol.StatusFields) {
	c.status = s
	c.syncStatusRegister()
}

func (c *Chip) clockIn(b byte) {
	if c.pending != nil {
		c.args = append(c.args, b)
		if len(c.args) == c.need {
			cmd := *c.pending
			c.pending = nil
			c.execute(cmd, c.opcode, c.args)
		}
		return
	}

	cmd, ok := protocol.DecodeOpcode(b)
	if !ok {
		c.status.WrongCmd = true
		c.syncStatusRegister()
		return
	}
	need := cmd.Width()
	switch cmd.Opcode {
	case protocol.SetParamBase, protocol.GetParamBase:
		addr := b & protocol.AddressMask
		if addr == 0 {
			// NOP
			return
		}
		reg, ok := protocol.RegisterAt(addr)
		if !ok {
			c.status.WrongCmd = true
			c.syncStatusRegister()
			return
		}
		need = reg.Width()
		if cmd.Opcode == protocol.GetParamBase {
			c.queue = append(c.queue[:0], c.regs[addr]...)
		}
	case protocol.GET_STATUS.Opcode:
		c.queue = append(c.queue[:0], protocol.EncodeStatus(c.status)...)
		c.clearLatched()
	}
	c.Opcodes = append(c.Opcodes, b)

	if need == 0 {
		c.execute(cmd, b, nil)
		return
	}
	c.pending = &cmd
	c.opcode = b
	c.need = need
	c.args = make([]byte, 0, need)
}

func (c *Chip) execute(cmd protocol.CommandSpec, op byte, args []byte) {
	switch cmd.Opcode {
	case protocol.SetParamBase:
		reg, _ := protocol.RegisterAt(op & protocol.AddressMask)
		c.setParam(reg, args)

	case protocol.GetParamBase, protocol.GET_STATUS.Opcode:
		// Dummy bytes, response already queued

	case protocol.RUN.Opcode:
		c.regs[protocol.SPEED.Address] = masked(protocol.RUN.Mask(), args)
		c.motion(op)
		c.status.MotStatus = protocol.ConstantSpeed

	case protocol.MOVE.Opcode:
		c.motion(op)
		steps := int32(protocol.UnpackValue(masked(protocol.MOVE.Mask(), args)))
		if op&protocol.DirectionBit == 0 {
			steps = -steps
		}
		c.setPosition(c.position() + steps)

	case protocol.GO_TO.Opcode, protocol.GO_TO_DIR.Opcode:
		c.motion(op)
		c.regs[protocol.ABS_POS.Address] = masked(protocol.ABS_POS.Mask(), args)

	case protocol.GO_UNTIL.Opcode:
		c.regs[protocol.SPEED.Address] = masked(protocol.GO_UNTIL.Mask(), args)
		c.motion(op)
		c.status.MotStatus = protocol.ConstantSpeed

	case protocol.STEP_CLOCK.Opcode, protocol.RELEASE_SW.Opcode:
		c.motion(op)

	case protocol.GO_HOME.Opcode:
		c.status.HiZ = false
		c.setPosition(0)

	case protocol.GO_MARK.Opcode:
		c.status.HiZ = false
		c.regs[protocol.ABS_POS.Address] = c.Register(protocol.MARK)

	case protocol.RESET_POS.Opcode:
		c.setPosition(0)

	case protocol.RESET_DEVICE.Opcode:
		c.reset()

	case protocol.SOFT_STOP.Opcode, protocol.HARD_STOP.Opcode:
		c.stop()

	case protocol.SOFT_HIZ.Opcode, protocol.HARD_HIZ.Opcode:
		c.stop()
		c.status.HiZ = true
	}
	c.syncStatusRegister()
}

func (c *Chip) setParam(reg protocol.RegisterSpec, args []byte) {
	allowed := false
	switch reg.WriteTiming {
	case protocol.WriteAny:
		allowed = true
	case protocol.WriteStopped:
		allowed = c.status.MotStatus == protocol.Stopped
	case protocol.WriteHiZ:
		allowed = c.status.HiZ
	}
	if !allowed {
		c.status.NotPerfCmd = true
		return
	}
	c.regs[reg.Address] = masked(reg.Mask(), args)
}

// motion enters a driven state in the opcode's direction
func (c *Chip) motion(op byte) {
	c.status.HiZ = false
	c.status.Dir = op&protocol.DirectionBit != 0
	c.status.Busy = true
}

func (c *Chip) stop() {
	c.status.MotStatus = protocol.Stopped
	c.status.Busy = true
	c.regs[protocol.SPEED.Address] = make([]byte, protocol.SPEED.Width())
}

// clearLatched resets the flags GET_STATUS clears on the real chip
func (c *Chip) clearLatched() {
	c.status.NotPerfCmd = false
	c.status.WrongCmd = false
	c.status.SwEvn = false
	c.status.UVLO = true
	c.status.ThWrn = true
	c.status.ThSD = true
	c.status.OCD = true
	c.status.StepLossA = true
	c.status.StepLossB = true
	c.syncStatusRegister()
}

func (c *Chip) syncStatusRegister() {
	c.regs[protocol.STATUS.Address] = protocol.EncodeStatus(c.status)
}

// position returns ABS_POS as a signed 22-bit value
func (c *Chip) position() int32 {
	v := int32(protocol.UnpackValue(c.regs[protocol.ABS_POS.Address]))
	if v&(1<<21) != 0 {
		v -= 1 << 22
	}
	return v
}

func (c *Chip) setPosition(p int32) {
	v := uint32(p) & 0x3FFFFF
	b, _ := protocol.PackValue(protocol.ABS_POS, v)
	c.regs[protocol.ABS_POS.Address] = b
}

func masked(masks, args []byte) []byte {
	b := make([]byte, len(masks))
	for i := range masks {
		if i < len(args) {
			b[i] = args[i] & masks[i]
		}
	}
	return b
}
