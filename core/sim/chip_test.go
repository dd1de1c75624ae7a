package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l6470/protocol"
)

// xfer clocks a full command and returns every byte clocked out
func xfer(t *testing.T, c *Chip, frames ...byte) []byte {
	t.Helper()
	out := make([]byte, 0, len(frames))
	for _, b := range frames {
		r, err := c.Transfer(b)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestChipResponseLag(t *testing.T) {
	c := New()

	// GET_PARAM MAX_SPEED: the opcode frame returns a stale byte, the value follows
	out := xfer(t, c, 0x27, 0x00, 0x00)
	assert.Equal(t, []byte{0x00, 0x00, 0x41}, out)
}

func TestChipSetGetParam(t *testing.T) {
	c := New()

	xfer(t, c, 0x07, 0x02, 0xFF)
	assert.Equal(t, []byte{0x02, 0xFF}, c.Register(protocol.MAX_SPEED))

	out := xfer(t, c, 0x27, 0x00, 0x00)
	assert.Equal(t, []byte{0x02, 0xFF}, out[1:])
}

func TestChipMasksWrites(t *testing.T) {
	c := New()

	xfer(t, c, protocol.SetParamOpcode(protocol.STALL_TH), 0xFF)
	assert.Equal(t, []byte{0x7F}, c.Register(protocol.STALL_TH))
}

func TestChipRun(t *testing.T) {
	c := New()

	xfer(t, c, 0x50, 0x00, 0x3F, 0xFF)
	s := c.StatusFields()
	assert.Equal(t, protocol.ConstantSpeed, s.MotStatus)
	assert.False(t, s.Dir)
	assert.True(t, s.Busy)
	assert.False(t, s.HiZ)
	assert.Equal(t, []byte{0x00, 0x3F, 0xFF}, c.Register(protocol.SPEED))

	xfer(t, c, 0x51, 0x00, 0x10, 0x00)
	assert.True(t, c.StatusFields().Dir)

	xfer(t, c, protocol.SOFT_STOP.Opcode)
	assert.Equal(t, protocol.Stopped, c.StatusFields().MotStatus)
	assert.Equal(t, []byte{0x00, 0x00, 0x00}, c.Register(protocol.SPEED))
}

func TestChipWriteTiming(t *testing.T) {
	c := New()

	// Running: WS registers are locked
	xfer(t, c, 0x50, 0x00, 0x10, 0x00)
	xfer(t, c, protocol.SetParamOpcode(protocol.ACC), 0x00, 0x10)
	assert.Equal(t, []byte{0x00, 0x8A}, c.Register(protocol.ACC))
	assert.True(t, c.StatusFields().NotPerfCmd)

	// Not in HiZ: WH registers are locked
	xfer(t, c, protocol.SetParamOpcode(protocol.STEP_MODE), 0x03)
	assert.Equal(t, []byte{0x07}, c.Register(protocol.STEP_MODE))

	// Read-only registers are never written
	xfer(t, c, protocol.SetParamOpcode(protocol.SPEED), 0x00, 0x00, 0x01)
	assert.Equal(t, []byte{0x00, 0x10, 0x00}, c.Register(protocol.SPEED))

	// GET_STATUS returns the latched flag and clears it
	out := xfer(t, c, 0xD0, 0x00, 0x00)
	s, err := protocol.DecodeStatus(out[1:])
	require.NoError(t, err)
	assert.True(t, s.NotPerfCmd)
	assert.False(t, c.StatusFields().NotPerfCmd)
}

func TestChipWrongCommand(t *testing.T) {
	c := New()

	xfer(t, c, 0xFF)
	assert.True(t, c.StatusFields().WrongCmd)
	assert.Empty(t, c.Opcodes)
}

func TestChipPositionCommands(t *testing.T) {
	c := New()

	xfer(t, c, protocol.SetParamOpcode(protocol.MARK), 0x00, 0x01, 0x00)
	xfer(t, c, protocol.GO_MARK.Opcode)
	assert.Equal(t, []byte{0x00, 0x01, 0x00}, c.Register(protocol.ABS_POS))

	xfer(t, c, protocol.RESET_POS.Opcode)
	assert.Equal(t, []byte{0x00, 0x00, 0x00}, c.Register(protocol.ABS_POS))

	// MOVE in reverse wraps the 22-bit position
	xfer(t, c, protocol.MOVE.Opcode, 0x00, 0x00, 0x01)
	assert.Equal(t, []byte{0x3F, 0xFF, 0xFF}, c.Register(protocol.ABS_POS))

	xfer(t, c, protocol.GO_HOME.Opcode)
	assert.Equal(t, []byte{0x00, 0x00, 0x00}, c.Register(protocol.ABS_POS))
}

func TestChipResetDevice(t *testing.T) {
	c := New()

	xfer(t, c, 0x0A, 0x39)
	xfer(t, c, protocol.RESET_DEVICE.Opcode)
	assert.Equal(t, []byte{0x29}, c.Register(protocol.KVAL_RUN))
	assert.True(t, c.StatusFields().HiZ)
}

func TestChipNopKeepsFraming(t *testing.T) {
	c := New()

	xfer(t, c, 0x00, 0x00, 0x27, 0x00, 0x00)
	assert.Equal(t, []byte{0x27}, c.Opcodes)
}

func TestChipFaults(t *testing.T) {
	c := New()
	boom := errors.New("boom")

	c.FailAfter(1, boom)
	_, err := c.Transfer(0x27)
	require.NoError(t, err)
	_, err = c.Transfer(0x00)
	assert.ErrorIs(t, err, boom)

	c2 := New()
	require.NoError(t, c2.Close())
	assert.True(t, c2.Closed())
	_, err = c2.Transfer(0x00)
	assert.ErrorIs(t, err, ErrClosed)
}
