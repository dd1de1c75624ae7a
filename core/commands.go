package core

import (
	"l6470/protocol"
)

// Run turns the motor at constant speed in dir.
// speed is the 20-bit SPEED value, most significant byte first.
func (d *Device) Run(dir protocol.Direction, speed []byte) error {
	if dir != protocol.Clockwise && dir != protocol.CounterClockwise {
		return &protocol.ValidationError{Target: protocol.RUN.Name, Index: -1, Reason: "invalid direction"}
	}
	if err := protocol.CheckCommand(protocol.RUN, speed); err != nil {
		return err
	}
	_, err := d.Transfer(dir.Opcode(protocol.RUN.Opcode), speed)
	return err
}

// GoHome moves to ABS_POS zero by the shortest path
func (d *Device) GoHome() error { return d.command(protocol.GO_HOME) }

// GoMark moves to the MARK position by the shortest path
func (d *Device) GoMark() error { return d.command(protocol.GO_MARK) }

// ResetPos zeroes ABS_POS
func (d *Device) ResetPos() error { return d.command(protocol.RESET_POS) }

// ResetDevice restores power-up register values
func (d *Device) ResetDevice() error { return d.command(protocol.RESET_DEVICE) }

// SoftStop decelerates to a stop
func (d *Device) SoftStop() error { return d.command(protocol.SOFT_STOP) }

// HardStop stops immediately
func (d *Device) HardStop() error { return d.command(protocol.HARD_STOP) }

// SoftHiZ decelerates and then disables the bridges
func (d *Device) SoftHiZ() error { return d.command(protocol.SOFT_HIZ) }

// HardHiZ disables the bridges immediately
func (d *Device) HardHiZ() error { return d.command(protocol.HARD_HIZ) }

func (d *Device) command(cmd protocol.CommandSpec) error {
	_, err := d.Transfer(cmd.Opcode, nil)
	return err
}

// The following commands are part of the chip's command set but are not
// driven by this package. They never touch the bus.

// StepClock would switch to step-clock mode
func (d *Device) StepClock(dir protocol.Direction) error {
	return unsupported(protocol.STEP_CLOCK)
}

// Move would run n microsteps in dir
func (d *Device) Move(dir protocol.Direction, steps []byte) error {
	return unsupported(protocol.MOVE)
}

// GoTo would move to an absolute position by the shortest path
func (d *Device) GoTo(pos []byte) error {
	return unsupported(protocol.GO_TO)
}

// GoToDir would move to an absolute position in dir
func (d *Device) GoToDir(dir protocol.Direction, pos []byte) error {
	return unsupported(protocol.GO_TO_DIR)
}

// GoUntil would run at speed until the SW input falls
func (d *Device) GoUntil(act bool, dir protocol.Direction, speed []byte) error {
	return unsupported(protocol.GO_UNTIL)
}

// ReleaseSW would run at minimum speed until the SW input rises
func (d *Device) ReleaseSW(act bool, dir protocol.Direction) error {
	return unsupported(protocol.RELEASE_SW)
}

func unsupported(cmd protocol.CommandSpec) error {
	return &protocol.UnsupportedOperationError{Command: cmd.Name}
}
