// Package protocol implements the L6470 SPI command protocol
//
// The L6470 takes one command byte followed by zero to three argument bytes.
// Every byte is clocked in its own chip-select frame, and the byte clocked out
// during a frame belongs to the previous frame, so a response always lags the
// request by one byte.
package protocol

// Version represents the driver version
const Version = "0.1.0"

// Opcode bases that carry a register address or a direction bit
const (
	SetParamBase = 0x00 // SET_PARAM | address
	GetParamBase = 0x20 // GET_PARAM | address
	AddressMask  = 0x1F // Register address bits inside SET_PARAM/GET_PARAM
	DirectionBit = 0x01 // Direction bit inside RUN, MOVE, GO_TO_DIR, ...
	ActBit       = 0x08 // ACT bit inside GO_UNTIL and RELEASE_SW
)

// Direction selects the rotation sense of a motion command
type Direction uint8

const (
	Clockwise        Direction = iota // Direction bit clear
	CounterClockwise                  // Direction bit set
)

// Opcode applies the direction bit to a motion command base opcode
func (d Direction) Opcode(base byte) byte {
	if d == CounterClockwise {
		return base | DirectionBit
	}
	return base
}

func (d Direction) String() string {
	switch d {
	case Clockwise:
		return "cw"
	case CounterClockwise:
		return "ccw"
	default:
		return "invalid"
	}
}

// ParseDirection accepts "cw" and "ccw" in either case
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "cw", "CW":
		return Clockwise, nil
	case "ccw", "CCW":
		return CounterClockwise, nil
	}
	return 0, &ValidationError{Reason: "unknown direction " + quote(s)}
}

// SetParamOpcode returns the SET_PARAM opcode addressing reg
func SetParamOpcode(reg RegisterSpec) byte {
	return SetParamBase | (reg.Address & AddressMask)
}

// GetParamOpcode returns the GET_PARAM opcode addressing reg
func GetParamOpcode(reg RegisterSpec) byte {
	return GetParamBase | (reg.Address & AddressMask)
}
