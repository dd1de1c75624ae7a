package protocol

import "strings"

// CommandSpec describes one application command
type CommandSpec struct {
	Name   string
	Opcode byte

	masks [3]byte // Valid bits of each argument byte, most significant byte first
	width uint8
}

func newCommand(name string, opcode byte, masks ...byte) CommandSpec {
	c := CommandSpec{Name: name, Opcode: opcode, width: uint8(len(masks))}
	copy(c.masks[:], masks)
	return c
}

// Width returns the number of argument bytes that follow the opcode
func (c CommandSpec) Width() int {
	return int(c.width)
}

// Mask returns the argument masks as a fresh slice
func (c CommandSpec) Mask() []byte {
	m := make([]byte, c.width)
	copy(m, c.masks[:c.width])
	return m
}

// MaskAt returns the valid bits of argument byte i
func (c CommandSpec) MaskAt(i int) byte {
	return c.masks[i]
}

func (c CommandSpec) String() string {
	return c.Name
}

// Command catalog
//
// SET_PARAM and GET_PARAM take the width of the addressed register, so they
// carry no masks of their own. GET_STATUS lists the two dummy bytes that pump
// the status word out of the chip.
var (
	SET_PARAM    = newCommand("SET_PARAM", SetParamBase)
	GET_PARAM    = newCommand("GET_PARAM", GetParamBase)
	RUN          = newCommand("RUN", 0x50, 0x0F, 0xFF, 0xFF)
	STEP_CLOCK   = newCommand("STEP_CLOCK", 0x58)
	MOVE         = newCommand("MOVE", 0x40, 0x3F, 0xFF, 0xFF)
	GO_TO        = newCommand("GO_TO", 0x60, 0x3F, 0xFF, 0xFF)
	GO_TO_DIR    = newCommand("GO_TO_DIR", 0x68, 0x3F, 0xFF, 0xFF)
	GO_UNTIL     = newCommand("GO_UNTIL", 0x82, 0x0F, 0xFF, 0xFF)
	RELEASE_SW   = newCommand("RELEASE_SW", 0x92)
	GO_HOME      = newCommand("GO_HOME", 0x70)
	GO_MARK      = newCommand("GO_MARK", 0x78)
	RESET_POS    = newCommand("RESET_POS", 0xD8)
	RESET_DEVICE = newCommand("RESET_DEVICE", 0xC0)
	SOFT_STOP    = newCommand("SOFT_STOP", 0xB0)
	HARD_STOP    = newCommand("HARD_STOP", 0xB8)
	SOFT_HIZ     = newCommand("SOFT_HIZ", 0xA0)
	HARD_HIZ     = newCommand("HARD_HIZ", 0xA8)
	GET_STATUS   = newCommand("GET_STATUS", 0xD0, 0xFF, 0xFF)
)

// Commands lists the catalog
var Commands = []CommandSpec{
	SET_PARAM, GET_PARAM, RUN, STEP_CLOCK, MOVE, GO_TO, GO_TO_DIR, GO_UNTIL, RELEASE_SW,
	GO_HOME, GO_MARK, RESET_POS, RESET_DEVICE, SOFT_STOP, HARD_STOP, SOFT_HIZ, HARD_HIZ, GET_STATUS,
}

// LookupCommand finds a command by name, ignoring case
func LookupCommand(name string) (CommandSpec, error) {
	for _, c := range Commands {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return CommandSpec{}, &ValidationError{Reason: "unknown command " + quote(name)}
}

// DecodeOpcode identifies the command an opcode belongs to.
// The direction and ACT bits and the register address are ignored.
func DecodeOpcode(op byte) (CommandSpec, bool) {
	switch {
	case op&0xE0 == SetParamBase:
		return SET_PARAM, true
	case op&0xE0 == GetParamBase:
		return GET_PARAM, true
	}
	for _, c := range Commands {
		switch c.Opcode {
		case SetParamBase, GetParamBase:
			continue
		case GO_UNTIL.Opcode, RELEASE_SW.Opcode:
			if op&^(DirectionBit|ActBit) == c.Opcode {
				return c, true
			}
		case RUN.Opcode, STEP_CLOCK.Opcode, MOVE.Opcode, GO_TO_DIR.Opcode:
			if op&^DirectionBit == c.Opcode {
				return c, true
			}
		default:
			if op == c.Opcode {
				return c, true
			}
		}
	}
	return CommandSpec{}, false
}
