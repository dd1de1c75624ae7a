package protocol

import "fmt"

// CheckRegister validates bytes destined for SET_PARAM on reg
func CheckRegister(reg RegisterSpec, values []byte) error {
	return checkMasks(reg.Name, reg.Address, reg.Mask(), values)
}

// CheckCommand validates the argument bytes of a command
func CheckCommand(cmd CommandSpec, values []byte) error {
	return checkMasks(cmd.Name, cmd.Opcode, cmd.Mask(), values)
}

// checkMasks enforces the length and the no-bits-outside-mask rule
func checkMasks(target string, addr byte, masks, values []byte) error {
	if len(values) != len(masks) {
		return &ValidationError{
			Target:  target,
			Address: addr,
			Index:   -1,
			Reason:  fmt.Sprintf("expected %d bytes, got %d", len(masks), len(values)),
		}
	}
	for i, v := range values {
		if v&^masks[i] != 0 {
			return &ValidationError{
				Target:  target,
				Address: addr,
				Index:   i,
				Mask:    masks[i],
				Value:   v,
			}
		}
	}
	return nil
}

// PackValue encodes v as the big-endian byte sequence of reg
func PackValue(reg RegisterSpec, v uint32) ([]byte, error) {
	return packMasked(reg.Name, reg.Address, reg.Mask(), v)
}

// PackArgument encodes v as the big-endian argument bytes of cmd
func PackArgument(cmd CommandSpec, v uint32) ([]byte, error) {
	return packMasked(cmd.Name, cmd.Opcode, cmd.Mask(), v)
}

func packMasked(target string, addr byte, masks []byte, v uint32) ([]byte, error) {
	n := len(masks)
	if n < 4 && v>>(8*uint(n)) != 0 {
		return nil, &ValidationError{
			Target:  target,
			Address: addr,
			Index:   -1,
			Reason:  fmt.Sprintf("value 0x%X does not fit in %d bytes", v, n),
		}
	}
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	if err := checkMasks(target, addr, masks, b); err != nil {
		return nil, err
	}
	return b, nil
}

// UnpackValue decodes big-endian register bytes
func UnpackValue(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}
