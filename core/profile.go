package core

import (
	"fmt"

	"l6470/protocol"
)

// Setting is one register write of a configuration profile
type Setting struct {
	Register protocol.RegisterSpec
	Values   []byte
}

func (s Setting) String() string {
	return fmt.Sprintf("%s=[% X]", s.Register.Name, s.Values)
}

// Apply writes settings in order.
// Every setting is validated before the first write, so a bad profile
// leaves the chip untouched.
func (d *Device) Apply(settings []Setting) error {
	for _, s := range settings {
		if err := protocol.CheckRegister(s.Register, s.Values); err != nil {
			return err
		}
	}
	for _, s := range settings {
		if err := d.SetParam(s.Register, s.Values); err != nil {
			return fmt.Errorf("apply %s: %w", s.Register.Name, err)
		}
		d.log.Debug("applied setting", "register", s.Register.Name, "values", fmt.Sprintf("% X", s.Values))
	}
	return nil
}
