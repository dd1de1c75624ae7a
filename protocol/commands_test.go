package protocol

import "testing"

func TestCommandCatalog(t *testing.T) {
	testCases := []struct {
		cmd    CommandSpec
		opcode byte
		width  int
	}{
		{RUN, 0x50, 3},
		{STEP_CLOCK, 0x58, 0},
		{MOVE, 0x40, 3},
		{GO_TO, 0x60, 3},
		{GO_TO_DIR, 0x68, 3},
		{GO_UNTIL, 0x82, 3},
		{RELEASE_SW, 0x92, 0},
		{GO_HOME, 0x70, 0},
		{GO_MARK, 0x78, 0},
		{RESET_POS, 0xD8, 0},
		{RESET_DEVICE, 0xC0, 0},
		{SOFT_STOP, 0xB0, 0},
		{HARD_STOP, 0xB8, 0},
		{SOFT_HIZ, 0xA0, 0},
		{HARD_HIZ, 0xA8, 0},
		{GET_STATUS, 0xD0, 2},
	}

	for _, tc := range testCases {
		if tc.cmd.Opcode != tc.opcode {
			t.Errorf("%s: expected opcode 0x%02X, got 0x%02X", tc.cmd.Name, tc.opcode, tc.cmd.Opcode)
		}
		if tc.cmd.Width() != tc.width {
			t.Errorf("%s: expected %d argument bytes, got %d", tc.cmd.Name, tc.width, tc.cmd.Width())
		}
	}
}

func TestDirectionOpcode(t *testing.T) {
	if op := Clockwise.Opcode(RUN.Opcode); op != 0x50 {
		t.Errorf("RUN cw: expected 0x50, got 0x%02X", op)
	}
	if op := CounterClockwise.Opcode(RUN.Opcode); op != 0x51 {
		t.Errorf("RUN ccw: expected 0x51, got 0x%02X", op)
	}

	d, err := ParseDirection("ccw")
	if err != nil || d != CounterClockwise {
		t.Errorf("ParseDirection(ccw) = %v, %v", d, err)
	}
	for _, s := range []string{"up", "fwd", "forward", "rev", "reverse"} {
		if _, err := ParseDirection(s); !IsValidationError(err) {
			t.Errorf("ParseDirection(%q): expected ValidationError, got %v", s, err)
		}
	}
}

func TestDecodeOpcode(t *testing.T) {
	testCases := []struct {
		op   byte
		name string
	}{
		{0x07, "SET_PARAM"},
		{0x27, "GET_PARAM"},
		{0x50, "RUN"},
		{0x51, "RUN"},
		{0x41, "MOVE"},
		{0x69, "GO_TO_DIR"},
		{0x8B, "GO_UNTIL"},
		{0x9A, "RELEASE_SW"},
		{0xD0, "GET_STATUS"},
		{0xC0, "RESET_DEVICE"},
	}

	for _, tc := range testCases {
		cmd, ok := DecodeOpcode(tc.op)
		if !ok {
			t.Errorf("0x%02X: not recognized", tc.op)
			continue
		}
		if cmd.Name != tc.name {
			t.Errorf("0x%02X: expected %s, got %s", tc.op, tc.name, cmd.Name)
		}
	}

	for _, op := range []byte{0x61, 0xFF, 0xE0} {
		if cmd, ok := DecodeOpcode(op); ok {
			t.Errorf("0x%02X: expected unknown, got %s", op, cmd.Name)
		}
	}
}

func TestLookupCommand(t *testing.T) {
	c, err := LookupCommand("soft_stop")
	if err != nil || c.Opcode != 0xB0 {
		t.Errorf("LookupCommand(soft_stop) = %v, %v", c, err)
	}
	if _, err := LookupCommand("fly"); err == nil {
		t.Error("Expected error for unknown command")
	}
}
