package core

import (
	"testing"
)

// fakeBus implements drivers.SPI and tracks chip select state per byte
type fakeBus struct {
	selected bool
	events   []string
	reply    byte
}

func (f *fakeBus) Tx(w, r []byte) error {
	for i := range w {
		b, _ := f.Transfer(w[i])
		if i < len(r) {
			r[i] = b
		}
	}
	return nil
}

func (f *fakeBus) Transfer(b byte) (byte, error) {
	if f.selected {
		f.events = append(f.events, "xfer")
	} else {
		f.events = append(f.events, "xfer-unselected")
	}
	out := f.reply
	f.reply = b
	return out, nil
}

func TestFromSPIFramesEachByte(t *testing.T) {
	bus := &fakeBus{}
	cs := func(selected bool) {
		bus.selected = selected
		if selected {
			bus.events = append(bus.events, "select")
		} else {
			bus.events = append(bus.events, "release")
		}
	}

	dev := New(FromSPI(bus, cs))
	rx, err := dev.Transfer(0x27, []byte{0x00, 0x00})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	// The fake echoes the previous byte
	if len(rx) != 2 || rx[0] != 0x27 || rx[1] != 0x00 {
		t.Errorf("Unexpected result % X", rx)
	}

	expected := []string{
		"select", "xfer", "release",
		"select", "xfer", "release",
		"select", "xfer", "release",
	}
	if len(bus.events) != len(expected) {
		t.Fatalf("Expected %d events, got %v", len(expected), bus.events)
	}
	for i := range expected {
		if bus.events[i] != expected[i] {
			t.Errorf("Event %d: expected %s, got %s", i, expected[i], bus.events[i])
		}
	}

	if err := dev.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if bus.selected {
		t.Error("Chip select still asserted after Close")
	}
}

func TestFromSPIWithoutChipSelect(t *testing.T) {
	bus := &fakeBus{}
	conn := FromSPI(bus, nil)

	if _, err := conn.Transfer(0xD0); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if len(bus.events) != 1 {
		t.Errorf("Expected one transfer, got %v", bus.events)
	}
}

func TestSPIConfig(t *testing.T) {
	cfg := DefaultSPIConfig(1, 0)
	if cfg.Mode != 0 || cfg.Rate != 5000 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if cfg.String() != "SPI1.0" {
		t.Errorf("Unexpected name %s", cfg.String())
	}
}
