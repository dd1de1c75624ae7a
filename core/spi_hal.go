package core

import (
	"fmt"

	"tinygo.org/x/drivers"
)

// SPIBusID identifies a hardware SPI bus
type SPIBusID uint8

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// SPIConfig identifies one chip on one bus and how to clock it
type SPIConfig struct {
	BusID      SPIBusID // Hardware bus identifier
	ChipSelect uint8    // Chip select line on the bus
	Mode       SPIMode  // SPI mode (0-3)
	Rate       uint32   // Clock rate in Hz
}

// DefaultSPIConfig returns the bus settings the L6470 is driven with by default
func DefaultSPIConfig(bus SPIBusID, cs uint8) SPIConfig {
	return SPIConfig{
		BusID:      bus,
		ChipSelect: cs,
		Mode:       0,
		Rate:       5000,
	}
}

func (c SPIConfig) String() string {
	return fmt.Sprintf("SPI%d.%d", c.BusID, c.ChipSelect)
}

// Conn is an open link to one chip select.
// Transfer clocks one byte in its own chip-select frame and returns the byte
// clocked out at the same time.
type Conn interface {
	Transfer(b byte) (byte, error)
	Close() error
}

// Opener opens a Conn for a bus and chip select.
// Platform-specific implementations handle actual hardware control.
type Opener interface {
	Open(cfg SPIConfig) (Conn, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(cfg SPIConfig) (Conn, error)

func (f OpenerFunc) Open(cfg SPIConfig) (Conn, error) {
	return f(cfg)
}

// spiConn drives a TinyGo SPI bus with a manually toggled chip select
type spiConn struct {
	bus drivers.SPI
	cs  func(selected bool)
}

// FromSPI adapts a TinyGo SPI bus (machine.SPI or any drivers.SPI) to a Conn.
// cs is called to select the chip before each byte and release it after;
// it may be nil when the bus manages chip select itself.
func FromSPI(bus drivers.SPI, cs func(selected bool)) Conn {
	return &spiConn{bus: bus, cs: cs}
}

func (c *spiConn) Transfer(b byte) (byte, error) {
	if c.cs != nil {
		c.cs(true)
		defer c.cs(false)
	}
	return c.bus.Transfer(b)
}

// Close releases chip select; the bus itself stays configured
func (c *spiConn) Close() error {
	if c.cs != nil {
		c.cs(false)
	}
	return nil
}
