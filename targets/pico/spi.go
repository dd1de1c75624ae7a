//go:build rp2040 || rp2350

package main

import (
	"errors"
	"machine"

	"l6470/core"
)

// RP2040/RP2350 SPI bus pinouts, numbered as in Klipper's rp2040 bus table
type spiBusConfig struct {
	spi  *machine.SPI
	sck  machine.Pin
	mosi machine.Pin
	miso machine.Pin
}

var spiBuses = map[core.SPIBusID]spiBusConfig{
	0: {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO0},
	1: {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, miso: machine.GPIO4},
	2: {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, miso: machine.GPIO16},
	5: {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO8},
	6: {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, miso: machine.GPIO12},
}

var errUnknownBus = errors.New("unknown SPI bus")

// picoOpener configures a hardware SPI controller and drives chip select
// from the GPIO numbered cfg.ChipSelect
type picoOpener struct{}

func (picoOpener) Open(cfg core.SPIConfig) (core.Conn, error) {
	bus, ok := spiBuses[cfg.BusID]
	if !ok {
		return nil, errUnknownBus
	}

	err := bus.spi.Configure(machine.SPIConfig{
		Frequency: cfg.Rate,
		Mode:      uint8(cfg.Mode),
		SCK:       bus.sck,
		SDO:       bus.mosi,
		SDI:       bus.miso,
	})
	if err != nil {
		return nil, err
	}

	cs := machine.Pin(cfg.ChipSelect)
	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	cs.High()

	// Chip select is active low
	return core.FromSPI(bus.spi, func(selected bool) { cs.Set(!selected) }), nil
}
