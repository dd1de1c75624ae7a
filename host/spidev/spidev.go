// Package spidev opens L6470 links on Linux SPI ports through periph.io.
//
// Ports are looked up by the periph registry name SPI<bus>.<cs>, which the
// sysfs driver registers for /dev/spidev<bus>.<cs>.
package spidev

import (
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"l6470/core"
)

var (
	initOnce sync.Once
	initErr  error

	// hostInit loads the periph host drivers
	hostInit = func() error {
		_, err := host.Init()
		return err
	}
)

// Opener implements core.Opener over the periph SPI registry
type Opener struct {
	Log *slog.Logger
}

// PortName returns the registry name of the port for cfg
func PortName(cfg core.SPIConfig) string {
	return fmt.Sprintf("SPI%d.%d", cfg.BusID, cfg.ChipSelect)
}

// Open connects to the port at cfg's bus and chip select
func (o Opener) Open(cfg core.SPIConfig) (core.Conn, error) {
	if cfg.Mode > 3 {
		return nil, fmt.Errorf("spidev: invalid SPI mode %d", cfg.Mode)
	}

	initOnce.Do(func() { initErr = hostInit() })
	if initErr != nil {
		return nil, fmt.Errorf("spidev: host init: %w", initErr)
	}

	name := PortName(cfg)
	port, err := spireg.Open(name)
	if err != nil {
		return nil, err
	}

	c, err := port.Connect(physic.Frequency(cfg.Rate)*physic.Hertz, spi.Mode(cfg.Mode), 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("spidev: connect %s: %w", name, err)
	}

	if o.Log != nil {
		o.Log.Debug("spi port connected", "port", name, "mode", spi.Mode(cfg.Mode).String(), "rate", physic.Frequency(cfg.Rate)*physic.Hertz)
	}
	return &conn{port: port, c: c}, nil
}

// conn issues one Tx per byte so chip select is released between bytes
type conn struct {
	port spi.PortCloser
	c    spi.Conn
	rx   [1]byte
}

func (c *conn) Transfer(b byte) (byte, error) {
	if err := c.c.Tx([]byte{b}, c.rx[:]); err != nil {
		return 0, err
	}
	return c.rx[0], nil
}

func (c *conn) Close() error {
	return c.port.Close()
}
