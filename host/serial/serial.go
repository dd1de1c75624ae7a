// Package serial opens the serial link to a Klipper-protocol MCU
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is an open serial line.
// host/klipper only needs io.ReadWriteCloser; tests substitute net.Pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unsent output
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (typically 250000 for Klipper, but USB CDC ignores this)
	Baud int

	// ReadTimeout bounds a single Read; zero blocks
	ReadTimeout time.Duration
}

// DefaultConfig returns the line settings a Klipper MCU expects
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}

var ErrNoDevice = errors.New("serial: no device path")

// nativePort wraps tarm/serial
type nativePort struct {
	port *serial.Port
}

// Open opens the port described by cfg
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, ErrNoDevice
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("serial: invalid baud rate %d", cfg.Baud)
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &nativePort{port: port}, nil
}

func (p *nativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *nativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *nativePort) Close() error {
	return p.port.Close()
}

func (p *nativePort) Flush() error {
	return p.port.Flush()
}
