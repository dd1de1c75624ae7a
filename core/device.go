// Package core drives one L6470 stepper controller over an SPI link
package core

import (
	"fmt"
	"log/slog"

	"l6470/protocol"
)

// Device is an open handle to one L6470.
// It owns its Conn exclusively and is not safe for concurrent use.
type Device struct {
	conn   Conn
	cfg    SPIConfig
	status protocol.StatusFields
	log    *slog.Logger
}

// Option configures a Device
type Option func(*Device)

// WithLogger sets the logger used for open/close and transfer tracing
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// Open opens the chip at cfg through opener
func Open(opener Opener, cfg SPIConfig, opts ...Option) (*Device, error) {
	conn, err := opener.Open(cfg)
	if err != nil {
		return nil, &protocol.ConnectionError{Op: "open " + cfg.String(), Err: err}
	}

	d := newDevice(conn, cfg, opts)
	d.log.Info("opened L6470", "bus", cfg.BusID, "cs", cfg.ChipSelect, "mode", cfg.Mode, "rate", cfg.Rate)
	return d, nil
}

// New wraps a Conn that is already open
func New(conn Conn, opts ...Option) *Device {
	return newDevice(conn, SPIConfig{}, opts)
}

func newDevice(conn Conn, cfg SPIConfig, opts []Option) *Device {
	d := &Device{
		conn: conn,
		cfg:  cfg,
		log:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close releases the link. Calling Close more than once is a no-op.
func (d *Device) Close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.log.Info("closed L6470", "bus", d.cfg.BusID, "cs", d.cfg.ChipSelect)
	if err != nil {
		return &protocol.ConnectionError{Op: "close " + d.cfg.String(), Err: err}
	}
	return nil
}

// Config returns the bus settings the device was opened with
func (d *Device) Config() SPIConfig {
	return d.cfg
}

// Transfer sends opcode followed by params, one byte per frame, and returns
// the bytes clocked out during the parameter frames. The byte clocked out
// with the opcode belongs to the previous command and is dropped.
func (d *Device) Transfer(opcode byte, params []byte) ([]byte, error) {
	op := fmt.Sprintf("transfer 0x%02X", opcode)
	if d.conn == nil {
		return nil, &protocol.ConnectionError{Op: op}
	}

	d.log.Debug("transfer", "opcode", fmt.Sprintf("0x%02X", opcode), "params", fmt.Sprintf("% X", params))

	// Opcode frame
	if _, err := d.conn.Transfer(opcode); err != nil {
		return nil, &protocol.ConnectionError{Op: op, Err: err}
	}

	// Parameter frames
	rx := make([]byte, len(params))
	for i, b := range params {
		r, err := d.conn.Transfer(b)
		if err != nil {
			return nil, &protocol.ConnectionError{Op: op, Err: err}
		}
		rx[i] = r
	}

	return rx, nil
}

// SetParam writes values to reg.
// values must have the register's width and no bits outside its masks.
func (d *Device) SetParam(reg protocol.RegisterSpec, values []byte) error {
	if err := protocol.CheckRegister(reg, values); err != nil {
		return err
	}
	_, err := d.Transfer(protocol.SetParamOpcode(reg), values)
	return err
}

// GetParam reads reg
func (d *Device) GetParam(reg protocol.RegisterSpec) ([]byte, error) {
	return d.Transfer(protocol.GetParamOpcode(reg), make([]byte, reg.Width()))
}

// GetStatus reads the raw status word and clears the chip's latched flags
func (d *Device) GetStatus() ([]byte, error) {
	return d.Transfer(protocol.GET_STATUS.Opcode, make([]byte, protocol.GET_STATUS.Width()))
}

// UpdateStatus reads and decodes the status word and stores it.
// On error the stored status is left unchanged.
func (d *Device) UpdateStatus() (protocol.StatusFields, error) {
	raw, err := d.GetStatus()
	if err != nil {
		return d.status, err
	}
	s, err := protocol.DecodeStatus(raw)
	if err != nil {
		return d.status, err
	}
	d.status = s
	return s, nil
}

// Status returns the status stored by the last UpdateStatus
func (d *Device) Status() protocol.StatusFields {
	return d.status
}
