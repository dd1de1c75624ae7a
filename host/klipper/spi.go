package klipper

import (
	"fmt"

	"l6470/core"
)

// Opener opens L6470 links through an MCU's SPI commands.
// OID is the object id the MCU assigns to the SPI device; it must not be
// in use by another object on the MCU.
type Opener struct {
	MCU *MCU
	OID uint8
}

// Open configures the MCU's SPI device. The chip select index is passed as
// the MCU pin number, active low.
//
// When the dictionary offers allocate_oids and finalize_config, the SPI
// device is wrapped in a full config cycle, so the MCU must not have been
// configured yet.
func (o Opener) Open(cfg core.SPIConfig) (core.Conn, error) {
	if o.MCU == nil {
		return nil, fmt.Errorf("klipper: no MCU")
	}

	if o.MCU.hasCommand("allocate_oids") {
		err := o.MCU.SendCommand("allocate_oids", func(e *Encoder) {
			e.Uint(uint32(o.OID) + 1)
		})
		if err != nil {
			return nil, fmt.Errorf("allocate_oids: %w", err)
		}
	}

	err := o.MCU.SendCommand("config_spi", func(e *Encoder) {
		e.Uint(uint32(o.OID)).Uint(uint32(cfg.ChipSelect)).Uint(0)
	})
	if err != nil {
		return nil, fmt.Errorf("config_spi: %w", err)
	}

	err = o.MCU.SendCommand("spi_set_bus", func(e *Encoder) {
		e.Uint(uint32(o.OID)).Uint(uint32(cfg.BusID)).Uint(uint32(cfg.Mode)).Uint(cfg.Rate)
	})
	if err != nil {
		return nil, fmt.Errorf("spi_set_bus: %w", err)
	}

	if o.MCU.hasCommand("finalize_config") {
		err := o.MCU.SendCommand("finalize_config", func(e *Encoder) {
			e.Uint(0)
		})
		if err != nil {
			return nil, fmt.Errorf("finalize_config: %w", err)
		}
	}

	o.MCU.log.Info("configured MCU SPI device", "oid", o.OID, "bus", cfg.BusID, "cs", cfg.ChipSelect, "rate", cfg.Rate)
	return &spiConn{mcu: o.MCU, oid: o.OID}, nil
}

// spiConn tunnels one byte per spi_transfer so the MCU toggles chip select
// around every byte
type spiConn struct {
	mcu *MCU
	oid uint8
}

func (c *spiConn) Transfer(b byte) (byte, error) {
	resp, err := c.mcu.Query("spi_transfer", func(e *Encoder) {
		e.Uint(uint32(c.oid)).Bytes([]byte{b})
	}, "spi_transfer_response")
	if err != nil {
		return 0, err
	}

	oid, err := DecodeVLQUint(&resp)
	if err != nil {
		return 0, err
	}
	if oid != uint32(c.oid) {
		return 0, fmt.Errorf("klipper: response for oid %d, want %d", oid, c.oid)
	}
	data, err := DecodeVLQBytes(&resp)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("klipper: expected 1 response byte, got %d", len(data))
	}
	return data[0], nil
}

// Close leaves the MCU connection open; the caller owns the MCU
func (c *spiConn) Close() error {
	return nil
}
