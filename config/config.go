// Package config loads l6470ctl settings from YAML
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"l6470/core"
	"l6470/host/serial"
	"l6470/protocol"
)

// Backends
const (
	BackendSpidev  = "spidev"
	BackendKlipper = "klipper"
	BackendSim     = "sim"
)

// Config is the top-level configuration file
type Config struct {
	Backend string        `yaml:"backend"`
	SPI     SPIConfig     `yaml:"spi"`
	Klipper KlipperConfig `yaml:"klipper"`
	Log     LogConfig     `yaml:"log"`

	// ResetOnOpen issues RESET_DEVICE before the profile is applied
	ResetOnOpen bool `yaml:"reset_on_open"`

	Profile []ProfileEntry `yaml:"profile"`
}

// SPIConfig selects the chip
type SPIConfig struct {
	Bus  uint8  `yaml:"bus"`
	CS   uint8  `yaml:"cs"`
	Mode uint8  `yaml:"mode"`
	Rate uint32 `yaml:"rate"` // Hz
}

// KlipperConfig describes the MCU link for the klipper backend
type KlipperConfig struct {
	Device  string        `yaml:"device"`
	Baud    int           `yaml:"baud"`
	OID     uint8         `yaml:"oid"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig sets the slog level and handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ProfileEntry is one register write. Exactly one of Bytes or Value is set.
type ProfileEntry struct {
	Register string  `yaml:"register"`
	Bytes    []int   `yaml:"bytes,omitempty"`
	Value    *uint32 `yaml:"value,omitempty"`
}

// Load reads, defaults and validates the file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in missing values
func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendSpidev
	}
	if cfg.SPI.Rate == 0 {
		cfg.SPI.Rate = core.DefaultSPIConfig(0, 0).Rate
	}
	if cfg.Klipper.Device == "" {
		cfg.Klipper.Device = "/dev/ttyACM0"
	}
	if cfg.Klipper.Baud == 0 {
		cfg.Klipper.Baud = serial.DefaultConfig("").Baud
	}
	if cfg.Klipper.Timeout == 0 {
		cfg.Klipper.Timeout = time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate checks the configuration without modifying it
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSpidev, BackendKlipper, BackendSim:
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend, BackendSpidev, BackendKlipper, BackendSim)
	}
	if c.SPI.Mode > 3 {
		return fmt.Errorf("spi.mode %d out of range 0-3", c.SPI.Mode)
	}
	if c.Backend == BackendKlipper && c.Klipper.Baud <= 0 {
		return fmt.Errorf("klipper.baud must be positive")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	_, err := c.Settings()
	return err
}

// LogLevel parses Log.Level
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// SPIConfig returns the bus settings for core.Open
func (c *Config) SPIConfig() core.SPIConfig {
	return core.SPIConfig{
		BusID:      core.SPIBusID(c.SPI.Bus),
		ChipSelect: c.SPI.CS,
		Mode:       core.SPIMode(c.SPI.Mode),
		Rate:       c.SPI.Rate,
	}
}

// SerialConfig returns the serial line settings for the klipper backend
func (c *Config) SerialConfig() serial.Config {
	s := serial.DefaultConfig(c.Klipper.Device)
	s.Baud = c.Klipper.Baud
	return s
}

// Settings converts the profile to register writes, checking every entry
// against the register catalog
func (c *Config) Settings() ([]core.Setting, error) {
	settings := make([]core.Setting, 0, len(c.Profile))
	for i, e := range c.Profile {
		s, err := e.setting()
		if err != nil {
			return nil, fmt.Errorf("profile[%d]: %w", i, err)
		}
		settings = append(settings, s)
	}
	return settings, nil
}

func (e ProfileEntry) setting() (core.Setting, error) {
	reg, err := protocol.LookupRegister(strings.TrimSpace(e.Register))
	if err != nil {
		return core.Setting{}, err
	}
	if !reg.Writable() {
		return core.Setting{}, &protocol.ValidationError{
			Target:  reg.Name,
			Address: reg.Address,
			Index:   -1,
			Reason:  "register is read-only",
		}
	}

	switch {
	case e.Value != nil && e.Bytes != nil:
		return core.Setting{}, fmt.Errorf("%s: set either bytes or value, not both", reg.Name)

	case e.Value != nil:
		b, err := protocol.PackValue(reg, *e.Value)
		if err != nil {
			return core.Setting{}, err
		}
		return core.Setting{Register: reg, Values: b}, nil

	case e.Bytes != nil:
		b := make([]byte, len(e.Bytes))
		for i, v := range e.Bytes {
			if v < 0 || v > 0xFF {
				return core.Setting{}, fmt.Errorf("%s: byte %d value %d out of range", reg.Name, i, v)
			}
			b[i] = byte(v)
		}
		if err := protocol.CheckRegister(reg, b); err != nil {
			return core.Setting{}, err
		}
		return core.Setting{Register: reg, Values: b}, nil
	}

	return core.Setting{}, fmt.Errorf("%s: no bytes or value", reg.Name)
}
