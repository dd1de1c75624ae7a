package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l6470/core"
	"l6470/protocol"
)

const sampleConfig = `
backend: klipper
spi:
  bus: 1
  cs: 2
  mode: 3
klipper:
  device: /dev/ttyUSB1
  oid: 4
  timeout: 250ms
log:
  level: debug
reset_on_open: true
profile:
  - register: MAX_SPEED
    bytes: [0x02, 0xFF]
  - register: kval_run
    value: 0x39
  - register: ABS_POS
    value: 0x3FFFFF
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l6470.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendKlipper, cfg.Backend)
	assert.True(t, cfg.ResetOnOpen)
	assert.Equal(t, core.SPIConfig{BusID: 1, ChipSelect: 2, Mode: 3, Rate: 5000}, cfg.SPIConfig())

	s := cfg.SerialConfig()
	assert.Equal(t, "/dev/ttyUSB1", s.Device)
	assert.Equal(t, 250000, s.Baud)
	assert.Equal(t, 250*time.Millisecond, cfg.Klipper.Timeout)
	assert.Equal(t, uint8(4), cfg.Klipper.OID)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	settings, err := cfg.Settings()
	require.NoError(t, err)
	require.Len(t, settings, 3)
	assert.Equal(t, protocol.MAX_SPEED.Name, settings[0].Register.Name)
	assert.Equal(t, []byte{0x02, 0xFF}, settings[0].Values)
	assert.Equal(t, protocol.KVAL_RUN.Name, settings[1].Register.Name)
	assert.Equal(t, []byte{0x39}, settings[1].Values)
	assert.Equal(t, []byte{0x3F, 0xFF, 0xFF}, settings[2].Values)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, BackendSpidev, cfg.Backend)
	assert.Equal(t, core.DefaultSPIConfig(0, 0), cfg.SPIConfig())
	assert.Equal(t, "/dev/ttyACM0", cfg.Klipper.Device)
	assert.Equal(t, 250000, cfg.Klipper.Baud)
	assert.Equal(t, time.Second, cfg.Klipper.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.ResetOnOpen)
	assert.Empty(t, cfg.Profile)

	assert.Equal(t, cfg, Default())
}

func TestValidateDoesNotMutate(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
	assert.Equal(t, &Config{}, cfg)
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
		msg  string
	}{
		{"unknown backend", "backend: usb", "unknown backend"},
		{"bad mode", "spi: {mode: 4}", "spi.mode"},
		{"bad level", "log: {level: loud}", "log.level"},
		{"bad format", "log: {format: xml}", "log.format"},
		{"unknown register", "profile: [{register: FOO, value: 1}]", "FOO"},
		{"read-only register", "profile: [{register: SPEED, value: 1}]", "read-only"},
		{"bits outside mask", "profile: [{register: MAX_SPEED, bytes: [0xFF, 0xFF]}]", "MAX_SPEED"},
		{"wrong width", "profile: [{register: MAX_SPEED, bytes: [0x01]}]", "MAX_SPEED"},
		{"value too wide", "profile: [{register: KVAL_RUN, value: 0x100}]", "does not fit"},
		{"byte out of range", "profile: [{register: KVAL_RUN, bytes: [256]}]", "out of range"},
		{"both forms", "profile: [{register: KVAL_RUN, value: 1, bytes: [1]}]", "not both"},
		{"neither form", "profile: [{register: KVAL_RUN}]", "no bytes or value"},
		{"not yaml", "backend: [", "parse config"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestSettingsReportIndex(t *testing.T) {
	cfg := Default()
	one := uint32(1)
	cfg.Profile = []ProfileEntry{
		{Register: "KVAL_RUN", Value: &one},
		{Register: "MAX_SPEED", Bytes: []int{0xFF, 0xFF}},
	}

	_, err := cfg.Settings()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile[1]")
	assert.True(t, protocol.IsValidationError(err))
}
