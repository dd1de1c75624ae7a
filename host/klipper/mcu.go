// Package klipper drives an L6470 through a Klipper-protocol MCU.
//
// The MCU owns the SPI bus; the host tunnels each chip-select frame through
// the MCU's spi_transfer command.
package klipper

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"l6470/host/serial"
)

// Fixed message ids every Klipper MCU uses before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1
	identifyChunk      = 40
	maxDictionary      = 1 << 20
)

var ErrNoDictionary = errors.New("klipper: dictionary not loaded")

// Dictionary is the MCU's identify data
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]any            `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]any `json:"enumerations,omitempty"`
}

// CommandID finds a command by its name, the first word of its format
func (d *Dictionary) CommandID(name string) (int, bool) {
	return lookupMessage(d.Commands, name)
}

// ResponseID finds a response by name
func (d *Dictionary) ResponseID(name string) (int, bool) {
	return lookupMessage(d.Responses, name)
}

func lookupMessage(m map[string]int, name string) (int, bool) {
	if id, ok := m[name]; ok {
		return id, true
	}
	for format, id := range m {
		if first, _, _ := strings.Cut(format, " "); first == name {
			return id, true
		}
	}
	return 0, false
}

// MCU is a connection to a Klipper microcontroller
type MCU struct {
	transport *Transport
	timeout   time.Duration
	log       *slog.Logger

	dictionary *Dictionary
	raw        []byte
}

// Option configures an MCU
type Option func(*MCU)

// WithLogger sets the MCU's logger
func WithLogger(l *slog.Logger) Option {
	return func(m *MCU) {
		if l != nil {
			m.log = l
		}
	}
}

// WithTimeout bounds each ACK and response wait
func WithTimeout(d time.Duration) Option {
	return func(m *MCU) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewMCU starts a transport on an already open link
func NewMCU(port io.ReadWriteCloser, opts ...Option) *MCU {
	m := &MCU{
		timeout: time.Second,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.transport = NewTransport(port, m.log)
	return m
}

// Dial opens the serial port in cfg and connects to the MCU on it
func Dial(cfg serial.Config, opts ...Option) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("klipper: flush %s: %w", cfg.Device, err)
	}
	m := NewMCU(port, opts...)
	m.log.Info("connected to MCU", "device", cfg.Device, "baud", cfg.Baud)
	return m, nil
}

// Close stops the transport and closes the port
func (m *MCU) Close() error {
	return m.transport.Close()
}

// RetrieveDictionary downloads, inflates and parses the identify dictionary
func (m *MCU) RetrieveDictionary() error {
	var data bytes.Buffer
	for offset := uint32(0); ; {
		chunk, err := m.identify(offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("klipper: dictionary chunk at offset %d: %w", offset, err)
		}
		data.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
		if data.Len() > maxDictionary {
			return fmt.Errorf("klipper: dictionary larger than %d bytes", maxDictionary)
		}
	}
	m.log.Debug("dictionary retrieved", "bytes", data.Len())

	raw := data.Bytes()
	if len(raw) >= 2 && raw[0] == 0x78 {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("klipper: inflate dictionary: %w", err)
		}
		inflated, err := io.ReadAll(io.LimitReader(zr, maxDictionary))
		zr.Close()
		if err != nil {
			return fmt.Errorf("klipper: inflate dictionary: %w", err)
		}
		m.log.Debug("dictionary inflated", "from", len(raw), "to", len(inflated))
		raw = inflated
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(raw, dict); err != nil {
		return fmt.Errorf("klipper: parse dictionary: %w", err)
	}
	m.dictionary = dict
	m.raw = raw
	m.log.Info("MCU dictionary loaded", "version", dict.Version,
		"commands", len(dict.Commands), "responses", len(dict.Responses))
	return nil
}

func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	e := (&Encoder{}).Uint(identifyID).Uint(offset).Uint(uint32(count))
	if err := m.transport.Send(e.Payload(), m.timeout); err != nil {
		return nil, err
	}

	for {
		payload, err := m.await(identifyResponseID)
		if err != nil {
			return nil, err
		}
		got, err := DecodeVLQUint(&payload)
		if err != nil {
			return nil, err
		}
		if got != offset {
			// Answer to an earlier request
			continue
		}
		return DecodeVLQBytes(&payload)
	}
}

// Dictionary returns the parsed dictionary, or nil before RetrieveDictionary
func (m *MCU) Dictionary() *Dictionary {
	return m.dictionary
}

// DictionaryRaw returns the inflated dictionary JSON
func (m *MCU) DictionaryRaw() []byte {
	return m.raw
}

func (m *MCU) hasCommand(name string) bool {
	if m.dictionary == nil {
		return false
	}
	_, ok := m.dictionary.CommandID(name)
	return ok
}

// SendCommand encodes and sends a named command, waiting for its ACK
func (m *MCU) SendCommand(name string, args func(e *Encoder)) error {
	if m.dictionary == nil {
		return ErrNoDictionary
	}
	id, ok := m.dictionary.CommandID(name)
	if !ok {
		return fmt.Errorf("klipper: unknown command %q", name)
	}

	e := (&Encoder{}).Uint(uint32(id))
	if args != nil {
		args(e)
	}
	m.log.Debug("send", "command", name, "payload", fmt.Sprintf("% X", e.Payload()))
	return m.transport.Send(e.Payload(), m.timeout)
}

// Query sends a command and returns the arguments of the named response
func (m *MCU) Query(name string, args func(e *Encoder), response string) ([]byte, error) {
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	id, ok := m.dictionary.ResponseID(response)
	if !ok {
		return nil, fmt.Errorf("klipper: unknown response %q", response)
	}
	if err := m.SendCommand(name, args); err != nil {
		return nil, err
	}
	return m.await(id)
}

// await returns the payload after the id of the next response with id
func (m *MCU) await(id int) ([]byte, error) {
	deadline := time.Now().Add(m.timeout)
	for {
		f, err := m.transport.Receive(time.Until(deadline))
		if err != nil {
			return nil, err
		}
		payload := f.Payload
		got, err := DecodeVLQUint(&payload)
		if err != nil {
			m.log.Debug("undecodable response", "payload", fmt.Sprintf("% X", f.Payload))
			continue
		}
		if int(got) != id {
			m.log.Debug("skipping response", "id", got, "want", id)
			continue
		}
		return payload, nil
	}
}
