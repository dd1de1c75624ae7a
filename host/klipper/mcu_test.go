package klipper

import (
	"bytes"
	"compress/zlib"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l6470/core"
	"l6470/core/sim"
	"l6470/protocol"
)

const testDictionary = `{"version":"test-1","build_versions":"go",` +
	`"config":{"CLOCK_FREQ":12000000,"MCU":"rp2040"},` +
	`"commands":{"identify offset=%u count=%c":1,` +
	`"config_spi oid=%c pin=%u cs_active_high=%c":10,` +
	`"spi_set_bus oid=%c spi_bus=%u mode=%u rate=%u":11,` +
	`"spi_transfer oid=%c data=%*s":12},` +
	`"responses":{"identify_response offset=%u data=%.*s":0,` +
	`"spi_transfer_response oid=%c response=%*s":13}}`

const testConfigDictionary = `{"version":"test-2",` +
	`"commands":{"identify offset=%u count=%c":1,` +
	`"config_spi oid=%c pin=%u cs_active_high=%c":10,` +
	`"spi_set_bus oid=%c spi_bus=%u mode=%u rate=%u":11,` +
	`"spi_transfer oid=%c data=%*s":12,` +
	`"allocate_oids count=%c":14,"finalize_config crc=%u":15},` +
	`"responses":{"identify_response offset=%u data=%.*s":0,` +
	`"spi_transfer_response oid=%c response=%*s":13}}`

// fakeMCU answers the host side of a net.Pipe like a Klipper MCU with an
// L6470 on its SPI bus
type fakeMCU struct {
	conn   net.Conn
	dict   []byte
	chip   *sim.Chip
	silent atomic.Bool

	mu       sync.Mutex
	commands map[uint32][]uint32
	order    []uint32
}

func startFakeMCU(t *testing.T, dict []byte, opts ...Option) (*MCU, *fakeMCU) {
	t.Helper()
	host, dev := net.Pipe()
	f := &fakeMCU{
		conn:     dev,
		dict:     dict,
		chip:     sim.New(),
		commands: make(map[uint32][]uint32),
	}
	go f.serve()

	m := NewMCU(host, append([]Option{WithTimeout(time.Second)}, opts...)...)
	t.Cleanup(func() {
		m.Close()
		dev.Close()
	})
	return m, f
}

func (f *fakeMCU) serve() {
	p := newParser()
	buf := make([]byte, 256)
	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			return
		}
		for _, fr := range p.feed(buf[:n]) {
			f.handle(fr)
		}
	}
}

func (f *fakeMCU) handle(fr Frame) {
	if f.silent.Load() {
		return
	}
	next := NextSeq(fr.Seq)
	payload := fr.Payload
	id, _ := DecodeVLQUint(&payload)

	var resp []byte
	switch id {
	case 1:
		offset, _ := DecodeVLQUint(&payload)
		count, _ := DecodeVLQUint(&payload)
		end := min(int(offset+count), len(f.dict))
		start := min(int(offset), end)
		resp = (&Encoder{}).Uint(0).Uint(offset).Bytes(f.dict[start:end]).Payload()
	case 10, 11, 14, 15:
		var args []uint32
		for len(payload) > 0 {
			v, _ := DecodeVLQUint(&payload)
			args = append(args, v)
		}
		f.mu.Lock()
		f.commands[id] = args
		f.order = append(f.order, id)
		f.mu.Unlock()
	case 12:
		oid, _ := DecodeVLQUint(&payload)
		data, _ := DecodeVLQBytes(&payload)
		rx := make([]byte, len(data))
		for i, b := range data {
			rx[i], _ = f.chip.Transfer(b)
		}
		resp = (&Encoder{}).Uint(13).Uint(oid).Bytes(rx).Payload()
	}

	f.write(next, nil)
	if resp != nil {
		f.write(next, resp)
	}
}

func (f *fakeMCU) write(seq byte, payload []byte) {
	msg, err := EncodeFrame(seq, payload)
	if err != nil {
		panic(err)
	}
	f.conn.Write(msg)
}

func (f *fakeMCU) args(id uint32) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[id]
}

func (f *fakeMCU) configOrder() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.order...)
}

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRetrieveDictionary(t *testing.T) {
	m, _ := startFakeMCU(t, []byte(testDictionary))

	require.NoError(t, m.RetrieveDictionary())
	d := m.Dictionary()
	require.NotNil(t, d)
	assert.Equal(t, "test-1", d.Version)
	assert.Equal(t, "rp2040", d.Config["MCU"])
	assert.Equal(t, []byte(testDictionary), m.DictionaryRaw())

	id, ok := d.CommandID("spi_transfer")
	assert.True(t, ok)
	assert.Equal(t, 12, id)

	id, ok = d.ResponseID("spi_transfer_response oid=%c response=%*s")
	assert.True(t, ok)
	assert.Equal(t, 13, id)

	_, ok = d.CommandID("spi")
	assert.False(t, ok)
}

func TestRetrieveCompressedDictionary(t *testing.T) {
	m, _ := startFakeMCU(t, deflate(t, []byte(testDictionary)))

	require.NoError(t, m.RetrieveDictionary())
	assert.Equal(t, []byte(testDictionary), m.DictionaryRaw())
	assert.Len(t, m.Dictionary().Commands, 4)
}

func TestSendCommandBeforeDictionary(t *testing.T) {
	m, _ := startFakeMCU(t, []byte(testDictionary))

	err := m.SendCommand("config_spi", nil)
	assert.ErrorIs(t, err, ErrNoDictionary)
}

func TestSendUnknownCommand(t *testing.T) {
	m, _ := startFakeMCU(t, []byte(testDictionary))
	require.NoError(t, m.RetrieveDictionary())

	assert.Error(t, m.SendCommand("stepper_get_position", nil))
	_, err := m.Query("spi_transfer", nil, "no_such_response")
	assert.Error(t, err)
}

func TestAckTimeout(t *testing.T) {
	m, f := startFakeMCU(t, []byte(testDictionary), WithTimeout(50*time.Millisecond))
	f.silent.Store(true)

	err := m.RetrieveDictionary()
	assert.ErrorContains(t, err, "ACK timeout")
}

func TestOpenerDrivesChip(t *testing.T) {
	m, f := startFakeMCU(t, []byte(testDictionary))
	require.NoError(t, m.RetrieveDictionary())

	dev, err := core.Open(Opener{MCU: m, OID: 3}, core.DefaultSPIConfig(1, 5))
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, []uint32{3, 5, 0}, f.args(10))
	assert.Equal(t, []uint32{3, 1, 0, 5000}, f.args(11))
	assert.Equal(t, []uint32{10, 11}, f.configOrder())

	require.NoError(t, dev.SetParam(protocol.MAX_SPEED, []byte{0x02, 0xFF}))
	got, err := dev.GetParam(protocol.MAX_SPEED)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0xFF}, got)

	require.NoError(t, dev.Run(protocol.CounterClockwise, []byte{0x00, 0x3F, 0xFF}))
	s, err := dev.UpdateStatus()
	require.NoError(t, err)
	assert.True(t, s.Dir)
	assert.Equal(t, protocol.ConstantSpeed, s.MotStatus)
}

func TestOpenerRunsConfigCycle(t *testing.T) {
	m, f := startFakeMCU(t, []byte(testConfigDictionary))
	require.NoError(t, m.RetrieveDictionary())

	dev, err := core.Open(Opener{MCU: m, OID: 2}, core.DefaultSPIConfig(0, 9))
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, []uint32{14, 10, 11, 15}, f.configOrder())
	assert.Equal(t, []uint32{3}, f.args(14))
	assert.Equal(t, []uint32{2, 9, 0}, f.args(10))
	assert.Equal(t, []uint32{0}, f.args(15))

	got, err := dev.GetParam(protocol.MAX_SPEED)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x41}, got)
}

func TestOpenerWithoutMCU(t *testing.T) {
	_, err := core.Open(Opener{}, core.DefaultSPIConfig(0, 0))
	assert.True(t, protocol.IsConnectionError(err))
}

func TestTransferAfterClose(t *testing.T) {
	m, _ := startFakeMCU(t, []byte(testDictionary))
	require.NoError(t, m.RetrieveDictionary())

	dev, err := core.Open(Opener{MCU: m, OID: 1}, core.DefaultSPIConfig(0, 0))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = dev.GetStatus()
	assert.True(t, protocol.IsConnectionError(err))
	assert.True(t, errors.Is(err, ErrTransportClosed))
}
