package klipper

import (
	"bytes"
	"fmt"
)

// Frame layout: [len][seq][payload...][crc hi][crc lo][sync]
const (
	HeaderSize  = 2
	TrailerSize = 3
	FrameMin    = HeaderSize + TrailerSize
	FrameMax    = 64
	PayloadMax  = FrameMax - FrameMin

	posLen   = 0
	posSeq   = 1
	SyncByte = 0x7E
	DestBit  = 0x10
	SeqMask  = 0x0F
)

// Frame is one validated message block
type Frame struct {
	Seq     byte
	Payload []byte
}

// NextSeq returns the sequence number following seq
func NextSeq(seq byte) byte {
	return ((seq + 1) & SeqMask) | DestBit
}

// EncodeFrame wraps payload in a header and trailer
func EncodeFrame(seq byte, payload []byte) ([]byte, error) {
	n := FrameMin + len(payload)
	if n > FrameMax {
		return nil, fmt.Errorf("klipper: message too long: %d bytes (max %d)", n, FrameMax)
	}

	out := make([]byte, 0, n)
	out = append(out, byte(n), (seq&SeqMask)|DestBit)
	out = append(out, payload...)
	crc := CRC16(out)
	out = append(out, byte(crc>>8), byte(crc), SyncByte)
	return out, nil
}

// parser splits a byte stream into frames, resynchronizing on the sync
// byte after a corrupt block
type parser struct {
	buf    []byte
	synced bool
}

func newParser() *parser {
	return &parser{synced: true}
}

// feed appends data and returns every complete frame
func (p *parser) feed(data []byte) []Frame {
	p.buf = append(p.buf, data...)

	var frames []Frame
	for len(p.buf) > 0 {
		if !p.synced {
			i := bytes.IndexByte(p.buf, SyncByte)
			if i < 0 {
				p.buf = p.buf[:0]
				break
			}
			p.buf = p.buf[i+1:]
			p.synced = true
			continue
		}

		if p.buf[0] == SyncByte {
			p.buf = p.buf[1:]
			continue
		}
		if len(p.buf) < FrameMin {
			break
		}

		n := int(p.buf[posLen])
		if n < FrameMin || n > FrameMax {
			p.synced = false
			continue
		}
		if len(p.buf) < n {
			break
		}
		if p.buf[n-1] != SyncByte {
			p.synced = false
			continue
		}
		crc := uint16(p.buf[n-3])<<8 | uint16(p.buf[n-2])
		if crc != CRC16(p.buf[:n-TrailerSize]) {
			p.synced = false
			continue
		}

		payload := make([]byte, n-FrameMin)
		copy(payload, p.buf[HeaderSize:n-TrailerSize])
		frames = append(frames, Frame{Seq: p.buf[posSeq], Payload: payload})
		p.buf = p.buf[n:]
	}

	// Keep the backing array from growing without bound
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return frames
}
