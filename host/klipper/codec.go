package klipper

import "errors"

var (
	ErrInvalidVLQ     = errors.New("klipper: invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("klipper: buffer too small for VLQ")
)

// CRC16 is the CCITT checksum Klipper appends to every frame
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b = b ^ uint8(crc&0xFF)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// Encoder accumulates a message payload
type Encoder struct {
	buf []byte
}

// Int appends a signed VLQ, most significant group first
func (e *Encoder) Int(v int32) *Encoder {
	if !(-(1<<26) <= v && v < (3<<26)) {
		e.buf = append(e.buf, byte((v>>28)&0x7F)|0x80)
	}
	if !(-(1<<19) <= v && v < (3<<19)) {
		e.buf = append(e.buf, byte((v>>21)&0x7F)|0x80)
	}
	if !(-(1<<12) <= v && v < (3<<12)) {
		e.buf = append(e.buf, byte((v>>14)&0x7F)|0x80)
	}
	if !(-(1<<5) <= v && v < (3<<5)) {
		e.buf = append(e.buf, byte((v>>7)&0x7F)|0x80)
	}
	e.buf = append(e.buf, byte(v&0x7F))
	return e
}

// Uint appends an unsigned VLQ
func (e *Encoder) Uint(v uint32) *Encoder {
	return e.Int(int32(v))
}

// Bytes appends a length-prefixed byte string (%*s)
func (e *Encoder) Bytes(b []byte) *Encoder {
	e.Uint(uint32(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

// Payload returns the encoded bytes
func (e *Encoder) Payload() []byte {
	return e.buf
}

// DecodeVLQInt decodes a signed VLQ and advances data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, ErrBufferTooSmall
	}

	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7F
	if (c & 0x60) == 0x60 {
		v |= ^uint32(0x1F)
	}

	n := 1
	for c&0x80 != 0 {
		if len(*data) == 0 {
			return 0, ErrBufferTooSmall
		}
		if n == 5 {
			return 0, ErrInvalidVLQ
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = (v << 7) | (c & 0x7F)
		n++
	}

	return int32(v), nil
}

// DecodeVLQUint decodes an unsigned VLQ
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// DecodeVLQBytes decodes a length-prefixed byte string
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	length, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if len(*data) < int(length) {
		return nil, ErrBufferTooSmall
	}
	result := (*data)[:length]
	*data = (*data)[length:]
	return result, nil
}
