package protocol

import (
	"fmt"
	"strings"
)

// MotorStatus is the two-bit MOT_STATUS field
type MotorStatus uint8

const (
	Stopped       MotorStatus = 0b00
	Accelerating  MotorStatus = 0b01
	Decelerating  MotorStatus = 0b10
	ConstantSpeed MotorStatus = 0b11
)

func (m MotorStatus) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case Accelerating:
		return "acceleration"
	case Decelerating:
		return "deceleration"
	case ConstantSpeed:
		return "constant speed"
	default:
		return fmt.Sprintf("MotorStatus(%d)", uint8(m))
	}
}

// StatusFields holds the STATUS word split into its fields.
//
// Values are the raw bits. BUSY, UVLO, TH_WRN, TH_SD, OCD and the STEP_LOSS
// flags are active low on the chip, so false means the condition is present.
type StatusFields struct {
	HiZ        bool
	Busy       bool
	SwF        bool
	SwEvn      bool
	Dir        bool
	MotStatus  MotorStatus
	NotPerfCmd bool
	WrongCmd   bool
	UVLO       bool
	ThWrn      bool
	ThSD       bool
	OCD        bool
	StepLossA  bool
	StepLossB  bool
	SckMod     bool
}

// Byte positions in the two-byte GET_STATUS response
const (
	StatusHigh = 0 // First byte clocked out, STATUS bits 15..8
	StatusLow  = 1 // Second byte clocked out, STATUS bits 7..0
)

// Status field masks, grouped by response byte
const (
	// StatusLow byte
	STATUS_HIZ         = 0x01
	STATUS_BUSY        = 0x02
	STATUS_SW_F        = 0x04
	STATUS_SW_EVN      = 0x08
	STATUS_DIR         = 0x10
	STATUS_MOT_STATUS  = 0x60
	STATUS_NOTPERF_CMD = 0x80

	// StatusHigh byte
	STATUS_WRONG_CMD   = 0x01
	STATUS_UVLO        = 0x02
	STATUS_TH_WRN      = 0x04
	STATUS_TH_SD       = 0x08
	STATUS_OCD         = 0x10
	STATUS_STEP_LOSS_A = 0x20
	STATUS_STEP_LOSS_B = 0x40
	STATUS_SCK_MOD     = 0x80

	motStatusShift = 5
)

// DecodeStatus splits a GET_STATUS response into its fields
func DecodeStatus(raw []byte) (StatusFields, error) {
	if len(raw) != 2 {
		return StatusFields{}, &ValidationError{
			Target: "STATUS",
			Index:  -1,
			Reason: fmt.Sprintf("expected 2 bytes, got %d", len(raw)),
		}
	}
	lo, hi := raw[StatusLow], raw[StatusHigh]
	return StatusFields{
		HiZ:        lo&STATUS_HIZ != 0,
		Busy:       lo&STATUS_BUSY != 0,
		SwF:        lo&STATUS_SW_F != 0,
		SwEvn:      lo&STATUS_SW_EVN != 0,
		Dir:        lo&STATUS_DIR != 0,
		MotStatus:  MotorStatus((lo & STATUS_MOT_STATUS) >> motStatusShift),
		NotPerfCmd: lo&STATUS_NOTPERF_CMD != 0,
		WrongCmd:   hi&STATUS_WRONG_CMD != 0,
		UVLO:       hi&STATUS_UVLO != 0,
		ThWrn:      hi&STATUS_TH_WRN != 0,
		ThSD:       hi&STATUS_TH_SD != 0,
		OCD:        hi&STATUS_OCD != 0,
		StepLossA:  hi&STATUS_STEP_LOSS_A != 0,
		StepLossB:  hi&STATUS_STEP_LOSS_B != 0,
		SckMod:     hi&STATUS_SCK_MOD != 0,
	}, nil
}

// EncodeStatus builds the GET_STATUS response that decodes to s
func EncodeStatus(s StatusFields) []byte {
	var lo, hi byte
	set := func(b *byte, on bool, mask byte) {
		if on {
			*b |= mask
		}
	}
	set(&lo, s.HiZ, STATUS_HIZ)
	set(&lo, s.Busy, STATUS_BUSY)
	set(&lo, s.SwF, STATUS_SW_F)
	set(&lo, s.SwEvn, STATUS_SW_EVN)
	set(&lo, s.Dir, STATUS_DIR)
	lo |= (byte(s.MotStatus) << motStatusShift) & STATUS_MOT_STATUS
	set(&lo, s.NotPerfCmd, STATUS_NOTPERF_CMD)
	set(&hi, s.WrongCmd, STATUS_WRONG_CMD)
	set(&hi, s.UVLO, STATUS_UVLO)
	set(&hi, s.ThWrn, STATUS_TH_WRN)
	set(&hi, s.ThSD, STATUS_TH_SD)
	set(&hi, s.OCD, STATUS_OCD)
	set(&hi, s.StepLossA, STATUS_STEP_LOSS_A)
	set(&hi, s.StepLossB, STATUS_STEP_LOSS_B)
	set(&hi, s.SckMod, STATUS_SCK_MOD)

	raw := make([]byte, 2)
	raw[StatusHigh] = hi
	raw[StatusLow] = lo
	return raw
}

// Fields returns name/value pairs in datasheet order
func (s StatusFields) Fields() [][2]string {
	b := func(v bool) string {
		if v {
			return "1"
		}
		return "0"
	}
	return [][2]string{
		{"HiZ", b(s.HiZ)},
		{"BUSY", b(s.Busy)},
		{"SW_F", b(s.SwF)},
		{"SW_EVN", b(s.SwEvn)},
		{"DIR", b(s.Dir)},
		{"MOT_STATUS", fmt.Sprintf("%02b", uint8(s.MotStatus))},
		{"NOTPERF_CMD", b(s.NotPerfCmd)},
		{"WRONG_CMD", b(s.WrongCmd)},
		{"UVLO", b(s.UVLO)},
		{"TH_WRN", b(s.ThWrn)},
		{"TH_SD", b(s.ThSD)},
		{"OCD", b(s.OCD)},
		{"STEP_LOSS_A", b(s.StepLossA)},
		{"STEP_LOSS_B", b(s.StepLossB)},
		{"SCK_MOD", b(s.SckMod)},
	}
}

func (s StatusFields) String() string {
	var sb strings.Builder
	for i, f := range s.Fields() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(f[0])
		sb.WriteByte('=')
		sb.WriteString(f[1])
	}
	return sb.String()
}
