package protocol

import "strings"

// L6470 register definitions
// Based on the L6470 datasheet, DocID16737 Rev 7, section 9.1

// WriteTiming describes when a register may be written
type WriteTiming uint8

const (
	ReadOnly     WriteTiming = iota // Never writable
	WriteAny                        // Writable at any time
	WriteStopped                    // Writable only while the motor is stopped
	WriteHiZ                        // Writable only while the bridges are in high impedance
)

func (w WriteTiming) String() string {
	switch w {
	case ReadOnly:
		return "R"
	case WriteAny:
		return "WR"
	case WriteStopped:
		return "WS"
	case WriteHiZ:
		return "WH"
	default:
		return "?"
	}
}

// RegisterSpec describes one on-chip parameter register.
// The masks are fixed at construction; copies never share storage.
type RegisterSpec struct {
	Name        string
	Address     byte // 0x01-0x19
	WriteTiming WriteTiming

	masks [3]byte // Valid bits of each byte, most significant byte first
	width uint8
}

func newRegister(name string, addr byte, timing WriteTiming, masks ...byte) RegisterSpec {
	r := RegisterSpec{Name: name, Address: addr, WriteTiming: timing, width: uint8(len(masks))}
	copy(r.masks[:], masks)
	return r
}

// Width returns the register size in bytes
func (r RegisterSpec) Width() int {
	return int(r.width)
}

// Writable reports whether SET_PARAM can ever succeed on the register
func (r RegisterSpec) Writable() bool {
	return r.WriteTiming != ReadOnly
}

// Mask returns the byte masks as a fresh slice
func (r RegisterSpec) Mask() []byte {
	m := make([]byte, r.width)
	copy(m, r.masks[:r.width])
	return m
}

// MaskAt returns the valid bits of byte i
func (r RegisterSpec) MaskAt(i int) byte {
	return r.masks[i]
}

func (r RegisterSpec) String() string {
	return r.Name
}

// Register catalog
var (
	ABS_POS    = newRegister("ABS_POS", 0x01, WriteStopped, 0x3F, 0xFF, 0xFF) // Current position (22 bit)
	EL_POS     = newRegister("EL_POS", 0x02, WriteStopped, 0x01, 0xFF)        // Electrical position (9 bit)
	MARK       = newRegister("MARK", 0x03, WriteAny, 0x3F, 0xFF, 0xFF)        // Mark position (22 bit)
	SPEED      = newRegister("SPEED", 0x04, ReadOnly, 0x0F, 0xFF, 0xFF)       // Current speed (20 bit)
	ACC        = newRegister("ACC", 0x05, WriteStopped, 0x0F, 0xFF)           // Acceleration (12 bit)
	DEC        = newRegister("DEC", 0x06, WriteStopped, 0x0F, 0xFF)           // Deceleration (12 bit)
	MAX_SPEED  = newRegister("MAX_SPEED", 0x07, WriteAny, 0x03, 0xFF)         // Maximum speed (10 bit)
	MIN_SPEED  = newRegister("MIN_SPEED", 0x08, WriteStopped, 0x1F, 0xFF)     // LSPD_OPT + minimum speed (13 bit)
	KVAL_HOLD  = newRegister("KVAL_HOLD", 0x09, WriteAny, 0xFF)               // Holding Kval
	KVAL_RUN   = newRegister("KVAL_RUN", 0x0A, WriteAny, 0xFF)                // Constant speed Kval
	KVAL_ACC   = newRegister("KVAL_ACC", 0x0B, WriteAny, 0xFF)                // Acceleration starting Kval
	KVAL_DEC   = newRegister("KVAL_DEC", 0x0C, WriteAny, 0xFF)                // Deceleration starting Kval
	INIT_SPEED = newRegister("INIT_SPEED", 0x0D, WriteHiZ, 0x3F, 0xFF)        // Intersect speed (14 bit)
	ST_SLP     = newRegister("ST_SLP", 0x0E, WriteHiZ, 0xFF)                  // Start slope
	FN_SLP_ACC = newRegister("FN_SLP_ACC", 0x0F, WriteHiZ, 0xFF)              // Acceleration final slope
	FN_SLP_DEC = newRegister("FN_SLP_DEC", 0x10, WriteHiZ, 0xFF)              // Deceleration final slope
	K_THERM    = newRegister("K_THERM", 0x11, WriteAny, 0x0F)                 // Thermal compensation factor
	ADC_OUT    = newRegister("ADC_OUT", 0x12, ReadOnly, 0x1F)                 // ADC output
	OCD_TH     = newRegister("OCD_TH", 0x13, WriteAny, 0x0F)                  // OCD threshold
	STALL_TH   = newRegister("STALL_TH", 0x14, WriteAny, 0x7F)                // STALL threshold
	FS_SPD     = newRegister("FS_SPD", 0x15, WriteAny, 0x03, 0xFF)            // Full-step speed (10 bit)
	STEP_MODE  = newRegister("STEP_MODE", 0x16, WriteHiZ, 0xFF)               // SYNC_EN, SYNC_SEL, STEP_SEL
	ALARM_EN   = newRegister("ALARM_EN", 0x17, WriteStopped, 0xFF)            // Alarm enable
	CONFIG     = newRegister("CONFIG", 0x18, WriteHiZ, 0xFF, 0xFF)            // IC configuration
	STATUS     = newRegister("STATUS", 0x19, ReadOnly, 0xFF, 0xFF)            // Status
)

// Registers lists the catalog in address order
var Registers = []RegisterSpec{
	ABS_POS, EL_POS, MARK, SPEED, ACC, DEC, MAX_SPEED, MIN_SPEED,
	KVAL_HOLD, KVAL_RUN, KVAL_ACC, KVAL_DEC, INIT_SPEED, ST_SLP, FN_SLP_ACC, FN_SLP_DEC,
	K_THERM, ADC_OUT, OCD_TH, STALL_TH, FS_SPD, STEP_MODE, ALARM_EN, CONFIG, STATUS,
}

// LookupRegister finds a register by name, ignoring case
func LookupRegister(name string) (RegisterSpec, error) {
	for _, r := range Registers {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return RegisterSpec{}, &ValidationError{Reason: "unknown register " + quote(name)}
}

// RegisterAt finds a register by address
func RegisterAt(addr byte) (RegisterSpec, bool) {
	for _, r := range Registers {
		if r.Address == addr {
			return r, true
		}
	}
	return RegisterSpec{}, false
}
