//go:build rp2040 || rp2350

// Firmware that runs one L6470 at constant speed and prints its status
// once a second over USB serial.
package main

import (
	"time"

	"l6470/core"
	"l6470/protocol"
)

const (
	busID      = 0
	chipSelect = 5 // GPIO5
)

var profile = []core.Setting{
	{Register: protocol.MAX_SPEED, Values: []byte{0x02, 0xFF}},
	{Register: protocol.ACC, Values: []byte{0x00, 0x10}},
	{Register: protocol.DEC, Values: []byte{0x00, 0x10}},
	{Register: protocol.STEP_MODE, Values: []byte{0x23}},
	{Register: protocol.KVAL_HOLD, Values: []byte{0x3F}},
	{Register: protocol.KVAL_RUN, Values: []byte{0x4F}},
	{Register: protocol.KVAL_ACC, Values: []byte{0x4F}},
	{Register: protocol.KVAL_DEC, Values: []byte{0x4F}},
	{Register: protocol.OCD_TH, Values: []byte{0x0F}},
	{Register: protocol.STALL_TH, Values: []byte{0x7F}},
}

func main() {
	// Give USB CDC time to enumerate before the first println
	time.Sleep(2 * time.Second)

	dev, err := core.Open(picoOpener{}, core.DefaultSPIConfig(busID, chipSelect))
	if err != nil {
		halt("open", err)
	}

	if err := dev.ResetDevice(); err != nil {
		halt("reset", err)
	}
	if err := dev.Apply(profile); err != nil {
		halt("apply", err)
	}
	if err := dev.Run(protocol.Clockwise, []byte{0x00, 0x80, 0x00}); err != nil {
		halt("run", err)
	}

	for {
		time.Sleep(time.Second)

		status, err := dev.UpdateStatus()
		if err != nil {
			println("status:", err.Error())
			continue
		}
		println(status.String())

		if !status.OCD || !status.ThSD {
			// Active low: overcurrent or thermal shutdown
			println("fault, stopping")
			if err := dev.HardHiZ(); err != nil {
				println("hardhiz:", err.Error())
			}
			halt("fault", nil)
		}
	}
}

func halt(step string, err error) {
	if err != nil {
		println(step+":", err.Error())
	}
	for {
		time.Sleep(time.Hour)
	}
}
