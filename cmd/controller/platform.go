package main

import (
	"log"
	"time"

	"pincab.dev/config"
	"pincab.dev/device"
	"pincab.dev/outputs"
)

// platform bundles what the core needs from the machine it runs on.
type platform struct {
	hw        device.Hardware
	hid       device.HID
	sys       device.System
	heartbeat func(on bool)
}

// openPlatform selects the hardware backing: full simulation, a bench
// serial transport over native hardware, or the USB HID gadget.
func openPlatform(cfg *config.Config, now outputs.Clock) (*platform, error) {
	if *simulate {
		return simPlatform(cfg, now)
	}
	p, err := nativePlatform(cfg, now)
	if err != nil {
		return nil, err
	}
	if *serialDev != "" {
		hid, err := openSerialHID(*serialDev)
		if err != nil {
			return nil, err
		}
		p.hid = hid
	}
	return p, nil
}

// haltLoop is the terminal state for an unbootable configuration: the
// port arena could not be built, and rebooting would reproduce the
// failure. Blink the heartbeat LED until the unit is reconfigured and
// reflashed.
func (p *platform) haltLoop(err error) {
	log.Printf("pincab: fatal: %v", err)
	on := false
	for {
		if p.heartbeat != nil {
			p.heartbeat(on)
		}
		on = !on
		time.Sleep(150 * time.Millisecond)
	}
}
