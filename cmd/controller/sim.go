package main

import (
	"log"
	"os"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/spi"

	"pincab.dev/config"
	"pincab.dev/device"
	"pincab.dev/driver/tcd1103"
	"pincab.dev/driver/tsl14xx"
	"pincab.dev/outputs"
)

// simHardware backs a core with no hardware at all: pins resolve to
// nothing (ports degrade to virtual), and the plunger sensor runs on
// the CCD simulator so the full pipeline still exercises.
type simHardware struct {
	tsl *tsl14xx.Sim
}

func (h *simHardware) GPIOOut(config.PinID) gpio.PinOut { return nil }
func (h *simHardware) GPIOIn(config.PinID) gpio.PinIn   { return nil }
func (h *simHardware) ADC(config.PinID) analog.PinADC   { return nil }
func (h *simHardware) SPI() spi.Port                    { return nil }
func (h *simHardware) I2C() i2c.Bus                     { return nil }
func (h *simHardware) TSLEngine() tsl14xx.Engine        { return h.tsl }
func (h *simHardware) TCDEngine() tcd1103.Engine        { return nil }

// processSystem implements the identity/reboot contract with plain
// process facilities.
type processSystem struct{}

func (processSystem) DeviceID() [10]byte {
	var id [10]byte
	host, _ := os.Hostname()
	copy(id[:], host)
	return id
}

func (processSystem) Reboot() {
	// The service supervisor restarts us.
	os.Exit(0)
}

func simPlatform(cfg *config.Config, now outputs.Clock) (*platform, error) {
	sim := tsl14xx.NewSim()
	sim.Edge = 200
	p := &platform{
		hw:  &simHardware{tsl: sim},
		hid: device.NullHID{},
		sys: processSystem{},
		heartbeat: func(on bool) {
			// No LED to drive in simulation.
		},
	}
	if *serialDev != "" {
		hid, err := openSerialHID(*serialDev)
		if err != nil {
			return nil, err
		}
		p.hid = hid
	}
	log.Println("pincab: simulated hardware")
	return p, nil
}
