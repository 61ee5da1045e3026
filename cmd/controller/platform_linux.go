//go:build linux

package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"pincab.dev/config"
	"pincab.dev/device"
	"pincab.dev/driver/tcd1103"
	"pincab.dev/driver/tsl14xx"
	"pincab.dev/outputs"
	"pincab.dev/proto"
)

// nativePlatform opens the Linux hardware: periph for GPIO/SPI/I²C and
// the USB gadget HID endpoints.
func nativePlatform(cfg *config.Config, now outputs.Clock) (*platform, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	hw := &linuxHardware{}
	var hid device.HID = device.NullHID{}
	if *serialDev == "" {
		g, err := openGadget()
		if err != nil {
			log.Printf("platform: %v (continuing without USB)", err)
		} else {
			hid = g
		}
	}
	led := gpioreg.ByName("LED0")
	return &platform{
		hw:  hw,
		hid: hid,
		sys: processSystem{},
		heartbeat: func(on bool) {
			if led == nil {
				return
			}
			lvl := gpio.Low
			if on {
				lvl = gpio.High
			}
			led.Out(lvl)
		},
	}, nil
}

type linuxHardware struct {
	spiPort spi.Port
	i2cBus  i2c.Bus
}

// pinName flattens the controller's port/pin encoding onto the host's
// GPIO namespace.
func pinName(p config.PinID) string {
	return fmt.Sprintf("GPIO%d", p.Port()*32+p.Pin())
}

func (h *linuxHardware) GPIOOut(p config.PinID) gpio.PinOut {
	if !p.Connected() {
		return nil
	}
	return gpioreg.ByName(pinName(p))
}

func (h *linuxHardware) GPIOIn(p config.PinID) gpio.PinIn {
	if !p.Connected() {
		return nil
	}
	pin := gpioreg.ByName(pinName(p))
	if pin == nil {
		return nil
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		log.Printf("platform: %s: %v", pinName(p), err)
		return nil
	}
	return pin
}

func (h *linuxHardware) ADC(p config.PinID) analog.PinADC {
	// No ADC on the stock host; potentiometer sensors need an
	// expansion converter.
	return nil
}

func (h *linuxHardware) SPI() spi.Port {
	if h.spiPort == nil {
		port, err := spireg.Open("")
		if err != nil {
			log.Printf("platform: spi: %v", err)
			return nil
		}
		h.spiPort = port
	}
	return h.spiPort
}

func (h *linuxHardware) I2C() i2c.Bus {
	if h.i2cBus == nil {
		bus, err := i2creg.Open("")
		if err != nil {
			log.Printf("platform: i2c: %v", err)
			return nil
		}
		h.i2cBus = bus
	}
	return h.i2cBus
}

// The cycle-accurate CCD acquisition paths need the MCU's DMA engine;
// on a Linux host the plunger runs only in simulation or from an
// analog expansion.
func (h *linuxHardware) TSLEngine() tsl14xx.Engine { return nil }
func (h *linuxHardware) TCDEngine() tcd1103.Engine { return nil }

// gadgetHID talks to the USB gadget function endpoints: hidg0 carries
// the joystick/vendor channel, hidg1 the keyboard, hidg2 the media
// keys.
type gadgetHID struct {
	js    *os.File
	kb    *os.File
	media *os.File
	up    bool
}

func openGadget() (*gadgetHID, error) {
	open := func(path string) (*os.File, error) {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
			f.Close()
			return nil, err
		}
		return f, nil
	}
	js, err := open("/dev/hidg0")
	if err != nil {
		return nil, fmt.Errorf("gadget: %w", err)
	}
	g := &gadgetHID{js: js, up: true}
	// The keyboard and media interfaces are optional: a
	// joystick-only descriptor set still works.
	if kb, err := open("/dev/hidg1"); err == nil {
		g.kb = kb
	}
	if m, err := open("/dev/hidg2"); err == nil {
		g.media = m
	}
	return g, nil
}

func (g *gadgetHID) ReadMsg(msg *[proto.MsgLen]byte) bool {
	var buf [proto.MsgLen]byte
	n, err := g.js.Read(buf[:])
	if err != nil || n < proto.MsgLen {
		return false
	}
	*msg = buf
	return true
}

func (g *gadgetHID) write(f *os.File, b []byte) bool {
	if f == nil {
		return true
	}
	_, err := f.Write(b)
	g.up = err == nil
	return g.up
}

func (g *gadgetHID) Send(r [proto.ReportLen]byte) bool {
	return g.write(g.js, r[:])
}

func (g *gadgetHID) SendKeyboard(r [8]byte) bool {
	return g.write(g.kb, r[:])
}

func (g *gadgetHID) SendMedia(keys byte) bool {
	return g.write(g.media, []byte{keys})
}

func (g *gadgetHID) Connected() bool {
	return g.up
}
