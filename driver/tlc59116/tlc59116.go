// Package tlc59116 implements a driver for TLC59116 16-channel I²C PWM
// LED controllers. Up to 14 chips can share one bus; a chip-mask config
// value selects which of the possible addresses are populated.
//
// Datasheet: https://www.ti.com/lit/ds/symlink/tlc59116.pdf
package tlc59116

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

// ChannelsPerChip is the number of outputs on one TLC59116.
const ChannelsPerChip = 16

// MaxChips is the number of selectable chip addresses. The four address
// pins give 16 combinations, two of which are reserved (all-call and
// software reset).
const MaxChips = 14

// baseAddr is the I²C address of the chip with all address pins low.
const baseAddr = 0x60

// Register map (subset).
const (
	regMode1    = 0x00
	regMode2    = 0x01
	regPWM0     = 0x02
	regLEDOUT0  = 0x14
	autoIncrPWM = 0xa0 // auto-increment over PWM registers only
)

type Chain struct {
	devs  [MaxChips]*i2c.Dev
	reset gpio.PinOut

	// levels mirrors the commanded PWM levels; writes are queued and
	// sent in bulk from the main loop.
	levels [MaxChips * ChannelsPerChip]byte
	dirty  [MaxChips]bool
}

// New initializes every chip selected by mask (bit n = address
// baseAddr+n) on the given bus. The RESET line, if connected, is
// released before configuration.
func New(bus i2c.Bus, reset gpio.PinOut, mask uint16) (*Chain, error) {
	c := &Chain{reset: reset}
	if reset != nil {
		if err := reset.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("tlc59116: reset: %w", err)
		}
	}
	for n := 0; n < MaxChips; n++ {
		if mask&(1<<n) == 0 {
			continue
		}
		dev := &i2c.Dev{Bus: bus, Addr: uint16(baseAddr + n)}
		c.devs[n] = dev
		// MODE1: normal mode, auto-increment enabled.
		if err := dev.Tx([]byte{regMode1, 0x00}, nil); err != nil {
			return nil, fmt.Errorf("tlc59116: init %#x: %w", baseAddr+n, err)
		}
		// All channels to individual PWM control.
		for r := 0; r < 4; r++ {
			if err := dev.Tx([]byte{byte(regLEDOUT0 + r), 0xaa}, nil); err != nil {
				return nil, fmt.Errorf("tlc59116: init %#x: %w", baseAddr+n, err)
			}
		}
	}
	return c, nil
}

// NumPorts returns the number of addressable channels across the whole
// possible chain. Unpopulated chips absorb writes silently.
func (c *Chain) NumPorts() int {
	return MaxChips * ChannelsPerChip
}

// Set queues a PWM level for the given chain-wide port index
// (0 = OUT0 of the chip at the base address).
func (c *Chain) Set(port int, v byte) {
	if port < 0 || port >= len(c.levels) {
		return
	}
	if c.levels[port] == v {
		return
	}
	c.levels[port] = v
	c.dirty[port/ChannelsPerChip] = true
}

// Flush writes the queued levels of every dirty chip as one
// auto-incremented burst per chip.
func (c *Chain) Flush() error {
	var firstErr error
	for n, dev := range c.devs {
		if dev == nil || !c.dirty[n] {
			continue
		}
		buf := make([]byte, 1+ChannelsPerChip)
		buf[0] = autoIncrPWM | regPWM0
		copy(buf[1:], c.levels[n*ChannelsPerChip:(n+1)*ChannelsPerChip])
		if err := dev.Tx(buf, nil); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("tlc59116: flush %#x: %w", baseAddr+n, err)
			}
			continue
		}
		c.dirty[n] = false
	}
	return firstErr
}
