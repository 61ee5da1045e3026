// Package hc595 implements a bit-banged driver for daisy-chained
// 74HC595 8-bit shift registers, used for banks of digital-only
// outputs.
//
// The chain is wired SIN/SCLK/LATCH plus a separate ENA line routed
// through an inverting transistor, so that the registers' outputs stay
// disabled from power-on reset until the driver explicitly enables
// them. Without that, the registers wake up with random bits driving
// the attached coils.
package hc595

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// BitsPerChip is the number of outputs on one 74HC595.
const BitsPerChip = 8

type Chain struct {
	sin    gpio.PinOut
	sclk   gpio.PinOut
	latch  gpio.PinOut
	ena    gpio.PinOut
	nchips int

	// state is the shift-register image, one bit per output.
	state []byte
	dirty bool
}

func New(sin, sclk, latch, ena gpio.PinOut, nchips int) (*Chain, error) {
	if nchips < 1 {
		return nil, fmt.Errorf("hc595: invalid chain length %d", nchips)
	}
	c := &Chain{
		sin:    sin,
		sclk:   sclk,
		latch:  latch,
		ena:    ena,
		nchips: nchips,
		state:  make([]byte, nchips),
	}
	for _, p := range []gpio.PinOut{sin, sclk, latch} {
		if err := p.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("hc595: %w", err)
		}
	}
	// ENA is inverted in hardware: low = outputs disabled.
	if err := ena.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("hc595: %w", err)
	}
	// Clear the registers before anything can be enabled.
	if err := c.Update(true); err != nil {
		return nil, err
	}
	return c, nil
}

// NumPorts returns the number of outputs on the chain.
func (c *Chain) NumPorts() int {
	return c.nchips * BitsPerChip
}

// Set stages one output bit (0 = first output of the first chip). The
// bit reaches the hardware on the next Update.
func (c *Chain) Set(idx int, on bool) {
	if idx < 0 || idx >= c.NumPorts() {
		return
	}
	mask := byte(1) << (idx % BitsPerChip)
	old := c.state[idx/BitsPerChip]
	if on {
		c.state[idx/BitsPerChip] = old | mask
	} else {
		c.state[idx/BitsPerChip] = old &^ mask
	}
	if c.state[idx/BitsPerChip] != old {
		c.dirty = true
	}
}

// Update shifts the register image out and latches it, MSB chip first
// so that the first chip in the chain ends up holding the first byte.
// A no-op when nothing changed unless force is set.
func (c *Chain) Update(force bool) error {
	if !c.dirty && !force {
		return nil
	}
	for chip := c.nchips - 1; chip >= 0; chip-- {
		b := c.state[chip]
		for bit := BitsPerChip - 1; bit >= 0; bit-- {
			lvl := gpio.Low
			if b&(1<<bit) != 0 {
				lvl = gpio.High
			}
			if err := c.sin.Out(lvl); err != nil {
				return fmt.Errorf("hc595: data: %w", err)
			}
			if err := c.sclk.Out(gpio.High); err != nil {
				return fmt.Errorf("hc595: clock: %w", err)
			}
			if err := c.sclk.Out(gpio.Low); err != nil {
				return fmt.Errorf("hc595: clock: %w", err)
			}
		}
	}
	if err := c.latch.Out(gpio.High); err != nil {
		return fmt.Errorf("hc595: latch: %w", err)
	}
	if err := c.latch.Out(gpio.Low); err != nil {
		return fmt.Errorf("hc595: latch: %w", err)
	}
	c.dirty = false
	return nil
}

// Enable drives the ENA line. The line is inverted in hardware, so
// enable-high here means outputs on. Disabled outputs are how the
// controller keeps externally powered chips quiet while the USB host
// is absent.
func (c *Chain) Enable(on bool) error {
	lvl := gpio.Low
	if on {
		lvl = gpio.High
	}
	if err := c.ena.Out(lvl); err != nil {
		return fmt.Errorf("hc595: enable: %w", err)
	}
	return nil
}
