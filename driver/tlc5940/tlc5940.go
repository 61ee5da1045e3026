// Package tlc5940 implements a driver for daisy-chained TLC5940
// 16-channel, 12-bit PWM LED controllers.
//
// The chips share one serial data line: grayscale data is shifted
// through the whole chain (192 bits per chip, last chip first, MSB
// first) and latched into the grayscale registers by an XLAT pulse
// while BLANK is high. The grayscale counters run off a continuous
// GSCLK; a full grayscale cycle is 4096 GSCLK pulses.
//
// Datasheet: https://www.ti.com/lit/ds/symlink/tlc5940.pdf
package tlc5940

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// ChannelsPerChip is the number of outputs on one TLC5940.
const ChannelsPerChip = 16

// bytesPerChip is the size of one chip's grayscale frame: 16 channels
// of 12 bits, packed big-endian.
const bytesPerChip = ChannelsPerChip * 12 / 8

type Chain struct {
	conn   spi.Conn
	xlat   gpio.PinOut
	blank  gpio.PinOut
	nchips int

	// staged holds the packed grayscale frame for the whole chain,
	// ordered for the wire: last chip's channel 15 first.
	staged []byte
	dirty  bool
}

// New prepares a driver for a chain of nchips TLC5940s on the given SPI
// port. The GSCLK PWM source is the platform's business and is expected
// to be running before the first Flush.
func New(port spi.Port, xlat, blank gpio.PinOut, nchips int) (*Chain, error) {
	if nchips < 1 {
		return nil, fmt.Errorf("tlc5940: invalid chain length %d", nchips)
	}
	// 30MHz is the chip limit; stay well under it so marginal wiring
	// still works.
	conn, err := port.Connect(10*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("tlc5940: %w", err)
	}
	c := &Chain{
		conn:   conn,
		xlat:   xlat,
		blank:  blank,
		nchips: nchips,
		staged: make([]byte, nchips*bytesPerChip),
	}
	if err := xlat.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("tlc5940: %w", err)
	}
	// Hold BLANK high (outputs off) until the first frame is latched.
	if err := blank.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("tlc5940: %w", err)
	}
	return c, nil
}

// NumPorts returns the number of output channels on the chain.
func (c *Chain) NumPorts() int {
	return c.nchips * ChannelsPerChip
}

// Set stages the 12-bit grayscale level for the given chain-wide port
// index (0 = OUT0 on the first chip). The level reaches the hardware on
// the next Flush.
func (c *Chain) Set(port int, level uint16) {
	if port < 0 || port >= c.NumPorts() {
		return
	}
	if level > 0xfff {
		level = 0xfff
	}
	// Wire order: the last chip's data is shifted first, and within a
	// chip channel 15 comes first.
	chip := port / ChannelsPerChip
	ch := port % ChannelsPerChip
	pos := (c.nchips-1-chip)*ChannelsPerChip + (ChannelsPerChip - 1 - ch)
	bit := pos * 12
	idx := bit / 8
	if bit%8 == 0 {
		c.staged[idx] = byte(level >> 4)
		c.staged[idx+1] = c.staged[idx+1]&0x0f | byte(level&0xf)<<4
	} else {
		c.staged[idx] = c.staged[idx]&0xf0 | byte(level>>8)
		c.staged[idx+1] = byte(level)
	}
	c.dirty = true
}

// Flush transmits the staged frame and latches it during a BLANK
// interval. The frame is sent even when nothing changed, so that every
// grayscale cycle carries the same BLANK width; varying the width shows
// up as flicker on fades.
func (c *Chain) Flush() error {
	if err := c.conn.Tx(c.staged, nil); err != nil {
		return fmt.Errorf("tlc5940: shift grayscale: %w", err)
	}
	// Latch inside the blanking interval.
	if err := c.blank.Out(gpio.High); err != nil {
		return fmt.Errorf("tlc5940: blank: %w", err)
	}
	if err := c.xlat.Out(gpio.High); err != nil {
		return fmt.Errorf("tlc5940: xlat: %w", err)
	}
	if err := c.xlat.Out(gpio.Low); err != nil {
		return fmt.Errorf("tlc5940: xlat: %w", err)
	}
	if err := c.blank.Out(gpio.Low); err != nil {
		return fmt.Errorf("tlc5940: blank: %w", err)
	}
	c.dirty = false
	return nil
}

// Blank forces all outputs off at the hardware level without touching
// the staged levels. Used while the USB connection is down.
func (c *Chain) Blank(on bool) error {
	lvl := gpio.Low
	if on {
		lvl = gpio.High
	}
	if err := c.blank.Out(lvl); err != nil {
		return fmt.Errorf("tlc5940: blank: %w", err)
	}
	return nil
}
