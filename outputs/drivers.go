package outputs

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"pincab.dev/driver/hc595"
	"pincab.dev/driver/tlc59116"
	"pincab.dev/driver/tlc5940"
)

// Virtual is a terminal driver that discards writes. Used for ports
// that exist only for the host protocol, like the ZB-launch signal.
type Virtual struct{}

func (Virtual) Set(byte) {}

// GPIODigital drives a plain on/off GPIO pin: off at zero, on for any
// nonzero level.
type GPIODigital struct {
	Pin gpio.PinOut
}

func (d *GPIODigital) Set(v byte) {
	lvl := gpio.Low
	if v != 0 {
		lvl = gpio.High
	}
	d.Pin.Out(lvl)
}

// pwmFreq is the PWM carrier for GPIO PWM outputs. High enough to be
// invisible on LEDs, low enough for optocoupled booster inputs.
const pwmFreq = 4 * physic.KiloHertz

// GPIOPWM drives a hardware-PWM-capable GPIO pin with the level as duty
// cycle.
//
// On the reference MCU, writing the PWM duty register more than once
// per PWM cycle silently drops all but the first write, and the usual
// workaround of resetting the counter truncates cycles and flickers
// during fades. Instead the driver accepts that writes can be lost and
// a Repoller re-issues the last value to every PWM port every ~15ms;
// re-issuing an unchanged value is idempotent, so the repolls are
// invisible.
type GPIOPWM struct {
	Pin  gpio.PinOut
	last gpio.Duty
}

func (d *GPIOPWM) Set(v byte) {
	d.last = gpio.Duty(uint64(v) * uint64(gpio.DutyMax) / 255)
	d.Pin.PWM(d.last, pwmFreq)
}

func (d *GPIOPWM) repoll() {
	d.Pin.PWM(d.last, pwmFreq)
}

// RepollInterval is how often the last duty value is re-issued to every
// GPIO PWM port.
const RepollInterval = 15000 // microseconds

// Repoller re-issues PWM levels on a fixed period. The hardware has at
// most ten PWM channels, so the walk is cheap.
type Repoller struct {
	pins []*GPIOPWM
	last uint32
}

func (r *Repoller) Add(p *GPIOPWM) {
	r.pins = append(r.pins, p)
}

// Poll re-issues every registered port's level if the repoll interval
// has elapsed.
func (r *Repoller) Poll(now uint32) {
	if now-r.last < RepollInterval {
		return
	}
	r.last = now
	for _, p := range r.pins {
		p.repoll()
	}
}

// TLC5940Out drives one channel of a TLC5940 daisy chain. The 8-bit
// level is expanded to the chip's 12-bit grayscale range, either
// linearly or through the high-resolution gamma table: applying gamma
// at 12 bits instead of through the 8-bit filter preserves the low end
// of the curve, where 8-bit quantization collapses the first several
// steps to zero.
type TLC5940Out struct {
	Chain *tlc5940.Chain
	Idx   int
	Gamma bool
}

func (o *TLC5940Out) Set(v byte) {
	if o.Gamma {
		o.Chain.Set(o.Idx, Gamma12[v])
	} else {
		o.Chain.Set(o.Idx, uint16(v)<<4|uint16(v)>>4)
	}
}

// HC595Out drives one bit of a 74HC595 daisy chain. Digital only.
type HC595Out struct {
	Chain *hc595.Chain
	Idx   int
}

func (o *HC595Out) Set(v byte) {
	o.Chain.Set(o.Idx, v != 0)
}

// TLC59116Out drives one channel of a TLC59116 I²C chain.
type TLC59116Out struct {
	Chain *tlc59116.Chain
	Idx   int
}

func (o *TLC59116Out) Set(v byte) {
	o.Chain.Set(o.Idx, v)
}
