package plunger

import (
	"periph.io/x/conn/v3/analog"
)

// Pot reads a linear-taper potentiometer (or any sensor presenting the
// position as a single analog voltage) through an ADC pin. The ADC
// does the quantizing; the driver only rescales the sample to the
// 16-bit raw range.
type Pot struct {
	pin analog.PinADC
	now func() uint32
}

func NewPot(pin analog.PinADC, now func() uint32) *Pot {
	return &Pot{pin: pin, now: now}
}

func (p *Pot) Init() {}

// Ready is always true: an ADC conversion is cheap enough to run at
// the polling rate.
func (p *Pot) Ready() bool { return true }

func (p *Pot) Read(r *Reading) bool {
	s, err := p.pin.Read()
	if err != nil {
		return false
	}
	min, max := p.pin.Range()
	span := int64(max.Raw) - int64(min.Raw)
	if span <= 0 {
		return false
	}
	v := int64(s.Raw) - int64(min.Raw)
	if v < 0 {
		v = 0
	}
	if v > span {
		v = span
	}
	r.Pos = uint16(v * 65535 / span)
	r.T = p.now()
	return true
}

func (p *Pot) SetExtraIntegrationTime(uint32) {}

func (p *Pot) AutoZero() {}
