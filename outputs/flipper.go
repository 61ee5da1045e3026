package outputs

// Flipper-logic states.
const (
	flipperOff = iota
	flipperFullPower
	flipperHold
)

// FlipperLogic limits how long a solenoid can sit at full power. When
// the client turns the port on, the commanded level passes through
// unchanged for a configured full-power window; after that the level is
// clamped to a configured holding power until the client turns the port
// off. Named for flipper coils, which overheat within seconds at their
// kick power but hold fine at a fraction of it.
type FlipperLogic struct {
	Out   LwOut
	State *State

	fullPowerUS uint32
	holdPower   byte

	state   int
	start   uint32
	clientV byte
}

// NewFlipperLogic decodes the parameter byte: the low nibble selects
// the full-power time as 50ms*(1+n), the high nibble the holding power
// as 17*n on the 0-255 PWM scale.
func NewFlipperLogic(out LwOut, st *State, params byte) *FlipperLogic {
	return &FlipperLogic{
		Out:         out,
		State:       st,
		fullPowerUS: 50000 * (1 + uint32(params&0x0f)),
		holdPower:   17 * (params >> 4),
	}
}

func (f *FlipperLogic) Set(v byte) {
	f.clientV = v
	switch f.state {
	case flipperOff:
		if v > 0 {
			f.state = flipperFullPower
			f.start = f.State.Now()
			f.State.registerFlipper(f)
			f.Out.Set(v)
		}
		// Off-to-off writes still reach the hardware so a freshly
		// built stack starts in a known state.
		if v == 0 {
			f.Out.Set(0)
		}
	case flipperFullPower:
		if v == 0 {
			f.state = flipperOff
			f.State.unregisterFlipper(f)
			f.Out.Set(0)
		} else {
			// Still inside the full-power window; no timing change.
			f.Out.Set(v)
		}
	case flipperHold:
		if v == 0 {
			f.state = flipperOff
			f.Out.Set(0)
		} else {
			f.Out.Set(min(v, f.holdPower))
		}
	}
}

// poll is called from the shared pending list while the port is in its
// full-power window.
func (f *FlipperLogic) poll(now uint32) {
	if f.state != flipperFullPower {
		return
	}
	if now-f.start < f.fullPowerUS {
		return
	}
	f.state = flipperHold
	f.State.unregisterFlipper(f)
	f.Out.Set(min(f.clientV, f.holdPower))
}
