package outputs

// Chime-logic states.
const (
	chimeOff = iota
	chimeMinOnLogicalOn
	chimeMinOnLogicalOff
	chimeBetweenMinMax
	chimePastMax
)

// chimeTimes is the 16-entry on-time table indexed by a parameter
// nibble, in microseconds. Entry 0 is a sentinel: no limit for the max
// field, no minimum for the min field.
var chimeTimes = [16]uint32{
	0, 1000, 2000, 5000, 10000, 20000, 40000, 80000,
	100000, 200000, 300000, 400000, 500000, 600000, 700000, 800000,
}

// ChimeLogic enforces a minimum and a maximum on-time per activation.
// The minimum protects solenoids from pulses too short to complete a
// stroke; the maximum protects them from a host that leaves the port
// stuck on. Between the two, the client level passes through.
type ChimeLogic struct {
	Out   LwOut
	State *State

	minOnUS uint32
	maxOnUS uint32 // 0 = no maximum

	state int
	start uint32
}

// NewChimeLogic decodes the parameter byte: low nibble indexes the
// minimum on-time, high nibble the maximum.
func NewChimeLogic(out LwOut, st *State, params byte) *ChimeLogic {
	return &ChimeLogic{
		Out:     out,
		State:   st,
		minOnUS: chimeTimes[params&0x0f],
		maxOnUS: chimeTimes[params>>4],
	}
}

func (c *ChimeLogic) Set(v byte) {
	switch c.state {
	case chimeOff:
		if v > 0 {
			c.Out.Set(v)
			c.start = c.State.Now()
			c.state = chimeMinOnLogicalOn
			c.State.registerChime(c)
		}
	case chimeMinOnLogicalOn:
		if v > 0 {
			c.Out.Set(v)
		} else {
			// Hold the output on through the minimum window.
			c.state = chimeMinOnLogicalOff
		}
	case chimeMinOnLogicalOff:
		if v > 0 {
			c.Out.Set(v)
			c.state = chimeMinOnLogicalOn
		}
	case chimeBetweenMinMax:
		if v > 0 {
			c.Out.Set(v)
		} else {
			c.Out.Set(0)
			c.state = chimeOff
			c.State.unregisterChime(c)
		}
	case chimePastMax:
		if v == 0 {
			c.Out.Set(0)
			c.state = chimeOff
		}
	}
}

func (c *ChimeLogic) poll(now uint32) {
	switch c.state {
	case chimeMinOnLogicalOn:
		if now-c.start >= c.minOnUS {
			if c.maxOnUS == 0 {
				c.state = chimePastMax
				c.State.unregisterChime(c)
			} else {
				c.state = chimeBetweenMinMax
			}
		}
	case chimeMinOnLogicalOff:
		if now-c.start >= c.minOnUS {
			c.Out.Set(0)
			c.state = chimeOff
			c.State.unregisterChime(c)
		}
	case chimeBetweenMinMax:
		if now-c.start >= c.maxOnUS {
			c.Out.Set(0)
			c.state = chimePastMax
			c.State.unregisterChime(c)
		}
	}
}
