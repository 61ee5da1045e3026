package outputs

import "math"

// Invert flips the level sense for active-low wiring. It must be the
// innermost filter: every other layer assumes non-inverted semantics.
type Invert struct {
	Out LwOut
}

func (f *Invert) Set(v byte) {
	f.Out.Set(255 - v)
}

// Gamma8 is the perceptual gamma correction table for 8-bit outputs,
// round(255*(i/255)^2.8).
var Gamma8 = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = byte(math.Round(255 * math.Pow(float64(i)/255, 2.8)))
	}
	return t
}()

// Gamma12 is the same curve expanded to the TLC5940's 12-bit range.
var Gamma12 = func() [256]uint16 {
	var t [256]uint16
	for i := range t {
		t[i] = uint16(math.Round(4095 * math.Pow(float64(i)/255, 2.8)))
	}
	return t
}()

// Gamma applies the 8-bit gamma correction table.
type Gamma struct {
	Out LwOut
}

func (f *Gamma) Set(v byte) {
	f.Out.Set(Gamma8[v])
}

// Noisy marks a noisemaker port: while night mode is engaged it
// forwards zero unconditionally.
type Noisy struct {
	Out   LwOut
	State *State
}

func (f *Noisy) Set(v byte) {
	if f.State.NightMode {
		v = 0
	}
	f.Out.Set(v)
}

// ZBLaunchMonitor shadows the commanded level into the shared state for
// the plunger reader to observe, and passes the value through.
type ZBLaunchMonitor struct {
	Out   LwOut
	State *State
}

func (f *ZBLaunchMonitor) Set(v byte) {
	f.State.ZBLaunch.On = v != 0
	f.State.ZBLaunch.Level = v
	f.Out.Set(v)
}

// NightModeIndicator ignores the commanded level entirely and drives
// the output from the night-mode flag. Assigned to the special
// indicator port so a lamp can show the mode.
type NightModeIndicator struct {
	Out   LwOut
	State *State
}

func (f *NightModeIndicator) Set(byte) {
	if f.State.NightMode {
		f.Out.Set(255)
	} else {
		f.Out.Set(0)
	}
}
