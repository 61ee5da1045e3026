// Package ledwiz implements the LedWiz output protocol state and its
// flash-mode engine. The original LedWiz encodes both a static brightness
// and a periodic waveform selection in a single per-port profile byte:
// 0-49 are fixed brightness levels, 129-132 select one of four cyclic
// flash patterns whose rate is set per bank of 32 ports.
package ledwiz

// Port is the output sink for one LedWiz port. Writes never fail; the
// output stack absorbs hardware quirks.
type Port interface {
	Set(v byte)
}

const (
	// MaxOuts is the number of addressable output ports.
	MaxOuts = 128
	// BankSize is the number of ports sharing one flash speed.
	BankSize = 32
	// NumBanks is the number of flash-speed banks.
	NumBanks = MaxOuts / BankSize
)

// Profile byte ranges.
const (
	MaxBrightness = 49 // 48 and 49 both mean 100%
	FlashMin      = 129
	FlashMax      = 132
)

// Flash pattern selectors.
const (
	FlashSawtooth   = 129 // fade up / fade down
	FlashSquare     = 130 // on / off
	FlashOnRampDown = 131 // on 50% / fade down
	FlashRampUpOn   = 132 // fade up / on 50%
)

// DefaultProfile is the power-on profile value for every port, matching
// real LedWiz units: full brightness, output off.
const DefaultProfile = 48

// DefaultSpeed is the power-on flash speed for every bank.
const DefaultSpeed = 2

// State is the process-wide LedWiz protocol state: the on/off bit, the
// last profile byte for each port, and the flash speed for each bank.
type State struct {
	On    [MaxOuts]bool
	Val   [MaxOuts]byte
	Speed [NumBanks]byte
}

// Reset restores the power-on LedWiz state.
func (s *State) Reset() {
	for i := range s.On {
		s.On[i] = false
		s.Val[i] = DefaultProfile
	}
	for i := range s.Speed {
		s.Speed[i] = DefaultSpeed
	}
}

// ValidProfile reports whether v is a legal profile byte.
func ValidProfile(v byte) bool {
	return v <= MaxBrightness || (v >= FlashMin && v <= FlashMax)
}

// ClampSpeed normalizes a host-supplied flash speed to the legal 1-7 range.
func ClampSpeed(s byte) byte {
	if s < 1 {
		return 1
	}
	if s > 7 {
		return 7
	}
	return s
}

// ToDOF maps a static profile value 0-49 to an 8-bit PWM level. The
// mapping is linear over 0-48; 49 is accepted as a synonym for 48, which
// is undocumented but matches real LedWiz units.
var ToDOF = func() [MaxBrightness + 1]byte {
	var t [MaxBrightness + 1]byte
	for i := 0; i <= 48; i++ {
		t[i] = byte((i*255 + 24) / 48)
	}
	t[49] = 255
	return t
}()

// ProfileForLevel maps an 8-bit PWM level back to the nearest static
// profile value. Used to keep the LedWiz state consistent after an
// extended (full 8-bit) brightness write.
func ProfileForLevel(v byte) byte {
	return byte((int(v)*48 + 127) / 255)
}

// A flash cycle has 256 quanta; the quantum length is speed*250ms/256.
// To avoid a division per poll the reciprocal of the quantum length is
// precomputed in 8.24 fixed point, so that the current phase is
// (now_us * invQuantum[speed]) >> 24, mod 256.
var invQuantum = func() [8]uint64 {
	var t [8]uint64
	for speed := 1; speed <= 7; speed++ {
		quantumUS := uint64(speed) * 250000 / 256
		t[speed] = ((1 << 24) + quantumUS/2) / quantumUS
	}
	return t
}()

// Phase returns the current 8-bit flash phase for the given speed.
// now is the free-running microsecond timer; it is allowed to wrap.
func Phase(now uint32, speed byte) byte {
	return byte((uint64(now) * invQuantum[ClampSpeed(speed)]) >> 24)
}

// waveform computes one point of a flash pattern. Split out so the
// lookup tables can be built from it at init.
func waveform(mode, phase byte) byte {
	up := phase * 2
	down := byte(255-int(phase)) * 2
	switch mode {
	case FlashSawtooth:
		if phase < 128 {
			return up
		}
		return down
	case FlashSquare:
		if phase < 128 {
			return 255
		}
		return 0
	case FlashOnRampDown:
		if phase < 128 {
			return 255
		}
		return down
	case FlashRampUpOn:
		if phase < 128 {
			return up
		}
		return 255
	}
	return 0
}

// flashLUT[mode-FlashMin][phase] is the 8-bit intensity of the flash
// pattern at the given phase.
var flashLUT = func() [4][256]byte {
	var t [4][256]byte
	for mode := byte(FlashMin); mode <= FlashMax; mode++ {
		for phase := 0; phase < 256; phase++ {
			t[mode-FlashMin][phase] = waveform(mode, byte(phase))
		}
	}
	return t
}()

// Engine drives a set of output ports from the LedWiz state. The main
// loop calls Tick once per iteration; each tick refreshes the
// flash-mode ports of one bank, round-robin, so every armed port is
// re-evaluated every NumBanks ticks.
type Engine struct {
	State
	ports []Port
	bank  int
}

func NewEngine(ports []Port) *Engine {
	e := &Engine{ports: ports}
	e.State.Reset()
	return e
}

// NumPorts returns the number of attached ports.
func (e *Engine) NumPorts() int {
	return len(e.ports)
}

// Level computes the current output level for port i from the LedWiz
// state, without writing it.
func (e *Engine) Level(i int, now uint32) byte {
	if !e.On[i] {
		return 0
	}
	v := e.Val[i]
	if v >= FlashMin && v <= FlashMax {
		return flashLUT[v-FlashMin][Phase(now, e.Speed[i/BankSize])]
	}
	if v > MaxBrightness {
		// Reserved range; treated as full brightness.
		v = DefaultProfile
	}
	return ToDOF[v]
}

// Refresh pushes the current state of port i to the output stack.
// Called by the dispatcher after every SBA/PBA/SBX/PBX write.
func (e *Engine) Refresh(i int, now uint32) {
	if i < 0 || i >= len(e.ports) {
		return
	}
	e.ports[i].Set(e.Level(i, now))
}

// Tick re-evaluates the flash-mode ports of the next bank. Static
// brightness ports are untouched: they were written when their profile
// last changed and hold their level.
func (e *Engine) Tick(now uint32) {
	first := e.bank * BankSize
	e.bank = (e.bank + 1) % NumBanks
	for i := first; i < first+BankSize && i < len(e.ports); i++ {
		if e.On[i] && e.Val[i]&0x80 != 0 {
			e.ports[i].Set(flashLUT[e.Val[i]-FlashMin][Phase(now, e.Speed[i/BankSize])])
		}
	}
}
