// Package outputs implements the layered output-port stack. Every
// configured port is a chain of filter layers wrapped around a terminal
// driver, all sharing one contract: an 8-bit Set with no failure path.
// The composition is fixed at boot from the configuration; changing it
// requires a reboot.
package outputs

// LwOut is the uniform contract for every layer of a port stack.
type LwOut interface {
	Set(v byte)
}

// Clock returns the free-running microsecond timer. It is allowed to
// wrap; all timing comparisons are done in wrap-safe arithmetic.
type Clock func() uint32

// State is the shared context for all port stacks of one core: the
// night-mode inhibit, the ZB-launch shadow flag, the timer source, and
// the pending lists for the timed filter layers. All access is from the
// main loop; no locking.
type State struct {
	Now Clock

	// NightMode inhibits noisemaker ports while set.
	NightMode bool

	// ZBLaunch mirrors the level last written to the ZB-launch
	// monitor port, for the plunger reader to observe.
	ZBLaunch struct {
		On    bool
		Level byte
	}

	flipperPending []*FlipperLogic
	chimePending   []*ChimeLogic
}

func NewState(now Clock) *State {
	return &State{Now: now}
}

// Poll advances the timed filter layers. Called once per main-loop
// iteration.
func (s *State) Poll() {
	now := s.Now()
	// Entries remove themselves during the scan, so walk each list
	// from the back: a removal shifts only entries already visited.
	for i := len(s.flipperPending) - 1; i >= 0; i-- {
		s.flipperPending[i].poll(now)
	}
	for i := len(s.chimePending) - 1; i >= 0; i-- {
		s.chimePending[i].poll(now)
	}
}

func (s *State) registerFlipper(f *FlipperLogic) {
	for _, p := range s.flipperPending {
		if p == f {
			return
		}
	}
	s.flipperPending = append(s.flipperPending, f)
}

func (s *State) unregisterFlipper(f *FlipperLogic) {
	for i, p := range s.flipperPending {
		if p == f {
			s.flipperPending = append(s.flipperPending[:i], s.flipperPending[i+1:]...)
			return
		}
	}
}

func (s *State) registerChime(c *ChimeLogic) {
	for _, p := range s.chimePending {
		if p == c {
			return
		}
	}
	s.chimePending = append(s.chimePending, c)
}

func (s *State) unregisterChime(c *ChimeLogic) {
	for i, p := range s.chimePending {
		if p == c {
			s.chimePending = append(s.chimePending[:i], s.chimePending[i+1:]...)
			return
		}
	}
}

// Port is the host-visible face of one output port: the top of the
// filter chain plus the last commanded level, which is what the host
// protocol reads back and what gets re-applied when a global condition
// (night mode) changes.
type Port struct {
	out   LwOut
	level byte
}

func NewPort(out LwOut) *Port {
	return &Port{out: out}
}

// Set drives the port and records the commanded level.
func (p *Port) Set(v byte) {
	p.level = v
	p.out.Set(v)
}

// Level returns the last commanded (host-visible) level.
func (p *Port) Level() byte {
	return p.level
}

// Reapply pushes the last commanded level through the chain again.
func (p *Port) Reapply() {
	p.out.Set(p.level)
}
