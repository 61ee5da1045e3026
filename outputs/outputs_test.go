package outputs

import "testing"

type fakeOut struct {
	last byte
	log  []byte
}

func (o *fakeOut) Set(v byte) {
	o.last = v
	o.log = append(o.log, v)
}

type fakeClock struct {
	now uint32
}

func (c *fakeClock) state() *State {
	return NewState(func() uint32 { return c.now })
}

func TestInvert(t *testing.T) {
	out := &fakeOut{}
	f := &Invert{Out: out}
	f.Set(0)
	if out.last != 255 {
		t.Errorf("Set(0) -> %d, want 255", out.last)
	}
	f.Set(200)
	if out.last != 55 {
		t.Errorf("Set(200) -> %d, want 55", out.last)
	}
}

func TestGamma(t *testing.T) {
	if Gamma8[0] != 0 || Gamma8[255] != 255 {
		t.Errorf("gamma endpoints: %d %d", Gamma8[0], Gamma8[255])
	}
	for i := 1; i < 256; i++ {
		if Gamma8[i] < Gamma8[i-1] {
			t.Errorf("Gamma8 not monotone at %d", i)
		}
	}
	// Midpoint of a 2.8 gamma curve is far below linear.
	if Gamma8[128] > 50 {
		t.Errorf("Gamma8[128] = %d, want < 50", Gamma8[128])
	}
	if Gamma12[255] != 4095 {
		t.Errorf("Gamma12[255] = %d", Gamma12[255])
	}
}

func TestNoisy(t *testing.T) {
	clk := &fakeClock{}
	st := clk.state()
	out := &fakeOut{}
	f := &Noisy{Out: out, State: st}
	f.Set(100)
	if out.last != 100 {
		t.Errorf("day mode: %d", out.last)
	}
	st.NightMode = true
	f.Set(100)
	if out.last != 0 {
		t.Errorf("night mode: %d, want 0", out.last)
	}
}

func TestZBLaunchMonitor(t *testing.T) {
	clk := &fakeClock{}
	st := clk.state()
	out := &fakeOut{}
	f := &ZBLaunchMonitor{Out: out, State: st}
	f.Set(128)
	if !st.ZBLaunch.On || st.ZBLaunch.Level != 128 || out.last != 128 {
		t.Errorf("zb on: %+v out=%d", st.ZBLaunch, out.last)
	}
	f.Set(0)
	if st.ZBLaunch.On {
		t.Error("zb still on after Set(0)")
	}
}

func TestNightModeIndicator(t *testing.T) {
	clk := &fakeClock{}
	st := clk.state()
	out := &fakeOut{}
	f := &NightModeIndicator{Out: out, State: st}
	f.Set(77) // commanded level is ignored
	if out.last != 0 {
		t.Errorf("indicator: %d, want 0", out.last)
	}
	st.NightMode = true
	f.Set(0)
	if out.last != 255 {
		t.Errorf("indicator: %d, want 255", out.last)
	}
}

func TestFlipperLogic(t *testing.T) {
	clk := &fakeClock{}
	st := clk.state()
	out := &fakeOut{}
	// Low nibble 1 -> 100ms full power, high nibble 5 -> hold 85.
	f := NewFlipperLogic(out, st, 0x51)

	f.Set(255)
	if out.last != 255 {
		t.Errorf("full power: %d", out.last)
	}
	// Inside the window the level passes through.
	clk.now = 50000
	st.Poll()
	if out.last != 255 {
		t.Errorf("mid-window: %d", out.last)
	}
	f.Set(200)
	if out.last != 200 {
		t.Errorf("mid-window reset: %d", out.last)
	}
	// Window expires: clamp to hold power.
	clk.now = 100000
	st.Poll()
	if out.last != 85 {
		t.Errorf("hold: %d, want 85", out.last)
	}
	if len(st.flipperPending) != 0 {
		t.Error("still on pending list in HOLD")
	}
	// In hold, new writes are clamped.
	f.Set(255)
	if out.last != 85 {
		t.Errorf("hold clamp: %d", out.last)
	}
	f.Set(40)
	if out.last != 40 {
		t.Errorf("hold below clamp: %d", out.last)
	}
	f.Set(0)
	if out.last != 0 {
		t.Errorf("off: %d", out.last)
	}
}

func TestFlipperOffDuringFullPower(t *testing.T) {
	clk := &fakeClock{}
	st := clk.state()
	out := &fakeOut{}
	f := NewFlipperLogic(out, st, 0x51)
	f.Set(255)
	f.Set(0)
	if out.last != 0 {
		t.Errorf("off: %d", out.last)
	}
	if len(st.flipperPending) != 0 {
		t.Error("pending list not cleared")
	}
	// The next activation restarts the window.
	clk.now = 500000
	f.Set(255)
	if out.last != 255 {
		t.Errorf("reactivate: %d", out.last)
	}
}

// Scenario: chime-logic minimum on-time. min=5ms (index 3), max=100ms
// (index 8): params 0x83.
func TestChimeMinimumOn(t *testing.T) {
	clk := &fakeClock{}
	st := clk.state()
	out := &fakeOut{}
	c := NewChimeLogic(out, st, 0x83)

	c.Set(255)
	if out.last != 255 {
		t.Errorf("on: %d", out.last)
	}
	clk.now = 1000
	c.Set(0)
	if out.last != 255 {
		t.Errorf("held through minimum: %d", out.last)
	}
	clk.now = 2000
	st.Poll()
	if out.last != 255 {
		t.Errorf("t=2ms: %d, want still on", out.last)
	}
	clk.now = 6000
	st.Poll()
	if out.last != 0 {
		t.Errorf("t=6ms: %d, want off", out.last)
	}
	if len(st.chimePending) != 0 {
		t.Error("pending list not cleared")
	}
}

// Scenario: chime-logic maximum on-time.
func TestChimeMaximumOn(t *testing.T) {
	clk := &fakeClock{}
	st := clk.state()
	out := &fakeOut{}
	c := NewChimeLogic(out, st, 0x83)

	c.Set(255)
	clk.now = 50000
	st.Poll()
	if out.last != 255 {
		t.Errorf("t=50ms: %d, want on", out.last)
	}
	clk.now = 101000
	st.Poll()
	if out.last != 0 {
		t.Errorf("t=101ms: %d, want off", out.last)
	}
	// Past max: writes are ignored until the client turns it off.
	c.Set(255)
	if out.last != 0 {
		t.Errorf("past max set: %d, want 0", out.last)
	}
	c.Set(0)
	clk.now = 102000
	c.Set(255)
	if out.last != 255 {
		t.Errorf("reactivate after clear: %d", out.last)
	}
}

func TestChimeNoMaximum(t *testing.T) {
	clk := &fakeClock{}
	st := clk.state()
	out := &fakeOut{}
	// min=1ms, max=infinite (index 0).
	c := NewChimeLogic(out, st, 0x01)
	c.Set(200)
	clk.now = 2000
	st.Poll()
	if len(st.chimePending) != 0 {
		t.Error("no-maximum port still on pending list after minimum")
	}
	clk.now = 10000000
	st.Poll()
	if out.last != 200 {
		t.Errorf("10s in: %d, want still on", out.last)
	}
	c.Set(0)
	if out.last != 0 {
		t.Errorf("off: %d", out.last)
	}
}

func TestPortLevelTracking(t *testing.T) {
	out := &fakeOut{}
	p := NewPort(out)
	p.Set(123)
	if p.Level() != 123 || out.last != 123 {
		t.Errorf("level %d out %d", p.Level(), out.last)
	}
	out.last = 0
	p.Reapply()
	if out.last != 123 {
		t.Errorf("reapply: %d", out.last)
	}
}
