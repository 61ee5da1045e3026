package buttons

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"

	"pincab.dev/config"
)

// fakePin is a settable input pin.
type fakePin struct {
	lvl gpio.Level
}

func (p *fakePin) String() string                         { return "btn" }
func (p *fakePin) Halt() error                            { return nil }
func (p *fakePin) Name() string                           { return "btn" }
func (p *fakePin) Number() int                            { return 0 }
func (p *fakePin) Function() string                       { return "In" }
func (p *fakePin) In(gpio.Pull, gpio.Edge) error          { return nil }
func (p *fakePin) Read() gpio.Level                       { return p.lvl }
func (p *fakePin) WaitForEdge(timeout time.Duration) bool { return false }
func (p *fakePin) Pull() gpio.Pull                        { return gpio.PullUp }
func (p *fakePin) DefaultPull() gpio.Pull                 { return gpio.PullUp }
func (p *fakePin) PWM(gpio.Duty, physic.Frequency) error  { return nil }
func (p *fakePin) Out(gpio.Level) error                   { return nil }

var _ pin.Pin = (*fakePin)(nil)

func testScanner(mod func(*config.Config)) (*Scanner, []*fakePin) {
	cfg := &config.Config{}
	cfg.SetFactoryDefaults()
	pins := make([]*fakePin, config.MaxButtons)
	for i := range pins {
		pins[i] = &fakePin{lvl: gpio.High} // pulled up, not pressed
	}
	for i := 0; i < 8; i++ {
		cfg.Buttons[i].Pin = config.MakePin(0, i+1)
		cfg.Buttons[i].Type = config.KeyJoystick
		cfg.Buttons[i].Val = byte(i + 1)
	}
	if mod != nil {
		mod(cfg)
	}
	s := NewScanner(cfg, func(p config.PinID) gpio.PinIn {
		return pins[p.Pin()-1]
	})
	return s, pins
}

func TestDebounce(t *testing.T) {
	s, pins := testScanner(nil)
	// A 4-tick glitch must not register.
	pins[0].lvl = gpio.Low
	for i := 0; i < 4; i++ {
		s.Tick()
	}
	if s.Physical(0) {
		t.Fatal("4-tick glitch registered")
	}
	s.Tick()
	if !s.Physical(0) {
		t.Fatal("5 stable ticks did not register")
	}
	// Release with a bounce in the middle.
	pins[0].lvl = gpio.High
	s.Tick()
	s.Tick()
	pins[0].lvl = gpio.Low
	s.Tick()
	pins[0].lvl = gpio.High
	s.Tick()
	s.Tick()
	if !s.Physical(0) {
		t.Fatal("bouncy release registered early")
	}
	for i := 0; i < 5; i++ {
		s.Tick()
	}
	if s.Physical(0) {
		t.Fatal("stable release not registered")
	}
}

func TestJoystickReport(t *testing.T) {
	s, pins := testScanner(nil)
	pins[2].lvl = gpio.Low
	for i := 0; i < 5; i++ {
		s.Tick()
	}
	s.Process(0)
	if s.Joystick() != 1<<2 {
		t.Errorf("joy = %#x", s.Joystick())
	}
}

func TestKeyboardReportAndRollover(t *testing.T) {
	s, _ := testScanner(func(c *config.Config) {
		for i := 0; i < 8; i++ {
			c.Buttons[i].Type = config.KeyKeyboard
			c.Buttons[i].Val = byte(4 + i) // 'a'...
		}
		c.Buttons[8].Type = config.KeyModifier
		c.Buttons[8].Val = 0x02 // left shift
	})
	s.SetPhysical(0, true)
	s.SetPhysical(1, true)
	s.SetPhysical(8, true)
	s.Process(0)
	kb, dirty := s.Keyboard()
	if !dirty {
		t.Fatal("keyboard not dirty after change")
	}
	if kb[0] != 0x02 {
		t.Errorf("modifiers %#x", kb[0])
	}
	if kb[2] != 4 || kb[3] != 5 || kb[4] != 0 {
		t.Errorf("keys % x", kb[2:])
	}
	if _, dirty := s.Keyboard(); dirty {
		t.Error("dirty flag not consumed")
	}

	// More than six keys: phantom state.
	for i := 0; i < 7; i++ {
		s.SetPhysical(i, true)
	}
	s.Process(10000)
	kb, dirty = s.Keyboard()
	if !dirty {
		t.Fatal("not dirty after rollover")
	}
	for k := 2; k < 8; k++ {
		if kb[k] != 0x01 {
			t.Fatalf("rollover slot %d = %#x", k, kb[k])
		}
	}
}

func TestMediaReport(t *testing.T) {
	s, _ := testScanner(func(c *config.Config) {
		c.Buttons[0].Type = config.KeyMedia
		c.Buttons[0].Val = 0xe9 // volume up
	})
	s.SetPhysical(0, true)
	s.Process(0)
	m, dirty := s.Media()
	if !dirty || m != 0x02 {
		t.Errorf("media %#x dirty %v", m, dirty)
	}
}

// Pulse mode: a latched switch becomes a keystroke per edge.
func TestPulseMode(t *testing.T) {
	s, _ := testScanner(func(c *config.Config) {
		c.Buttons[0].Flags = config.ButtonPulse
	})
	ms := func(n uint32) uint32 { return n * 1000 }
	s.SetPhysical(0, true)
	s.Process(0)
	if !s.Logical(0) {
		t.Fatal("no pulse on rising edge")
	}
	s.Process(ms(100))
	if !s.Logical(0) {
		t.Fatal("pulse ended early")
	}
	s.Process(ms(210))
	if s.Logical(0) {
		t.Fatal("pulse did not end after 200ms")
	}
	// Physical input still on; logical stays off until the next edge.
	s.Process(ms(410))
	if s.Logical(0) {
		t.Fatal("logical re-asserted without an edge")
	}
	// Falling edge: another pulse, but only after the 200ms gap.
	s.SetPhysical(0, false)
	s.Process(ms(415))
	if !s.Logical(0) {
		t.Fatal("no pulse on falling edge")
	}
	s.Process(ms(650))
	if s.Logical(0) {
		t.Fatal("falling pulse did not end")
	}
}

func TestPulseGapBlocksImmediateRetrigger(t *testing.T) {
	s, _ := testScanner(func(c *config.Config) {
		c.Buttons[0].Flags = config.ButtonPulse
	})
	s.SetPhysical(0, true)
	s.Process(0)
	// Edge falls during the rising pulse's trailing gap.
	s.SetPhysical(0, false)
	s.Process(250000)
	if s.Logical(0) {
		t.Fatal("falling pulse fired inside the gap")
	}
	s.Process(420000)
	if !s.Logical(0) {
		t.Fatal("falling pulse never fired after the gap")
	}
}

func TestVirtualButton(t *testing.T) {
	s, _ := testScanner(nil)
	s.VirtualPress(4, true)
	s.VirtualPress(4, true)
	s.Process(0)
	if !s.Logical(4) {
		t.Fatal("virtual press ignored")
	}
	s.VirtualPress(4, false)
	s.Process(5000)
	if !s.Logical(4) {
		t.Fatal("refcount 1 released the button")
	}
	s.VirtualPress(4, false)
	s.Process(10000)
	if s.Logical(4) {
		t.Fatal("refcount 0 still pressed")
	}
}

func TestShiftOrKey(t *testing.T) {
	s, _ := testScanner(func(c *config.Config) {
		c.ShiftButton.Idx = 1
		c.ShiftButton.Mode = config.ShiftOrKey
		c.Buttons[0].Type = config.KeyKeyboard
		c.Buttons[0].Val = 40 // the shift button's own key
		c.Buttons[1].Type = config.KeyJoystick
		c.Buttons[1].Val = 2
		c.Buttons[1].ShiftType = config.KeyJoystick
		c.Buttons[1].ShiftVal = 9
	})
	// Hold shift, press the shifted button: shifted meaning, and the
	// shift key itself never fires.
	s.SetPhysical(0, true)
	s.Process(0)
	kb, _ := s.Keyboard()
	if kb[2] != 0 {
		t.Fatal("shift key reported while held")
	}
	s.SetPhysical(1, true)
	s.Process(10000)
	if s.Joystick() != 1<<8 {
		t.Errorf("joy = %#x, want shifted button 9", s.Joystick())
	}
	s.SetPhysical(1, false)
	s.SetPhysical(0, false)
	s.Process(20000)
	kb, _ = s.Keyboard()
	if kb[2] != 0 {
		t.Error("used shift still emitted its key on release")
	}

	// Press and release shift alone: its own key pulses for 50ms.
	s.SetPhysical(0, true)
	s.Process(30000)
	s.SetPhysical(0, false)
	s.Process(40000)
	kb, _ = s.Keyboard()
	if kb[2] != 40 {
		t.Fatal("unused shift release did not emit its key")
	}
	s.Process(40000 + 60000)
	kb, _ = s.Keyboard()
	if kb[2] != 0 {
		t.Fatal("shift key pulse did not end")
	}
}

func TestShiftAndKey(t *testing.T) {
	s, _ := testScanner(func(c *config.Config) {
		c.ShiftButton.Idx = 1
		c.ShiftButton.Mode = config.ShiftAndKey
		c.Buttons[0].Type = config.KeyJoystick
		c.Buttons[0].Val = 1
		c.Buttons[1].Type = config.KeyJoystick
		c.Buttons[1].Val = 2
		c.Buttons[1].ShiftType = config.KeyJoystick
		c.Buttons[1].ShiftVal = 10
	})
	s.SetPhysical(0, true)
	s.SetPhysical(1, true)
	s.Process(0)
	// Both the shift button's own key and the shifted meaning fire.
	want := uint32(1<<0 | 1<<9)
	if s.Joystick() != want {
		t.Errorf("joy = %#x, want %#x", s.Joystick(), want)
	}
}

func TestNightModeButtons(t *testing.T) {
	var night bool
	s, _ := testScanner(func(c *config.Config) {
		c.Buttons[0].Type = config.KeySpecial
		c.Buttons[0].Val = config.SpecialNightModeMomentary
	})
	s.ToggleNightMode = func() { night = !night }
	s.SetPhysical(0, true)
	s.Process(0)
	if !night {
		t.Fatal("momentary press did not toggle")
	}
	// Held: no second toggle.
	s.Process(10000)
	if !night {
		t.Fatal("held button re-toggled")
	}
	s.SetPhysical(0, false)
	s.Process(20000)
	s.SetPhysical(0, true)
	s.Process(30000)
	if night {
		t.Fatal("second press did not toggle back")
	}
}

func TestIRFireOnPress(t *testing.T) {
	var fired []byte
	s, _ := testScanner(func(c *config.Config) {
		c.Buttons[0].IR = 3
	})
	s.FireIR = func(slot byte) { fired = append(fired, slot) }
	s.SetPhysical(0, true)
	s.Process(0)
	s.Process(10000)
	s.SetPhysical(0, false)
	s.Process(20000)
	if len(fired) != 1 || fired[0] != 3 {
		t.Errorf("fired %v", fired)
	}
}

func TestDebounceRateLimit(t *testing.T) {
	// Property: the debounced state changes at most once per 5-tick
	// window, whatever the input does.
	s, pins := testScanner(nil)
	flips := 0
	last := s.Physical(0)
	for i := 0; i < 1000; i++ {
		// Worst case: the input toggles every tick.
		if i%2 == 0 {
			pins[0].lvl = gpio.Low
		} else {
			pins[0].lvl = gpio.High
		}
		s.Tick()
		if s.Physical(0) != last {
			flips++
			last = s.Physical(0)
		}
	}
	if flips > 0 {
		t.Errorf("alternating input produced %d state changes", flips)
	}
}
