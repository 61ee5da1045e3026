// Package buttons implements the cabinet button scanner: a 1kHz
// debounce tick over the configured input pins, the pulse-mode and
// shift-button state machines, virtual buttons, and the assembly of
// the joystick/keyboard/media-key input reports.
package buttons

import (
	"periph.io/x/conn/v3/gpio"

	"pincab.dev/config"
)

// Pulse-mode sub-states. A pulse-mode input represents a latched
// cabinet state (a coin door switch, say) that the host wants as a
// momentary keystroke on every edge: each transition holds the logical
// state on for a fixed pulse, then forces an equal logical-off gap
// before the next edge can fire.
const (
	pulseOff = iota
	pulseRising
	pulseOn
	pulseFalling
)

const pulseTimeUS = 200000

// Shift-button states for shift-OR-key mode.
const (
	shiftIdle = iota
	shiftDownUnused
	shiftDownUsed
	shiftKeyPulse
)

const shiftPulseUS = 50000

type buttonState struct {
	pin gpio.PinIn

	history byte // 5-bit debounce shift register
	phys    bool
	logical bool
	prev    bool

	pulseMode  bool
	pulseState int
	pulseTimer int32 // microseconds remaining in the current phase

	virtPress int
}

// Scanner owns the live state of every configured button.
type Scanner struct {
	cfg  *config.Config
	btns [config.MaxButtons]buttonState

	shiftState int
	shiftTimer int32

	lastProcess uint32
	haveLast    bool

	// Hooks into the rest of the core.
	SetNightMode    func(on bool)
	ToggleNightMode func()
	FireIR          func(slot byte)

	joy        uint32
	keyboard   [8]byte
	media      byte
	kbDirty    bool
	mediaDirty bool
}

// Pins maps a config PinID to an input pin; it returns nil for NC or
// unmapped pins.
type Pins func(p config.PinID) gpio.PinIn

// NewScanner builds the scanner from the config. Pins resolves pin
// assignments to hardware; buttons whose pin does not resolve become
// virtual-only slots.
func NewScanner(cfg *config.Config, pins Pins) *Scanner {
	s := &Scanner{cfg: cfg}
	for i := range s.btns {
		bc := &cfg.Buttons[i]
		b := &s.btns[i]
		if bc.Pin.Connected() && pins != nil {
			b.pin = pins(bc.Pin)
		}
		if bc.Flags&config.ButtonPulse != 0 {
			b.pulseMode = true
		}
	}
	return s
}

// Tick is the 1kHz scan: shift each pin's reading into its debounce
// history and update the physical state only when five consecutive
// identical samples appear. Runs in interrupt context; it touches
// nothing but the per-button history and physical state.
func (s *Scanner) Tick() {
	for i := range s.btns {
		b := &s.btns[i]
		if b.pin == nil {
			continue
		}
		bit := byte(0)
		// Buttons pull the line low when pressed.
		if b.pin.Read() == gpio.Low {
			bit = 1
		}
		b.history = (b.history<<1 | bit) & 0x1f
		switch b.history {
		case 0x1f:
			b.phys = true
		case 0x00:
			b.phys = false
		}
	}
}

// VirtualPress adjusts the virtual-press refcount of a button slot
// (0-based). Callers increment on press and decrement on release; the
// logical state is on while the refcount is positive or the physical
// state is on.
func (s *Scanner) VirtualPress(idx int, on bool) {
	if idx < 0 || idx >= len(s.btns) {
		return
	}
	if on {
		s.btns[idx].virtPress++
	} else if s.btns[idx].virtPress > 0 {
		s.btns[idx].virtPress--
	}
}

// SetPhysical forces a button's debounced physical state. Test and
// simulator entry point standing in for Tick.
func (s *Scanner) SetPhysical(idx int, on bool) {
	if idx >= 0 && idx < len(s.btns) {
		s.btns[idx].phys = on
	}
}

// shiftEngaged reports whether buttons should use their shifted
// meaning right now.
func (s *Scanner) shiftEngaged() bool {
	idx := int(s.cfg.ShiftButton.Idx)
	if idx == 0 {
		return false
	}
	if s.cfg.ShiftButton.Mode == config.ShiftAndKey {
		return s.effective(idx - 1)
	}
	return s.shiftState == shiftDownUnused || s.shiftState == shiftDownUsed
}

// effective is a button's raw on state: physical or virtually pressed.
func (s *Scanner) effective(i int) bool {
	return s.btns[i].phys || s.btns[i].virtPress > 0
}

// Process advances the logical state machines and rebuilds the input
// reports. Called once per main-loop iteration.
func (s *Scanner) Process(now uint32) {
	var dt int32
	if s.haveLast {
		dt = int32(now - s.lastProcess)
	}
	s.lastProcess = now
	s.haveLast = true

	shiftIdx := int(s.cfg.ShiftButton.Idx) // 1-based, 0 = none

	// Logical states.
	for i := range s.btns {
		b := &s.btns[i]
		on := s.effective(i)
		if !b.pulseMode {
			b.logical = on
			continue
		}
		if b.pulseTimer > -pulseTimeUS {
			b.pulseTimer -= dt
		}
		switch b.pulseState {
		case pulseOff:
			b.logical = false
			if on && b.pulseTimer <= 0 {
				b.pulseState = pulseRising
				b.pulseTimer = pulseTimeUS
				b.logical = true
			}
		case pulseRising:
			b.logical = true
			if b.pulseTimer <= 0 {
				// Carry the expiry remainder into the gap so the
				// pulse-plus-gap cadence holds whatever the poll
				// jitter.
				b.pulseState = pulseOn
				b.pulseTimer += pulseTimeUS
				b.logical = false
			}
		case pulseOn:
			b.logical = false
			if !on && b.pulseTimer <= 0 {
				b.pulseState = pulseFalling
				b.pulseTimer = pulseTimeUS
				b.logical = true
			}
		case pulseFalling:
			b.logical = true
			if b.pulseTimer <= 0 {
				b.pulseState = pulseOff
				b.pulseTimer += pulseTimeUS
				b.logical = false
			}
		}
	}

	// Shift-OR-key state machine: the shift button's own key fires
	// only if the hold involved no shifted button.
	if shiftIdx > 0 && s.cfg.ShiftButton.Mode == config.ShiftOrKey {
		if s.shiftTimer > 0 {
			s.shiftTimer -= dt
		}
		down := s.effective(shiftIdx - 1)
		switch s.shiftState {
		case shiftIdle:
			if down {
				s.shiftState = shiftDownUnused
			}
		case shiftDownUnused:
			if s.shiftedButtonPressed(shiftIdx - 1) {
				s.shiftState = shiftDownUsed
			} else if !down {
				s.shiftState = shiftKeyPulse
				s.shiftTimer = shiftPulseUS
			}
		case shiftDownUsed:
			if !down {
				s.shiftState = shiftIdle
			}
		case shiftKeyPulse:
			if s.shiftTimer <= 0 {
				s.shiftState = shiftIdle
			}
		}
	}

	s.buildReports(shiftIdx)

	// Edge-triggered side effects: IR commands and night-mode
	// switching, on the logical rising edge with the meaning in
	// effect at that moment.
	shifted := s.shiftEngaged()
	for i := range s.btns {
		b := &s.btns[i]
		rising := b.logical && !b.prev
		falling := !b.logical && b.prev
		b.prev = b.logical
		if i == shiftIdx-1 && s.cfg.ShiftButton.Mode == config.ShiftOrKey {
			continue
		}
		typ, val, ir := s.meaning(i, shifted)
		if rising && ir != 0 && s.FireIR != nil {
			s.FireIR(ir)
		}
		if typ == config.KeySpecial {
			switch val {
			case config.SpecialNightModeMomentary:
				if rising && s.ToggleNightMode != nil {
					s.ToggleNightMode()
				}
			case config.SpecialNightModeToggle:
				// Toggle-switch wiring: night mode tracks the switch
				// level. In switch mode the config marks it with
				// flags bit 0; both behave as level here.
				if (rising || falling) && s.SetNightMode != nil {
					s.SetNightMode(b.logical)
				}
			}
		}
	}
}

// shiftedButtonPressed reports whether any button with a shifted
// meaning is currently down, other than the shift button itself.
func (s *Scanner) shiftedButtonPressed(shiftIdx int) bool {
	for i := range s.btns {
		if i == shiftIdx {
			continue
		}
		if s.effective(i) && s.cfg.Buttons[i].ShiftedMeaning() {
			return true
		}
	}
	return false
}

// meaning resolves a button's reported key: its shifted assignment
// while shift is engaged and one exists, its normal assignment
// otherwise.
func (s *Scanner) meaning(i int, shifted bool) (typ, val, ir byte) {
	bc := &s.cfg.Buttons[i]
	if shifted && bc.ShiftedMeaning() {
		return bc.ShiftType, bc.ShiftVal, bc.ShiftIR
	}
	return bc.Type, bc.Val, bc.IR
}

// buildReports composes the joystick bitmap, the keyboard report and
// the media-key byte from the logical states.
func (s *Scanner) buildReports(shiftIdx int) {
	var joy uint32
	var kb [8]byte
	var media byte
	nkeys := 0
	rollover := false

	shifted := s.shiftEngaged()
	addKey := func(code byte) {
		if code == 0 {
			return
		}
		for k := 0; k < nkeys; k++ {
			if kb[2+k] == code {
				return
			}
		}
		if nkeys == 6 {
			rollover = true
			return
		}
		kb[2+nkeys] = code
		nkeys++
	}
	emit := func(typ, val byte) {
		switch typ {
		case config.KeyJoystick:
			if val >= 1 && val <= 32 {
				joy |= 1 << (val - 1)
			}
		case config.KeyKeyboard:
			addKey(val)
		case config.KeyModifier:
			kb[0] |= val
		case config.KeyMedia:
			media |= mediaLUT[val]
		}
	}

	for i := range s.btns {
		b := &s.btns[i]
		if i == shiftIdx-1 && s.cfg.ShiftButton.Mode == config.ShiftOrKey {
			// Shift-OR-key: the shift button's own key appears only
			// during the release pulse.
			if s.shiftState == shiftKeyPulse {
				emit(s.cfg.Buttons[i].Type, s.cfg.Buttons[i].Val)
			}
			continue
		}
		if !b.logical {
			continue
		}
		typ, val, _ := s.meaning(i, shifted)
		emit(typ, val)
	}

	if rollover {
		// Phantom state: all six slots report ErrorRollOver.
		for k := 0; k < 6; k++ {
			kb[2+k] = 0x01
		}
	}

	s.joy = joy
	if kb != s.keyboard {
		s.keyboard = kb
		s.kbDirty = true
	}
	if media != s.media {
		s.media = media
		s.mediaDirty = true
	}
}

// Joystick returns the 32-bit joystick button bitmap.
func (s *Scanner) Joystick() uint32 {
	return s.joy
}

// Keyboard returns the keyboard report (modifier byte, reserved byte,
// six key slots) and whether it changed since the last call that
// consumed it.
func (s *Scanner) Keyboard() ([8]byte, bool) {
	d := s.kbDirty
	s.kbDirty = false
	return s.keyboard, d
}

// Media returns the media-key bitmap and whether it changed since the
// last call that consumed it.
func (s *Scanner) Media() (byte, bool) {
	d := s.mediaDirty
	s.mediaDirty = false
	return s.media, d
}

// Logical exposes a button's logical state, for the button status
// dump.
func (s *Scanner) Logical(idx int) bool {
	if idx < 0 || idx >= len(s.btns) {
		return false
	}
	return s.btns[idx].logical
}

// Physical exposes a button's debounced physical state.
func (s *Scanner) Physical(idx int) bool {
	if idx < 0 || idx >= len(s.btns) {
		return false
	}
	return s.btns[idx].phys
}

// mediaLUT maps USB consumer-page usage numbers to the bit positions
// the device's HID descriptor advertises in its one-byte media report.
var mediaLUT = func() [256]byte {
	var t [256]byte
	t[0xe2] = 0x01 // mute
	t[0xe9] = 0x02 // volume up
	t[0xea] = 0x04 // volume down
	t[0xb5] = 0x08 // next track
	t[0xb6] = 0x10 // previous track
	t[0xb7] = 0x20 // stop
	t[0xcd] = 0x40 // play/pause
	return t
}()
