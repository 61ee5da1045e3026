// Package config holds the in-memory image of the controller's
// persistent settings. The image is loaded once at boot, from the NVM
// record or from the host-patchable defaults blob, and afterwards
// mutated only by set-variable messages from the host; persisting it is
// a separate, explicit save command.
package config

// Capacity limits. These size the boot-time arena; exceeding them needs
// a firmware rebuild, not a config change.
const (
	MaxOutPorts   = 128
	MaxButtons    = 48
	MaxIRCommands = 16
)

// PinID is a GPIO pin in the controller's private 8-bit encoding:
// (port << 5) | pin. 0xff means not connected.
type PinID byte

// NC is the not-connected pin value.
const NC PinID = 0xff

func MakePin(port, pin int) PinID {
	return PinID(port<<5 | pin&0x1f)
}

func (p PinID) Connected() bool { return p != NC }
func (p PinID) Port() int       { return int(p) >> 5 }
func (p PinID) Pin() int        { return int(p) & 0x1f }

// Output port types.
const (
	PortDisabled = iota
	PortGPIOPWM
	PortGPIODigital
	PortTLC5940
	PortHC595
	PortVirtual
	PortTLC59116
)

// Output port flags.
const (
	PortActiveLow    = 0x01 // invert the level sense at the pin
	PortNoisemaker   = 0x02 // inhibited during night mode
	PortGamma        = 0x04 // perceptual gamma correction
	PortFlipperLogic = 0x08 // full-power window then clamped hold
	PortChimeLogic   = 0x10 // minimum/maximum on-time window
)

// Output describes one output port slot. Params is the parameter byte
// for whichever of the timed filters the flags select.
type Output struct {
	Type   byte
	Pin    byte // PinID for GPIO types, chain index for chip types
	Flags  byte
	Params byte
}

// Button key types.
const (
	KeyNone = iota
	KeyJoystick
	KeyKeyboard
	KeyModifier
	KeyMedia
	KeySpecial
)

// Special button codes (key type KeySpecial).
const (
	SpecialNightModeMomentary = 0x01
	SpecialNightModeToggle    = 0x02
)

// Button flags.
const (
	ButtonPulse = 0x01 // report edges as momentary keystrokes
)

// Button describes one button slot, including the alternate meaning
// used while the shift button is held and the IR command slots fired on
// press.
type Button struct {
	Pin       PinID
	Type      byte
	Val       byte
	Flags     byte
	IR        byte // IR command slot, 0 = none
	ShiftType byte
	ShiftVal  byte
	ShiftIR   byte
}

// ShiftedMeaning reports whether the button has an alternate meaning
// while shifted. The night-mode toggle counts: toggling it is the
// shifted action even though it emits no key.
func (b *Button) ShiftedMeaning() bool {
	return b.ShiftType != KeyNone || b.ShiftIR != 0 ||
		(b.Type == KeySpecial && b.Val == SpecialNightModeToggle)
}

// Shift button modes.
const (
	// ShiftOrKey: the shift button emits its own key only when
	// released without any shifted button having been used.
	ShiftOrKey = 0
	// ShiftAndKey: the shift button always emits its own key and
	// shifts at the same time.
	ShiftAndKey = 1
)

// IRCommand is one learned or preprogrammed IR code slot.
type IRCommand struct {
	Protocol byte
	Flags    byte // bit 0: fire on TV-ON; bit 1: use dittos
	Code     uint32
}

// Plunger sensor types (config variable 5).
const (
	PlungerNone = iota
	PlungerTSL1410R
	_ // TSL1410R parallel, never implemented
	PlungerTSL1412S
	_ // TSL1412S parallel, never implemented
	PlungerPot
	PlungerTSL1401CL
	_
	PlungerTCD1103
)

type Config struct {
	// USB identity.
	USBVendorID  uint16
	USBProductID uint16
	// Unit number for DOF, nominal 1-16.
	UnitNo byte

	JoystickEnabled bool

	// Accelerometer mounting orientation and dynamic range selector.
	Orientation byte
	AccelRange  byte

	Plunger struct {
		Enabled    bool
		SensorType byte
		SensorPin  [4]PinID
		Cal        struct {
			Btn      PinID
			LED      PinID
			Zero     uint16
			Max      uint16
			TRelease byte // release traversal time, ms
		}
		AutoZero struct {
			Flags    byte
			TSeconds byte
		}
		ZBLaunch struct {
			Port         byte   // output port carrying the DOF signal, 0 = off
			Btn          byte   // button "pressed" on launch
			PushDistance uint16 // forward push threshold, 1/1000"
		}
	}

	TVON struct {
		StatusPin PinID
		LatchPin  PinID
		RelayPin  PinID
		DelayTime uint16 // 10ms units
	}

	TLC5940 struct {
		NChips byte
		Sin    PinID
		SClk   PinID
		XLat   PinID
		Blank  PinID
		GSClk  PinID
	}

	HC595 struct {
		NChips byte
		Sin    PinID
		SClk   PinID
		Latch  PinID
		Ena    PinID
	}

	TLC59116 struct {
		ChipMask uint16
		SDA      PinID
		SCL      PinID
		Reset    PinID
	}

	IR struct {
		SensorPin  PinID
		EmitterPin PinID
		Commands   [MaxIRCommands]IRCommand
	}

	NightMode struct {
		Btn   byte // button slot acting as the source, 0 = none
		Flags byte // bit 0: switch (level) rather than toggle (edge)
		Port  byte // indicator output port, 0 = none
	}

	ShiftButton struct {
		Idx  byte // button slot acting as shift, 0 = none
		Mode byte
	}

	DisconnectRebootTimeout byte // seconds, 0 = disabled

	Buttons [MaxButtons]Button
	Outputs [MaxOutPorts]Output
}

// Default calibration bounds, restored when a calibration session ends
// without usable data.
const (
	DefaultCalMax  = 65535
	DefaultCalZero = 65535 / 6
)

// SetFactoryDefaults resets the image to the values a fresh unit ships
// with.
func (c *Config) SetFactoryDefaults() {
	*c = Config{}
	// LedWiz-compatible identity for unit #1.
	c.USBVendorID = 0xfafa
	c.USBProductID = 0x00f0
	c.UnitNo = 1
	c.JoystickEnabled = true
	c.Plunger.Cal.Zero = DefaultCalZero
	c.Plunger.Cal.Max = DefaultCalMax
	for i := range c.Plunger.SensorPin {
		c.Plunger.SensorPin[i] = NC
	}
	c.Plunger.Cal.Btn = NC
	c.Plunger.Cal.LED = NC
	c.TVON.StatusPin = NC
	c.TVON.LatchPin = NC
	c.TVON.RelayPin = NC
	c.TLC5940.Sin = NC
	c.TLC5940.SClk = NC
	c.TLC5940.XLat = NC
	c.TLC5940.Blank = NC
	c.TLC5940.GSClk = NC
	c.HC595.Sin = NC
	c.HC595.SClk = NC
	c.HC595.Latch = NC
	c.HC595.Ena = NC
	c.TLC59116.SDA = NC
	c.TLC59116.SCL = NC
	c.TLC59116.Reset = NC
	c.IR.SensorPin = NC
	c.IR.EmitterPin = NC
	for i := range c.Buttons {
		c.Buttons[i].Pin = NC
	}
}

// NumOutputs returns the number of ports visible to the host: the
// ports up to the first disabled slot.
func (c *Config) NumOutputs() int {
	for i := range c.Outputs {
		if c.Outputs[i].Type == PortDisabled {
			return i
		}
	}
	return len(c.Outputs)
}
