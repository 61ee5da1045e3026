package config

// Variable map: one declarative table drives both directions of the
// host protocol - set-variable messages (type 66) and variable queries
// (type 65 subtype 9) - so the two cannot drift apart. Each entry
// transfers its fields through a codec that either decodes message
// bytes into the config or encodes config fields into a reply, using
// the same offsets.

// codec moves values between a message buffer and config fields. The
// offsets are message-relative: data[0] is the message type byte,
// data[1] the variable ID, data[2] the array index for indexed
// variables.
type codec struct {
	data []byte
	get  bool
}

func (v *codec) b(p *byte, off int) {
	if v.get {
		v.data[off] = *p
	} else {
		*p = v.data[off]
	}
}

func (v *codec) flag(p *bool, off int) {
	if v.get {
		v.data[off] = 0
		if *p {
			v.data[off] = 1
		}
	} else {
		*p = v.data[off] != 0
	}
}

func (v *codec) u16(p *uint16, off int) {
	if v.get {
		v.data[off] = byte(*p)
		v.data[off+1] = byte(*p >> 8)
	} else {
		*p = uint16(v.data[off]) | uint16(v.data[off+1])<<8
	}
}

func (v *codec) u32(p *uint32, off int) {
	if v.get {
		v.data[off] = byte(*p)
		v.data[off+1] = byte(*p >> 8)
		v.data[off+2] = byte(*p >> 16)
		v.data[off+3] = byte(*p >> 24)
	} else {
		*p = uint32(v.data[off]) | uint32(v.data[off+1])<<8 |
			uint32(v.data[off+2])<<16 | uint32(v.data[off+3])<<24
	}
}

func (v *codec) pin(p *PinID, off int) {
	v.b((*byte)(p), off)
}

// visit runs the table entry for one variable in either direction.
// Unknown IDs do nothing; the caller treats them as silently ignored.
func visit(c *Config, v *codec) {
	switch v.data[1] {
	case 1:
		v.u16(&c.USBVendorID, 2)
		v.u16(&c.USBProductID, 4)
	case 2:
		v.b(&c.UnitNo, 2)
	case 3:
		v.flag(&c.JoystickEnabled, 2)
	case 4:
		v.b(&c.Orientation, 2)
	case 5:
		v.b(&c.Plunger.SensorType, 2)
	case 6:
		v.pin(&c.Plunger.SensorPin[0], 2)
		v.pin(&c.Plunger.SensorPin[1], 3)
		v.pin(&c.Plunger.SensorPin[2], 4)
		v.pin(&c.Plunger.SensorPin[3], 5)
	case 7:
		v.pin(&c.Plunger.Cal.Btn, 2)
		v.pin(&c.Plunger.Cal.LED, 3)
	case 8:
		v.b(&c.Plunger.ZBLaunch.Port, 2)
		v.b(&c.Plunger.ZBLaunch.Btn, 3)
		v.u16(&c.Plunger.ZBLaunch.PushDistance, 4)
	case 9:
		v.pin(&c.TVON.StatusPin, 2)
		v.pin(&c.TVON.LatchPin, 3)
		v.pin(&c.TVON.RelayPin, 4)
		v.u16(&c.TVON.DelayTime, 5)
	case 10:
		v.b(&c.TLC5940.NChips, 2)
		v.pin(&c.TLC5940.Sin, 3)
		v.pin(&c.TLC5940.SClk, 4)
		v.pin(&c.TLC5940.XLat, 5)
		v.pin(&c.TLC5940.Blank, 6)
		v.pin(&c.TLC5940.GSClk, 7)
	case 11:
		v.b(&c.HC595.NChips, 2)
		v.pin(&c.HC595.Sin, 3)
		v.pin(&c.HC595.SClk, 4)
		v.pin(&c.HC595.Latch, 5)
		v.pin(&c.HC595.Ena, 6)
	case 12:
		idx := int(v.data[2])
		if idx < 1 || idx > MaxButtons {
			return
		}
		b := &c.Buttons[idx-1]
		v.pin(&b.Pin, 3)
		v.b(&b.Type, 4)
		v.b(&b.Val, 5)
		v.b(&b.Flags, 6)
		v.b(&b.IR, 7)
	case 13:
		idx := int(v.data[2])
		switch {
		case idx >= 1 && idx <= MaxOutPorts:
			o := &c.Outputs[idx-1]
			v.b(&o.Type, 3)
			v.b(&o.Pin, 4)
			v.b(&o.Flags, 5)
			v.b(&o.Params, 6)
		case idx == 254:
			// Night-mode indicator lamp, not host-visible.
			v.b(&c.NightMode.Port, 3)
		}
	case 14:
		v.b(&c.DisconnectRebootTimeout, 2)
	case 15:
		v.u16(&c.Plunger.Cal.Zero, 2)
		v.u16(&c.Plunger.Cal.Max, 4)
		v.b(&c.Plunger.Cal.TRelease, 6)
	case 16:
		v.b(&c.AccelRange, 2)
	case 17:
		v.b(&c.NightMode.Btn, 2)
		v.b(&c.NightMode.Flags, 3)
		v.b(&c.NightMode.Port, 4)
	case 18:
		v.b(&c.ShiftButton.Idx, 2)
		v.b(&c.ShiftButton.Mode, 3)
	case 19:
		v.u16(&c.TLC59116.ChipMask, 2)
		v.pin(&c.TLC59116.SDA, 4)
		v.pin(&c.TLC59116.SCL, 5)
		v.pin(&c.TLC59116.Reset, 6)
	case 20:
		v.pin(&c.IR.SensorPin, 2)
		v.pin(&c.IR.EmitterPin, 3)
	case 21:
		idx := int(v.data[2])
		if idx < 1 || idx > MaxIRCommands {
			return
		}
		cmd := &c.IR.Commands[idx-1]
		// Protocol in the low six bits, flags in the top two.
		packed := cmd.Protocol&0x3f | cmd.Flags<<6
		v.b(&packed, 3)
		v.u32(&cmd.Code, 4)
		if !v.get {
			cmd.Protocol = packed & 0x3f
			cmd.Flags = packed >> 6
		}
	case 22:
		v.b(&c.Plunger.AutoZero.Flags, 2)
		v.b(&c.Plunger.AutoZero.TSeconds, 3)
	case 23:
		v.flag(&c.Plunger.Enabled, 2)
	}
}

// SetVar applies one type-66 message to the config. data is the full
// 8-byte message; data[1] is the variable ID. Unknown IDs are ignored.
// The change affects RAM only.
func SetVar(c *Config, data []byte) {
	if len(data) < 8 {
		return
	}
	visit(c, &codec{data: data})
}

// GetVar encodes the current value of a variable into out, using the
// same layout as the set message. out[1] must hold the variable ID and
// out[2] the array index for indexed variables.
func GetVar(c *Config, out []byte) {
	visit(c, &codec{data: out, get: true})
}
