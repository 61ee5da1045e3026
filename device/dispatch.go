package device

import (
	"log"

	"pincab.dev/config"
	"pincab.dev/ledwiz"
	"pincab.dev/plunger"
	"pincab.dev/proto"
)

// Dispatch decodes and applies one 8-byte host message. Invalid input
// is normalized where a sensible default exists and ignored otherwise;
// nothing here is fatal.
func (c *Core) Dispatch(msg [proto.MsgLen]byte) {
	now := c.now()
	switch proto.Classify(msg[0]) {
	case proto.KindPBA:
		// Eight profile bytes for the ports at the rolling cursor.
		for i := 0; i < 8; i++ {
			c.setProfile(c.pbaIdx+i, proto.NormalizeProfile(msg[i]), now)
		}
		c.pbaIdx = (c.pbaIdx + 8) % 32

	case proto.KindSBA:
		c.applySBA(0, msg[1:5], msg[5], now)
		c.pbaIdx = 0

	case proto.KindSBX:
		group := int(msg[6])
		if group < ledwiz.NumBanks {
			c.applySBA(group, msg[1:5], msg[5], now)
		}

	case proto.KindPBX:
		group := int(msg[1])
		vals := proto.UnpackPBX(msg[2:8])
		for i, v := range vals {
			c.setProfile(group*8+i, v, now)
		}

	case proto.KindBulk:
		// Direct 8-bit brightness for seven ports. The LedWiz state
		// is synchronized so a later SBA/PBA behaves consistently.
		first := int(msg[0]-proto.MsgBulkMin) * 7
		for i := 0; i < 7; i++ {
			c.setLevel(first+i, msg[1+i])
		}

	case proto.KindSetVar:
		config.SetVar(c.cfg, msg[:])
		c.onConfigChange(msg[1])

	case proto.KindControl:
		c.control(msg, now)
	}
}

// setProfile updates one port's LedWiz profile byte and refreshes its
// physical output.
func (c *Core) setProfile(port int, v byte, now uint32) {
	if port < 0 || port >= len(c.ports) || port >= ledwiz.MaxOuts {
		return
	}
	c.eng.Val[port] = v
	c.eng.Refresh(port, now)
}

// setLevel drives one port directly with a full 8-bit level and syncs
// the LedWiz state to the nearest equivalent.
func (c *Core) setLevel(port int, v byte) {
	if port < 0 || port >= len(c.ports) || port >= ledwiz.MaxOuts {
		return
	}
	c.eng.On[port] = v != 0
	c.eng.Val[port] = ledwiz.ProfileForLevel(v)
	c.ports[port].Set(v)
}

// applySBA applies an SBA/SBX on/off-and-speed update to one bank.
func (c *Core) applySBA(bank int, mask []byte, speed byte, now uint32) {
	c.eng.Speed[bank] = ledwiz.ClampSpeed(speed)
	base := bank * ledwiz.BankSize
	for i := 0; i < ledwiz.BankSize; i++ {
		on := mask[i/8]&(1<<(i%8)) != 0
		if base+i < ledwiz.MaxOuts {
			c.eng.On[base+i] = on
		}
		c.eng.Refresh(base+i, now)
	}
}

// control handles the type-65 vendor control message.
func (c *Core) control(msg [proto.MsgLen]byte, now uint32) {
	switch msg[1] {
	case proto.CtlNop:

	case proto.CtlSetUnitNo:
		// Unit number arrives zero-based; nominal numbers are 1-16.
		c.cfg.UnitNo = msg[2]&0x0f + 1
		c.cfg.Plunger.Enabled = msg[3] != 0
		c.saveConfig(now, 2)

	case proto.CtlCalibrate:
		c.reader.BeginCalibration(now)

	case proto.CtlPixelDump:
		c.sensor.SetExtraIntegrationTime(uint32(msg[3]) * 100)
		c.queuePixelDump(msg[2]&0x01 != 0)

	case proto.CtlConfigQuery:
		flags := byte(0)
		if c.cfgLoaded {
			flags |= proto.ConfigFlagLoaded
		}
		c.queue(proto.Config(len(c.ports), c.cfg.Plunger.Cal.Zero, c.cfg.Plunger.Cal.Max, flags))

	case proto.CtlAllOff:
		c.allOff(now)

	case proto.CtlSaveConfig:
		c.saveConfig(now, uint32(msg[2]))

	case proto.CtlDeviceID:
		c.queue(proto.DeviceID(c.sys.DeviceID()))

	case proto.CtlNightMode:
		c.SetNightMode(msg[2] != 0)

	case proto.CtlVarQuery:
		var payload [proto.ReportLen - 2]byte
		payload[1] = msg[2] // variable ID
		payload[2] = msg[3] // array index
		config.GetVar(c.cfg, payload[:])
		c.queue(proto.Var(payload[:]))

	case proto.CtlTVRelay:
		c.tv.Relay(msg[2])

	case proto.CtlLearnIR:
		c.ir.BeginLearning(now)

	case proto.CtlButtonStatus:
		states := make([]bool, config.MaxButtons)
		for i := range states {
			states[i] = c.scanner.Physical(i)
		}
		c.queue(proto.Buttons(states))

	default:
		// Unknown subtypes are ignored, never fatal.
	}
}

// allOff restores the LedWiz power-on state: everything off, profile
// 48, speed 2.
func (c *Core) allOff(now uint32) {
	c.eng.State.Reset()
	c.pbaIdx = 0
	for i := range c.ports {
		c.eng.Refresh(i, now)
	}
}

// SetNightMode engages or disengages the night-mode inhibit and
// re-applies every port so noisemakers and the indicator lamp track
// the change.
func (c *Core) SetNightMode(on bool) {
	if c.st.NightMode == on {
		return
	}
	c.st.NightMode = on
	for _, p := range c.ports {
		p.Reapply()
	}
	if c.indicator != nil {
		c.indicator.Reapply()
	}
}

// onConfigChange gives live subsystems their dynamic-update
// notifications for the variables that take effect without a reboot.
func (c *Core) onConfigChange(varID byte) {
	switch varID {
	case 15:
		c.reader.RestoreCalibration()
	case 8:
		// ZB-launch settings are read live by the reader.
	}
}

// saveConfig persists the settings and schedules the optional reboot.
// A failed save sets the failure bit and cancels any reboot: rebooting
// into a config we failed to write would just lose the host's work.
func (c *Core) saveConfig(now uint32, rebootDelaySec uint32) {
	rec, err := config.MarshalNVM(c.cfg)
	if err == nil {
		err = c.store.Save(rec)
	}
	c.saveTime = now
	if err != nil {
		log.Printf("device: config save: %v", err)
		c.saveFailed = true
		c.saveOK = false
		return
	}
	c.saveOK = true
	c.saveFailed = false
	if rebootDelaySec > 0 {
		c.rebootAt = now + rebootDelaySec*1000000
	}
}

// queue appends a vendor reply for transmission from the main loop.
func (c *Core) queue(r [proto.ReportLen]byte) {
	c.txq = append(c.txq, r)
}

// queuePixelDump queues one full frame snapshot plus the two suffix
// reports. Non-imaging sensors send only the suffixes; with no sensor
// at all, nothing is sent.
func (c *Core) queuePixelDump(lowRes bool) {
	if _, isNull := c.sensor.(plunger.Null); isNull {
		return
	}
	var d plunger.Dump
	if img, ok := c.sensor.(plunger.Imager); ok {
		if dump, ok := img.DumpFrame(lowRes); ok {
			d = dump
		}
	}
	for i := 0; i < len(d.Pix); i += proto.PixelsPerReport {
		end := i + proto.PixelsPerReport
		if end > len(d.Pix) {
			end = len(d.Pix)
		}
		c.queue(proto.Pixels(i, d.Pix[i:end]))
	}
	edge := d.Edge
	if d.Pix == nil {
		edge = plunger.NoEdge
	}
	c.queue(proto.PixelsDoneStatus(edge, d.Reversed, d.AvgScanTime, d.ProcessTime))
	cal := c.cfg.Plunger.Cal
	c.queue(proto.PixelsDoneCal(cal.Zero, cal.Max, 0, cal.TRelease))
}
