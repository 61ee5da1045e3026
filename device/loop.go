package device

import (
	"log"

	"pincab.dev/plunger"
	"pincab.dev/proto"
)

// Command-drain budget per loop iteration.
const cmdBudgetUS = 5000

// Button scan cadence: the debounce tick runs at 1kHz.
const scanTickUS = 1000

// RunOnce executes one iteration of the cooperative main loop. The
// step order is load-bearing: commands land before the flash tick so a
// PBA is fully applied before its ports are re-evaluated, chip flushes
// happen after every level source has run, and reports go out last
// with the freshest state.
func (c *Core) RunOnce() {
	now := c.now()

	// 1. Drain the host command queue, bounded.
	deadline := now + cmdBudgetUS
	var msg [proto.MsgLen]byte
	for c.hid.ReadMsg(&msg) {
		c.Dispatch(msg)
		if c.now()-deadline < 1<<31 { // now >= deadline, wrap-safe
			break
		}
	}

	// 2. IR subsystem.
	c.ir.Poll(now)

	// 3. TV-power state machine.
	c.tv.Poll(now)

	// 4. LedWiz flash engine, one bank per iteration.
	c.eng.Tick(now)

	// 5. GPIO-PWM re-poll.
	c.repoller.Poll(now)

	// 6. Timed output filters.
	c.st.Poll()

	// 7. Accelerometer FIFO.
	c.accel.Poll()

	// 8. Queued chip updates.
	for _, f := range c.flushers {
		if err := f.Flush(); err != nil {
			log.Printf("device: %v", err)
		}
	}

	// 9. Plunger calibration button and session timeout.
	c.pollCalibration(now)

	// 10. Plunger sensor.
	c.reader.Poll()

	// 11. ZB-launch virtual button.
	c.pollZBLaunch()

	// 12. Button logical states and report assembly. The debounce
	// tick itself runs at 1kHz, driven here when no hardware timer
	// owns it.
	if now-c.lastScanTick >= scanTickUS {
		c.lastScanTick = now
		c.scanner.Tick()
	}
	c.scanner.Process(now)

	// 13. Keyboard and media reports, on change only.
	if kb, dirty := c.scanner.Keyboard(); dirty {
		c.hid.SendKeyboard(kb)
	}
	if m, dirty := c.scanner.Media(); dirty {
		c.hid.SendMedia(m)
	}

	// 14. Joystick report on its configured cadence, or a queued
	// vendor reply in its place.
	// 15. Pixel dump chunks ride the same slot.
	c.sendReports(now)

	// 16. Heartbeat, connection management, watchdog.
	c.housekeeping(now)
}

// pollCalibration debounces the calibration button and runs the
// session lifecycle: a 2s hold opens a session, and a session commits
// after the 15s window.
func (c *Core) pollCalibration(now uint32) {
	if start, ok := c.reader.CalibrationStarted(); ok {
		if now-start >= plunger.SessionTimeoutUS {
			c.reader.EndCalibration()
			c.saveConfig(now, 0)
		}
		if c.calLED != nil {
			// Blink while calibrating.
			c.calLED(now/250000%2 == 0)
		}
		return
	}
	if c.calLED != nil {
		c.calLED(false)
	}
	down := c.calButtonDown()
	switch {
	case down && !c.calBtnDown:
		c.calBtnDown = true
		c.calBtnSince = now
	case down && now-c.calBtnSince >= calButtonHoldUS:
		c.reader.BeginCalibration(now)
		c.calBtnDown = false
	case !down:
		c.calBtnDown = false
	}
}

// SetCalibrationButton wires the dedicated calibration button and its
// indicator lamp.
func (c *Core) SetCalibrationButton(read func() bool, led func(on bool)) {
	c.calBtn = read
	c.calLED = led
}

func (c *Core) calButtonDown() bool {
	if c.calBtn == nil {
		return false
	}
	return c.calBtn()
}

// pollZBLaunch maintains the launch virtual button from the reader
// state.
func (c *Core) pollZBLaunch() {
	btn := int(c.cfg.Plunger.ZBLaunch.Btn)
	if btn == 0 {
		return
	}
	active := c.reader.LaunchActive()
	if active != c.zbPressed {
		c.zbPressed = active
		c.scanner.VirtualPress(btn-1, active)
	}
}

// statusByte aggregates the flag bits for the next joystick report.
func (c *Core) statusByte(now uint32) byte {
	var s byte
	if c.cfg.Plunger.Enabled && c.cfg.Plunger.SensorType != 0 {
		s |= proto.StatusPlunger
	}
	if c.st.NightMode {
		s |= proto.StatusNightMode
	}
	s |= (c.tv.State() << proto.StatusTVStateShift) & proto.StatusTVStateMask
	if c.ir.Learning() {
		s |= proto.StatusIRLearning
	}
	if c.saveOK && now-c.saveTime < saveStatusWindowUS {
		s |= proto.StatusSaveOK
	}
	return s
}

// sendReports emits at most one input report per iteration: queued
// vendor replies (including pixel dump chunks) take priority, then the
// joystick report on its cadence.
func (c *Core) sendReports(now uint32) {
	if len(c.txq) > 0 {
		if c.hid.Send(c.txq[0]) {
			c.txq = c.txq[1:]
			c.lastTxOK = now
		}
		return
	}
	if now-c.lastJoyReport < c.JoyReportInterval {
		return
	}
	x, y := c.accel.Read()
	r := proto.Joystick(c.statusByte(now), c.scanner.Joystick(), x, y, c.reader.Position())
	if c.hid.Send(r) {
		c.lastTxOK = now
		c.lastJoyReport = now
	}
}

// housekeeping runs the heartbeat, the output-enable gate tied to the
// USB connection, the scheduled post-save reboot, and the
// stuck-connection watchdog.
func (c *Core) housekeeping(now uint32) {
	if c.Heartbeat != nil {
		c.Heartbeat(now/500000%2 == 0)
	}

	// While the host is away, keep running for local port maintenance
	// but disable the external chips so separately powered outputs
	// can't fire on garbage.
	if conn := c.hid.Connected(); conn != c.wasConnected {
		c.wasConnected = conn
		for _, e := range c.enablers {
			if err := e.Enable(conn); err != nil {
				log.Printf("device: %v", err)
			}
		}
	}

	// Scheduled reboot after a save. Held, not dropped, while the TV
	// power sequencer is mid-cycle.
	if c.rebootAt != 0 && now-c.rebootAt < 1<<31 {
		if c.tv.AllowsReboot() {
			log.Printf("device: rebooting after config save")
			c.sys.Reboot()
			c.rebootAt = 0
		}
	}

	// Stuck-connection watchdog.
	if t := c.cfg.DisconnectRebootTimeout; t != 0 {
		if now-c.lastTxOK >= uint32(t)*1000000 && c.tv.AllowsReboot() {
			log.Printf("device: connection watchdog expired, rebooting")
			c.sys.Reboot()
			c.lastTxOK = now
		}
	}
}
