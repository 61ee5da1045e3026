// Package device ties the controller core together: the output-port
// stacks built from the configuration, the LedWiz engine, the plunger
// reader, the button scanner, the host command dispatcher, and the
// cooperative main loop that sequences them.
//
// Everything the core does not own - the USB transport, the
// accelerometer, the IR codec, the TV-power state machine, persistent
// storage - is reached through the narrow interfaces in this file, so
// a core can run against real hardware, a bench transport, or pure
// simulators.
package device

import (
	"pincab.dev/buttons"
	"pincab.dev/config"
	"pincab.dev/ledwiz"
	"pincab.dev/outputs"
	"pincab.dev/plunger"
	"pincab.dev/proto"
)

// HID is the USB transport: 8-byte output reports in, 14-byte input
// reports out, plus the separate keyboard and media-key interfaces of
// the composite device.
type HID interface {
	// ReadMsg fills msg with the next host message, without blocking.
	ReadMsg(msg *[proto.MsgLen]byte) bool
	// Send transmits a joystick/vendor report. It reports whether the
	// transport accepted it; the connection watchdog keys off this.
	Send(r [proto.ReportLen]byte) bool
	// SendKeyboard transmits a boot keyboard report.
	SendKeyboard(r [8]byte) bool
	// SendMedia transmits the media-key bitmap.
	SendMedia(keys byte) bool
	// Connected reports whether the host connection is up. While it
	// is down the core keeps running but disables external output
	// chips.
	Connected() bool
}

// Accelerometer is the nudge sensor, polled to drain its FIFO.
type Accelerometer interface {
	Poll()
	// Read returns the current X/Y readings scaled to the joystick
	// range.
	Read() (x, y int16)
}

// IR is the remote-control subsystem.
type IR interface {
	Poll(now uint32)
	// Send transmits the command in the given config slot (1-based).
	Send(slot byte)
	// BeginLearning enters learn mode; it times out on its own.
	BeginLearning(now uint32)
	Learning() bool
}

// TVPower is the delayed TV-power state machine with its external
// latch circuit.
type TVPower interface {
	Poll(now uint32)
	// State returns the sub-state for the status byte (3 bits).
	State() byte
	// Relay forces the relay: proto.TVRelayOff/On/Pulse.
	Relay(mode byte)
	// AllowsReboot reports whether the state machine is idle enough
	// for a software reboot to be safe.
	AllowsReboot() bool
}

// Store is the persistent-settings backend.
type Store interface {
	// Load returns the saved record, if any.
	Load() ([]byte, bool)
	// Save writes the record.
	Save(rec []byte) error
}

// System is the platform odds and ends: identity and reboot.
type System interface {
	// DeviceID returns the factory-unique CPU identifier.
	DeviceID() [10]byte
	// Reboot restarts the firmware. It does not return.
	Reboot()
}

// Null collaborators, for simulation and tests.

type NullHID struct{}

func (NullHID) ReadMsg(*[proto.MsgLen]byte) bool { return false }
func (NullHID) Send([proto.ReportLen]byte) bool  { return true }
func (NullHID) SendKeyboard([8]byte) bool        { return true }
func (NullHID) SendMedia(byte) bool              { return true }
func (NullHID) Connected() bool                  { return true }

type NullAccel struct{}

func (NullAccel) Poll()                {}
func (NullAccel) Read() (int16, int16) { return 0, 0 }

type NullIR struct{}

func (NullIR) Poll(uint32)          {}
func (NullIR) Send(byte)            {}
func (NullIR) BeginLearning(uint32) {}
func (NullIR) Learning() bool       { return false }

type NullTV struct{}

func (NullTV) Poll(uint32)        {}
func (NullTV) State() byte        { return 0 }
func (NullTV) Relay(byte)         {}
func (NullTV) AllowsReboot() bool { return true }

type NullStore struct{}

func (NullStore) Load() ([]byte, bool) { return nil, false }
func (NullStore) Save([]byte) error    { return nil }

type NullSystem struct{}

func (NullSystem) DeviceID() [10]byte { return [10]byte{} }
func (NullSystem) Reboot()            {}

// Flusher is the bulk-transmission side of a peripheral chip chain.
type Flusher interface {
	Flush() error
}

// Enabler is the global output-enable side of a chip chain, used to
// quiet externally powered chips while the USB host is away.
type Enabler interface {
	Enable(on bool) error
}

// Core is one controller instance. All of its process-wide state -
// the LedWiz arrays, the PBA cursor, night mode, the ZB-launch shadow,
// the filter pending lists - lives here, so tests can run several
// cores side by side.
type Core struct {
	cfg *config.Config
	now outputs.Clock

	st       *outputs.State
	ports    []*outputs.Port
	eng      *ledwiz.Engine
	repoller *outputs.Repoller
	// indicator is the host-visible port that carries the night-mode
	// indicator filter, or nil when none is configured.
	indicator *outputs.Port

	scanner *buttons.Scanner
	sensor  plunger.Sensor
	reader  *plunger.Reader

	hid   HID
	accel Accelerometer
	ir    IR
	tv    TVPower
	store Store
	sys   System

	flushers []Flusher
	enablers []Enabler

	// Dispatcher state.
	pbaIdx int

	// Outbound vendor-report queue (replies only; nothing here is
	// spontaneous).
	txq [][proto.ReportLen]byte

	// cfgLoaded is set once a host-supplied configuration (NVM or
	// defaults blob) has been applied.
	cfgLoaded bool

	// Save status, surfaced in the status byte for a window after a
	// save.
	saveOK     bool
	saveFailed bool
	saveTime   uint32

	// Scheduled reboot after a save command, in effect when
	// rebootAt != 0.
	rebootAt uint32

	// Watchdog bookkeeping.
	lastTxOK     uint32
	wasConnected bool

	// Loop cadence state.
	lastScanTick  uint32
	lastJoyReport uint32

	// Calibration button state.
	calBtn      func() bool
	calLED      func(on bool)
	calBtnDown  bool
	calBtnSince uint32

	// ZB-launch virtual button shadow.
	zbPressed bool

	// Heartbeat hook for the diagnostic LED.
	Heartbeat func(on bool)

	// JoyReportInterval is the joystick report cadence in
	// microseconds.
	JoyReportInterval uint32
}

// saveStatusWindowUS is how long the save-result bit stays visible.
const saveStatusWindowUS = 10000000

// calButtonHoldUS is the hold time that opens a calibration session.
const calButtonHoldUS = 2000000

// Ports exposes the host-visible output ports, for front panels and
// tests.
func (c *Core) Ports() []*outputs.Port {
	return c.ports
}

// LedWiz exposes the protocol state, for front panels and tests.
func (c *Core) LedWiz() *ledwiz.State {
	return &c.eng.State
}

// Scanner exposes the button scanner.
func (c *Core) Scanner() *buttons.Scanner {
	return c.scanner
}

// Reader exposes the plunger reader.
func (c *Core) Reader() *plunger.Reader {
	return c.reader
}

// NightMode reports the night-mode inhibit.
func (c *Core) NightMode() bool {
	return c.st.NightMode
}

// PBAIndex returns the PBA bank cursor.
func (c *Core) PBAIndex() int {
	return c.pbaIdx
}
