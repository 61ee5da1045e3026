package device

import (
	"testing"

	"pincab.dev/config"
	"pincab.dev/ledwiz"
	"pincab.dev/proto"
)

// testClock is the simulated microsecond timer.
type testClock struct {
	us uint32
}

func (t *testClock) now() uint32      { return t.us }
func (t *testClock) advance(d uint32) { t.us += d }

// fakeHID queues host messages and records transmitted reports.
type fakeHID struct {
	in        [][proto.MsgLen]byte
	reports   [][proto.ReportLen]byte
	keyboards [][8]byte
	media     []byte
	connected bool
	txFail    bool
}

func newFakeHID() *fakeHID {
	return &fakeHID{connected: true}
}

func (h *fakeHID) ReadMsg(msg *[proto.MsgLen]byte) bool {
	if len(h.in) == 0 {
		return false
	}
	*msg = h.in[0]
	h.in = h.in[1:]
	return true
}

func (h *fakeHID) Send(r [proto.ReportLen]byte) bool {
	if h.txFail {
		return false
	}
	h.reports = append(h.reports, r)
	return true
}

func (h *fakeHID) SendKeyboard(r [8]byte) bool {
	h.keyboards = append(h.keyboards, r)
	return true
}

func (h *fakeHID) SendMedia(b byte) bool {
	h.media = append(h.media, b)
	return true
}

func (h *fakeHID) Connected() bool { return h.connected }

func (h *fakeHID) push(b ...byte) {
	var msg [proto.MsgLen]byte
	copy(msg[:], b)
	h.in = append(h.in, msg)
}

type fakeSystem struct {
	rebooted int
}

func (s *fakeSystem) DeviceID() [10]byte {
	return [10]byte{0xde, 0xad, 0xbe, 0xef, 5, 6, 7, 8, 9, 10}
}
func (s *fakeSystem) Reboot() { s.rebooted++ }

type fakeStore struct {
	rec  []byte
	fail bool
}

func (s *fakeStore) Load() ([]byte, bool) { return s.rec, s.rec != nil }
func (s *fakeStore) Save(rec []byte) error {
	if s.fail {
		return errTest
	}
	s.rec = append([]byte(nil), rec...)
	return nil
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("induced failure")

// virtualConfig builds a config with n virtual output ports.
func virtualConfig(n int) *config.Config {
	cfg := &config.Config{}
	cfg.SetFactoryDefaults()
	for i := 0; i < n; i++ {
		cfg.Outputs[i].Type = config.PortVirtual
	}
	return cfg
}

func testCore(t *testing.T, cfg *config.Config, opts Options) (*Core, *testClock) {
	t.Helper()
	clk := &testClock{}
	c, err := New(cfg, nil, clk.now, opts)
	if err != nil {
		t.Fatal(err)
	}
	return c, clk
}

// Scenario: LedWiz round trip. SBA turns ports 1-8 on at speed 2, a
// PBA of 16s sets their brightness.
func TestLedWizRoundTrip(t *testing.T) {
	c, _ := testCore(t, virtualConfig(32), Options{})
	c.Dispatch([8]byte{0x40, 0xff, 0x00, 0x00, 0x00, 0x02, 0, 0})
	c.Dispatch([8]byte{0x10, 0x10, 0x10, 0x10, 0x10, 0x10, 0x10, 0x10})

	want := ledwiz.ToDOF[16]
	if want < 84 || want > 86 {
		t.Fatalf("lw_to_dof[16] = %d, want 85±1", want)
	}
	for i := 0; i < 8; i++ {
		if got := c.Ports()[i].Level(); got != want {
			t.Errorf("port %d level %d, want %d", i+1, got, want)
		}
	}
	for i := 8; i < 16; i++ {
		if got := c.Ports()[i].Level(); got != 0 {
			t.Errorf("port %d level %d, want 0", i+1, got)
		}
	}
	if c.PBAIndex() != 8 {
		t.Errorf("pbaIdx = %d, want 8", c.PBAIndex())
	}
}

func TestPBACursorRollsAndSBAResets(t *testing.T) {
	c, _ := testCore(t, virtualConfig(32), Options{})
	pba := [8]byte{1, 1, 1, 1, 1, 1, 1, 1}
	for i, want := range []int{8, 16, 24, 0, 8} {
		c.Dispatch(pba)
		if c.PBAIndex() != want {
			t.Fatalf("after PBA %d: pbaIdx = %d, want %d", i+1, c.PBAIndex(), want)
		}
	}
	c.Dispatch([8]byte{0x40, 0, 0, 0, 0, 2, 0, 0})
	if c.PBAIndex() != 0 {
		t.Errorf("SBA did not reset pbaIdx: %d", c.PBAIndex())
	}
}

func TestPBAReservedValuesNormalized(t *testing.T) {
	c, _ := testCore(t, virtualConfig(32), Options{})
	c.Dispatch([8]byte{0x40, 0xff, 0, 0, 0, 2, 0, 0})
	c.Dispatch([8]byte{48, 64, 128, 133, 255, 48, 49, 129})
	lw := c.LedWiz()
	for i, want := range []byte{48, 48, 48, 48, 48, 48, 49, 129} {
		if lw.Val[i] != want {
			t.Errorf("port %d profile %d, want %d", i+1, lw.Val[i], want)
		}
	}
}

// Scenario: extended brightness. Type 200, payload byte 1 = 255.
func TestBulkBrightness(t *testing.T) {
	c, _ := testCore(t, virtualConfig(32), Options{})
	c.Dispatch([8]byte{0xc8, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	if got := c.Ports()[0].Level(); got != 255 {
		t.Errorf("port 1 level %d, want 255", got)
	}
	for i := 1; i < 7; i++ {
		if got := c.Ports()[i].Level(); got != 0 {
			t.Errorf("port %d level %d, want 0", i+1, got)
		}
	}
	// LedWiz state synchronized.
	lw := c.LedWiz()
	if !lw.On[0] || lw.Val[0] != 48 {
		t.Errorf("lw sync: on=%v val=%d", lw.On[0], lw.Val[0])
	}
	if lw.On[1] {
		t.Error("port 2 marked on")
	}
}

func TestSBXPBXExtendedPorts(t *testing.T) {
	c, _ := testCore(t, virtualConfig(64), Options{})
	// SBX group 1: ports 33-64 on, speed 5.
	c.Dispatch([8]byte{67, 0xff, 0xff, 0xff, 0xff, 5, 1, 0})
	lw := c.LedWiz()
	if !lw.On[32] || !lw.On[63] {
		t.Error("SBX did not set group 1 on bits")
	}
	if lw.Speed[1] != 5 {
		t.Errorf("bank 1 speed %d", lw.Speed[1])
	}
	if lw.On[0] {
		t.Error("SBX touched bank 0")
	}
	// PBX group 4 (ports 33-40): brightness 32 in slot 0.
	var bits uint64 = 32
	msg := [8]byte{68, 4}
	for i := 0; i < 6; i++ {
		msg[2+i] = byte(bits >> (8 * i))
	}
	before := c.PBAIndex()
	c.Dispatch(msg)
	if lw.Val[32] != 32 {
		t.Errorf("port 33 profile %d, want 32", lw.Val[32])
	}
	if c.Ports()[32].Level() != ledwiz.ToDOF[32] {
		t.Errorf("port 33 level %d", c.Ports()[32].Level())
	}
	if c.PBAIndex() != before {
		t.Error("PBX advanced the PBA cursor")
	}
}

func TestSBASpeedClamped(t *testing.T) {
	c, _ := testCore(t, virtualConfig(32), Options{})
	c.Dispatch([8]byte{0x40, 0, 0, 0, 0, 99, 0, 0})
	if got := c.LedWiz().Speed[0]; got != 7 {
		t.Errorf("speed %d, want clamped 7", got)
	}
	c.Dispatch([8]byte{0x40, 0, 0, 0, 0, 0, 0, 0})
	if got := c.LedWiz().Speed[0]; got != 1 {
		t.Errorf("speed %d, want clamped 1", got)
	}
}

func TestAllOffRestoresDefaults(t *testing.T) {
	c, _ := testCore(t, virtualConfig(40), Options{})
	c.Dispatch([8]byte{0x40, 0xff, 0xff, 0xff, 0xff, 7, 0, 0})
	c.Dispatch([8]byte{49, 49, 49, 49, 49, 49, 49, 49})
	c.Dispatch([8]byte{0xc8, 200, 200, 200, 200, 200, 200, 200})
	c.Dispatch([8]byte{65, 5})
	lw := c.LedWiz()
	for i := 0; i < 40; i++ {
		if lw.On[i] || lw.Val[i] != 48 {
			t.Fatalf("port %d not reset: on=%v val=%d", i+1, lw.On[i], lw.Val[i])
		}
		if c.Ports()[i].Level() != 0 {
			t.Fatalf("port %d level %d after all-off", i+1, c.Ports()[i].Level())
		}
	}
	for b, s := range lw.Speed {
		if s != 2 {
			t.Errorf("bank %d speed %d, want 2", b, s)
		}
	}
	if c.PBAIndex() != 0 {
		t.Error("pbaIdx not reset")
	}
}

func TestNightModeCommand(t *testing.T) {
	cfg := virtualConfig(32)
	cfg.Outputs[4].Flags = config.PortNoisemaker
	c, _ := testCore(t, cfg, Options{})
	c.Dispatch([8]byte{0xc8, 100, 100, 100, 100, 100, 100, 100})

	c.Dispatch([8]byte{65, 8, 1})
	if !c.NightMode() {
		t.Fatal("night mode not engaged")
	}
	// Host-visible level is retained; a noisy port's commanded level
	// survives for when the mode lifts.
	if c.Ports()[4].Level() != 100 {
		t.Errorf("commanded level lost: %d", c.Ports()[4].Level())
	}
	c.Dispatch([8]byte{65, 8, 0})
	if c.NightMode() {
		t.Error("night mode not disengaged")
	}
}

func TestVendorQueries(t *testing.T) {
	hid := newFakeHID()
	cfg := virtualConfig(24)
	sys := &fakeSystem{}
	c, clk := testCore(t, cfg, Options{HID: hid, Sys: sys})

	hid.push(65, 4) // config query
	hid.push(65, 7) // device ID
	for i := 0; i < 4; i++ {
		c.RunOnce()
		clk.advance(1000)
	}
	var kinds []uint16
	for _, r := range hid.reports {
		if proto.IsVendorReport(r) {
			kinds = append(kinds, uint16(r[0])|uint16(r[1])<<8)
		}
	}
	if len(kinds) < 2 || kinds[0] != proto.ReportConfig || kinds[1] != proto.ReportDeviceID {
		t.Fatalf("vendor replies: %#x", kinds)
	}
	// Config reply carries the port count.
	cfgRep := hid.reports[0]
	if got := int(cfgRep[2]) | int(cfgRep[3])<<8; got != 24 {
		t.Errorf("output count %d", got)
	}
	idRep := hid.reports[1]
	if idRep[2] != 0xde || idRep[3] != 0xad {
		t.Errorf("device id % x", idRep[2:12])
	}
}

func TestVarQueryReply(t *testing.T) {
	hid := newFakeHID()
	cfg := virtualConfig(8)
	cfg.TVON.DelayTime = 550
	c, clk := testCore(t, cfg, Options{HID: hid})
	hid.push(65, 9, 9) // query variable 9 (TV-ON setup)
	c.RunOnce()
	clk.advance(1000)
	c.RunOnce()
	var rep *[proto.ReportLen]byte
	for i := range hid.reports {
		if uint16(hid.reports[i][0])|uint16(hid.reports[i][1])<<8 == proto.ReportVar {
			rep = &hid.reports[i]
		}
	}
	if rep == nil {
		t.Fatal("no var reply")
	}
	if rep[3] != 9 {
		t.Errorf("variable id %d", rep[3])
	}
	if got := uint16(rep[7]) | uint16(rep[8])<<8; got != 550 {
		t.Errorf("delay %d, want 550", got)
	}
}

func TestSaveAndScheduledReboot(t *testing.T) {
	hid := newFakeHID()
	store := &fakeStore{}
	sys := &fakeSystem{}
	c, clk := testCore(t, virtualConfig(8), Options{HID: hid, Store: store, Sys: sys})

	hid.push(66, 2, 7) // unit number 7
	hid.push(65, 6, 3) // save, reboot in 3s
	c.RunOnce()
	if store.rec == nil {
		t.Fatal("config not saved")
	}
	var saved config.Config
	if !config.UnmarshalNVM(&saved, store.rec) {
		t.Fatal("saved record invalid")
	}
	if saved.UnitNo != 7 {
		t.Errorf("saved unit %d", saved.UnitNo)
	}
	// Save-success bit visible in the next report.
	clk.advance(20000)
	c.RunOnce()
	last := hid.reports[len(hid.reports)-1]
	if last[0]&proto.StatusSaveOK == 0 {
		t.Error("save-success bit not set")
	}
	if sys.rebooted != 0 {
		t.Fatal("rebooted early")
	}
	clk.advance(4000000)
	c.RunOnce()
	if sys.rebooted != 1 {
		t.Error("scheduled reboot did not fire")
	}
}

func TestSaveFailure(t *testing.T) {
	hid := newFakeHID()
	store := &fakeStore{fail: true}
	sys := &fakeSystem{}
	c, clk := testCore(t, virtualConfig(8), Options{HID: hid, Store: store, Sys: sys})
	hid.push(65, 6, 3)
	c.RunOnce()
	clk.advance(20000)
	c.RunOnce()
	last := hid.reports[len(hid.reports)-1]
	if last[0]&proto.StatusSaveOK != 0 {
		t.Error("success bit set on failed save")
	}
	clk.advance(10000000)
	c.RunOnce()
	if sys.rebooted != 0 {
		t.Error("rebooted after failed save")
	}
}

func TestWatchdogReboot(t *testing.T) {
	hid := newFakeHID()
	sys := &fakeSystem{}
	cfg := virtualConfig(8)
	cfg.DisconnectRebootTimeout = 5
	c, clk := testCore(t, cfg, Options{HID: hid, Sys: sys})
	c.RunOnce() // no report due yet; the timer runs from construction
	hid.txFail = true
	clk.advance(3000000)
	c.RunOnce()
	if sys.rebooted != 0 {
		t.Fatal("rebooted before timeout")
	}
	clk.advance(3000000)
	c.RunOnce()
	if sys.rebooted != 1 {
		t.Error("watchdog did not reboot")
	}
}

func TestWatchdogGatedByPowerState(t *testing.T) {
	hid := newFakeHID()
	hid.txFail = true
	sys := &fakeSystem{}
	tv := &gatedTV{}
	cfg := virtualConfig(8)
	cfg.DisconnectRebootTimeout = 1
	c, clk := testCore(t, cfg, Options{HID: hid, Sys: sys, TV: tv})
	clk.advance(2000000)
	c.RunOnce()
	if sys.rebooted != 0 {
		t.Fatal("rebooted while the power state forbade it")
	}
	// The condition is retained and rechecked.
	tv.idle = true
	clk.advance(2000000)
	c.RunOnce()
	if sys.rebooted != 1 {
		t.Error("watchdog never fired after the gate opened")
	}
}

type gatedTV struct {
	NullTV
	idle bool
}

func (t *gatedTV) AllowsReboot() bool { return t.idle }

func TestUnknownInputIgnored(t *testing.T) {
	c, _ := testCore(t, virtualConfig(8), Options{})
	c.Dispatch([8]byte{133, 1, 2, 3, 4, 5, 6, 7}) // unknown type
	c.Dispatch([8]byte{65, 200})                  // unknown subtype
	c.Dispatch([8]byte{66, 250, 1})               // unknown variable
	// Still alive and consistent.
	if c.PBAIndex() != 0 {
		t.Error("state disturbed")
	}
}

func TestLoadConfig(t *testing.T) {
	var cfg config.Config
	cfg.Outputs[0].Type = config.PortVirtual
	store := &fakeStore{}
	rec, err := config.MarshalNVM(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	store.rec = rec
	var out config.Config
	if !LoadConfig(&out, store, nil) {
		t.Fatal("NVM record not loaded")
	}
	if out.Outputs[0].Type != config.PortVirtual {
		t.Error("record contents lost")
	}
	// Corrupt record falls back to the defaults blob.
	store.rec[20] ^= 1
	blob := []byte(config.BlobSignature)
	blob = append(blob, 1, 0)
	blob = append(blob, 66, 2, 4, 0, 0, 0, 0, 0)
	var out2 config.Config
	if !LoadConfig(&out2, store, blob) {
		t.Fatal("defaults blob not applied")
	}
	if out2.UnitNo != 4 {
		t.Errorf("unit %d, want 4", out2.UnitNo)
	}
	// Nothing at all: factory defaults.
	var out3 config.Config
	if LoadConfig(&out3, &fakeStore{}, nil) {
		t.Error("claimed a config was loaded")
	}
	if out3.Plunger.Cal.Max != config.DefaultCalMax {
		t.Error("factory defaults not applied")
	}
}
