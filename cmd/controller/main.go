// command controller is the firmware core of the pincab cabinet I/O
// controller: it samples the plunger sensor and accelerometer, scans
// the cabinet buttons, drives the feedback outputs from LedWiz
// protocol commands, and reports everything to the host as a composite
// HID device.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"pincab.dev/config"
	"pincab.dev/device"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(2)
	}
}

var (
	configPath = flag.String("config", "/var/lib/pincab/config.nvm", "settings record path")
	serialDev  = flag.String("serial", "", "serve the command sideband over this serial device instead of USB HID")
	simulate   = flag.Bool("sim", false, "run against simulated hardware")
)

func run() error {
	flag.Parse()
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	log.Println("pincab: loading...")

	store := &fileStore{path: *configPath}
	cfg := new(config.Config)
	loaded := device.LoadConfig(cfg, store, defaultsRegion[:])
	if loaded {
		log.Println("pincab: configuration loaded")
	} else {
		log.Println("pincab: factory defaults")
	}

	now := newClock()
	p, err := openPlatform(cfg, now)
	if err != nil {
		return err
	}
	core, err := device.New(cfg, p.hw, now, device.Options{
		HID:   p.hid,
		Store: store,
		Sys:   p.sys,
	})
	if err != nil {
		// Construction is the only unrecoverable failure mode: the
		// configuration asks for more than the platform has. A reboot
		// would reproduce it, so sit in the halt loop and flash the
		// diagnostic pattern until reconfigured.
		p.haltLoop(err)
	}
	if loaded {
		core.MarkConfigLoaded()
	}
	core.Heartbeat = p.heartbeat

	for {
		core.RunOnce()
		// The loop is cooperative; a short sleep keeps the effective
		// rate above the 1kHz scan tick without pegging a CPU.
		time.Sleep(250 * time.Microsecond)
	}
}

// defaultsRegion is the host-patchable defaults area carried in the
// binary image. The installer tool may overwrite it with a signed
// defaults blob before download; unpatched it carries no signature and
// is ignored.
var defaultsRegion [32 + 2 + 8*128]byte

// newClock returns the free-running microsecond timer, started at
// boot. uint32 wrap (~71 minutes) is fine: all consumers compare
// wrap-safely.
func newClock() func() uint32 {
	start := time.Now()
	return func() uint32 {
		return uint32(time.Since(start).Microseconds())
	}
}

// fileStore keeps the NVM record in a file, standing in for the
// MCU's internal flash.
type fileStore struct {
	path   string
	loaded bool
}

func (s *fileStore) Load() ([]byte, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false
	}
	s.loaded = true
	return data, true
}

func (s *fileStore) Save(rec []byte) error {
	return os.WriteFile(s.path, rec, 0o644)
}
