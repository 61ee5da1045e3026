package device

import (
	"fmt"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/spi"

	"pincab.dev/buttons"
	"pincab.dev/config"
	"pincab.dev/driver/hc595"
	"pincab.dev/driver/tcd1103"
	"pincab.dev/driver/tlc59116"
	"pincab.dev/driver/tlc5940"
	"pincab.dev/driver/tsl14xx"
	"pincab.dev/ledwiz"
	"pincab.dev/outputs"
	"pincab.dev/plunger"
)

// Hardware resolves configuration pin assignments to platform
// resources. Any method may return nil (or a nil interface) when the
// resource is unavailable; the affected port or sensor then degrades
// to a virtual stand-in rather than failing the boot.
type Hardware interface {
	GPIOOut(p config.PinID) gpio.PinOut
	GPIOIn(p config.PinID) gpio.PinIn
	ADC(p config.PinID) analog.PinADC
	SPI() spi.Port
	I2C() i2c.Bus
	// TSLEngine and TCDEngine return the acquisition paths for the
	// image sensor families, or nil when none is available.
	TSLEngine() tsl14xx.Engine
	TCDEngine() tcd1103.Engine
}

// Options carries the external collaborators. Nil fields get null
// implementations.
type Options struct {
	HID   HID
	Accel Accelerometer
	IR    IR
	TV    TVPower
	Store Store
	Sys   System
}

// New builds a core from the configuration. The port stacks, filter
// chains and button slots are constructed once here - the boot-time
// arena - and never change afterwards; a reconfigure requires a
// reboot.
func New(cfg *config.Config, hw Hardware, now outputs.Clock, opts Options) (*Core, error) {
	c := &Core{
		cfg:               cfg,
		now:               now,
		st:                outputs.NewState(now),
		repoller:          &outputs.Repoller{},
		hid:               opts.HID,
		accel:             opts.Accel,
		ir:                opts.IR,
		tv:                opts.TV,
		store:             opts.Store,
		sys:               opts.Sys,
		JoyReportInterval: 10000,
	}
	if c.hid == nil {
		c.hid = NullHID{}
	}
	if c.accel == nil {
		c.accel = NullAccel{}
	}
	if c.ir == nil {
		c.ir = NullIR{}
	}
	if c.tv == nil {
		c.tv = NullTV{}
	}
	if c.store == nil {
		c.store = NullStore{}
	}
	if c.sys == nil {
		c.sys = NullSystem{}
	}

	// Peripheral chip chains, built before the ports that use them.
	var t5940 *tlc5940.Chain
	if cfg.TLC5940.NChips > 0 && hw != nil {
		if port := hw.SPI(); port != nil {
			xlat := hw.GPIOOut(cfg.TLC5940.XLat)
			blank := hw.GPIOOut(cfg.TLC5940.Blank)
			if xlat != nil && blank != nil {
				ch, err := tlc5940.New(port, xlat, blank, int(cfg.TLC5940.NChips))
				if err != nil {
					return nil, fmt.Errorf("device: %w", err)
				}
				t5940 = ch
				c.flushers = append(c.flushers, ch)
				c.enablers = append(c.enablers, blankEnabler{ch})
			}
		}
	}
	var h595 *hc595.Chain
	if cfg.HC595.NChips > 0 && hw != nil {
		sin := hw.GPIOOut(cfg.HC595.Sin)
		sclk := hw.GPIOOut(cfg.HC595.SClk)
		latch := hw.GPIOOut(cfg.HC595.Latch)
		ena := hw.GPIOOut(cfg.HC595.Ena)
		if sin != nil && sclk != nil && latch != nil && ena != nil {
			ch, err := hc595.New(sin, sclk, latch, ena, int(cfg.HC595.NChips))
			if err != nil {
				return nil, fmt.Errorf("device: %w", err)
			}
			h595 = ch
			c.enablers = append(c.enablers, ch)
		}
	}
	var t59116 *tlc59116.Chain
	if cfg.TLC59116.ChipMask != 0 && hw != nil {
		if bus := hw.I2C(); bus != nil {
			var reset gpio.PinOut
			if cfg.TLC59116.Reset.Connected() {
				reset = hw.GPIOOut(cfg.TLC59116.Reset)
			}
			ch, err := tlc59116.New(bus, reset, cfg.TLC59116.ChipMask)
			if err != nil {
				return nil, fmt.Errorf("device: %w", err)
			}
			t59116 = ch
			c.flushers = append(c.flushers, ch)
		}
	}

	// Host-visible output ports: everything up to the first disabled
	// slot.
	n := cfg.NumOutputs()
	c.ports = make([]*outputs.Port, n)
	lwPorts := make([]ledwiz.Port, n)
	for i := 0; i < n; i++ {
		chain := c.buildChain(&cfg.Outputs[i], i+1, hw, t5940, h595, t59116)
		// The night-mode indicator port gets the indicator filter on
		// top, which discards host-commanded levels and follows the
		// mode flag instead.
		if int(cfg.NightMode.Port) == i+1 {
			chain = &outputs.NightModeIndicator{Out: chain, State: c.st}
		}
		c.ports[i] = outputs.NewPort(chain)
		lwPorts[i] = c.ports[i]
		if int(cfg.NightMode.Port) == i+1 {
			c.indicator = c.ports[i]
		}
	}
	c.eng = ledwiz.NewEngine(lwPorts)

	// Buttons.
	var pins buttons.Pins
	if hw != nil {
		pins = func(p config.PinID) gpio.PinIn { return hw.GPIOIn(p) }
	}
	c.scanner = buttons.NewScanner(cfg, pins)
	c.scanner.SetNightMode = c.SetNightMode
	c.scanner.ToggleNightMode = func() { c.SetNightMode(!c.st.NightMode) }
	c.scanner.FireIR = c.ir.Send

	// Plunger sensor.
	c.sensor = c.buildSensor(hw)
	c.reader = plunger.NewReader(c.sensor, cfg, c.st)
	c.sensor.Init()

	now32 := now()
	c.lastTxOK = now32
	// Start opposite the link state so that the first housekeeping
	// pass applies the output-enable gate.
	c.wasConnected = !c.hid.Connected()
	return c, nil
}

// blankEnabler adapts the TLC5940's BLANK line to the output-enable
// gate: enabling outputs releases BLANK.
type blankEnabler struct {
	ch *tlc5940.Chain
}

func (b blankEnabler) Enable(on bool) error {
	return b.ch.Blank(!on)
}

// buildChain composes one port's filter chain over its terminal
// driver, innermost filter first.
func (c *Core) buildChain(oc *config.Output, portNo int, hw Hardware, t5940 *tlc5940.Chain, h595 *hc595.Chain, t59116 *tlc59116.Chain) outputs.LwOut {
	var out outputs.LwOut = outputs.Virtual{}
	gammaDone := false
	switch oc.Type {
	case config.PortGPIOPWM:
		if hw != nil {
			if pin := hw.GPIOOut(config.PinID(oc.Pin)); pin != nil {
				p := &outputs.GPIOPWM{Pin: pin}
				c.repoller.Add(p)
				out = p
			}
		}
	case config.PortGPIODigital:
		if hw != nil {
			if pin := hw.GPIOOut(config.PinID(oc.Pin)); pin != nil {
				out = &outputs.GPIODigital{Pin: pin}
			}
		}
	case config.PortTLC5940:
		if t5940 != nil {
			// Gamma is applied in the driver at 12-bit depth.
			out = &outputs.TLC5940Out{
				Chain: t5940,
				Idx:   int(oc.Pin),
				Gamma: oc.Flags&config.PortGamma != 0,
			}
			gammaDone = true
		}
	case config.PortHC595:
		if h595 != nil {
			out = &outputs.HC595Out{Chain: h595, Idx: int(oc.Pin)}
		}
	case config.PortTLC59116:
		if t59116 != nil {
			out = &outputs.TLC59116Out{Chain: t59116, Idx: int(oc.Pin)}
		}
	}

	// Filters, bottom up. Invert is innermost: everything else
	// assumes non-inverted semantics.
	if oc.Flags&config.PortActiveLow != 0 {
		out = &outputs.Invert{Out: out}
	}
	if oc.Flags&config.PortFlipperLogic != 0 {
		out = outputs.NewFlipperLogic(out, c.st, oc.Params)
	}
	if oc.Flags&config.PortChimeLogic != 0 {
		out = outputs.NewChimeLogic(out, c.st, oc.Params)
	}
	if oc.Flags&config.PortNoisemaker != 0 {
		out = &outputs.Noisy{Out: out, State: c.st}
	}
	if oc.Flags&config.PortGamma != 0 && !gammaDone {
		out = &outputs.Gamma{Out: out}
	}
	if zb := int(c.cfg.Plunger.ZBLaunch.Port); zb != 0 && zb == portNo {
		out = &outputs.ZBLaunchMonitor{Out: out, State: c.st}
	}
	return out
}

// buildSensor constructs the configured plunger sensor.
func (c *Core) buildSensor(hw Hardware) plunger.Sensor {
	if !c.cfg.Plunger.Enabled || hw == nil {
		return plunger.Null{}
	}
	switch c.cfg.Plunger.SensorType {
	case config.PlungerTSL1410R, config.PlungerTSL1412S, config.PlungerTSL1401CL:
		eng := hw.TSLEngine()
		if eng == nil {
			return plunger.Null{}
		}
		npix := tsl14xx.NPixTSL1410R
		switch c.cfg.Plunger.SensorType {
		case config.PlungerTSL1412S:
			npix = tsl14xx.NPixTSL1412S
		case config.PlungerTSL1401CL:
			npix = tsl14xx.NPixTSL1401CL
		}
		return plunger.NewCCD(tsl14xx.New(eng, npix), false)
	case config.PlungerTCD1103:
		eng := hw.TCDEngine()
		if eng == nil {
			return plunger.Null{}
		}
		return plunger.NewCCD(tcd1103.New(eng), true)
	case config.PlungerPot:
		pin := hw.ADC(c.cfg.Plunger.SensorPin[0])
		if pin == nil {
			return plunger.Null{}
		}
		return plunger.NewPot(pin, c.now)
	}
	return plunger.Null{}
}

// MarkConfigLoaded records that a host configuration was applied, for
// the configuration-query reply.
func (c *Core) MarkConfigLoaded() {
	c.cfgLoaded = true
}

// LoadConfig initializes the settings image at boot: the NVM record if
// it validates, else the host-patchable defaults blob, else factory
// defaults. It reports whether a host-supplied configuration was
// applied.
func LoadConfig(cfg *config.Config, store Store, defaultsBlob []byte) bool {
	cfg.SetFactoryDefaults()
	if store != nil {
		if rec, ok := store.Load(); ok && config.UnmarshalNVM(cfg, rec) {
			return true
		}
	}
	return config.ApplyDefaultsBlob(cfg, defaultsBlob)
}
