// Package tcd1103 implements the acquisition driver for the Toshiba
// TCD1103GFG linear CCD, a 1x1500 image sensor used as a plunger
// position sensor.
//
// Unlike the TSL14xx devices, this sensor runs from a continuous,
// free-running master clock (a PWM output) and transfers two clock
// ticks per pixel. The trick that makes sampling deterministic without
// per-pixel interrupts: the ADC is configured with a conversion time
// between one and two master-clock periods (nominally Tm = Tadc/2 +
// 0.25us), and hardware triggers arriving mid-conversion are ignored,
// so exactly one sample lands per two master ticks with fixed phase.
//
// Each frame opens with the ICG/SH sequence that moves the integrated
// charge into the sensor's shift register. Its tail is genuinely
// timing-critical: the sensor starts clocking pixels out at the end of
// the ICG pulse, so the ADC restart, the DMA re-arm and the ICG rising
// edge must all land inside one master-clock high phase. A miss shifts
// the whole frame by one pixel, which shows up as a one-frame position
// jitter; the next frame realigns by itself because the sequence is
// attempted fresh each cycle.
package tcd1103

import (
	"pincab.dev/driver/ccd"
)

// NPix is the number of active pixels.
const NPix = 1500

// Engine is the platform acquisition path: ICG/SH control lines, the
// ADC gate, the pixel DMA channel, the master-clock phase reference,
// and the microsecond timer.
type Engine interface {
	// SetICG drives the integration-clear gate line.
	SetICG(high bool)
	// SetSH drives the shift gate line.
	SetSH(high bool)
	// StopADC gates off ADC conversions; ResumeADC re-enables them.
	StopADC()
	ResumeADC()
	// ArmDMA prepares the pixel transfer into dst; done runs from the
	// transfer-complete interrupt.
	ArmDMA(dst []byte, done func())
	// WaitClockCycle spins until the start of the next master-clock
	// cycle. Bounded by one clock period (<2us).
	WaitClockCycle()
	// WaitUS busy-waits for the given number of microseconds. Only
	// used for the sub-10us pulse widths of the ICG/SH sequence.
	WaitUS(us uint32)
	// Now returns the free-running microsecond timer.
	Now() uint32
	// After invokes fn once, us microseconds from now, from timer
	// interrupt context.
	After(us uint32, fn func())
}

type Sensor struct {
	eng Engine
	buf *ccd.Buffers

	tLastSH      uint32
	tFrameMid    uint32
	minIntTime   uint32
	extraIntTime uint32
}

func New(eng Engine) *Sensor {
	return &Sensor{
		eng: eng,
		buf: ccd.NewBuffers(NPix),
	}
}

// NPix returns the native pixel count.
func (s *Sensor) NPix() int {
	return NPix
}

// Init starts the continuous acquisition loop. The master clock is
// expected to be running.
func (s *Sensor) Init() {
	s.startFrame()
}

// startFrame runs the ICG/SH sequence and starts the readout of the
// charge integrated since the previous SH pulse.
func (s *Sensor) startFrame() {
	eng := s.eng
	dst := s.buf.Target()

	// Drop ICG and hold it for the 100ns minimum. The second write is
	// redundant on purpose: two MMIO writes take about 150ns, which
	// pads the hold time without needing a timer.
	eng.SetICG(false)
	eng.SetICG(false)

	// SH pulse: >1us high. Its falling edge moves the pixel charge
	// into the shift register and opens the next integration window.
	eng.SetSH(true)
	eng.WaitUS(2)
	eng.SetSH(false)
	now := s.eng.Now()
	s.tFrameMid = (now >> 1) + (s.tLastSH >> 1)
	s.tLastSH = now

	// >1us between SH falling and the end of ICG.
	eng.WaitUS(2)

	// Critical section: everything from here to the ICG rising edge
	// must complete while the master clock is high, ~600ns of slack of
	// which the MMIO writes consume about 200ns. Stop conversions,
	// re-arm the transfer at a cycle boundary, then give the DMA one
	// extra full cycle before resuming - empirically required for the
	// channel to be trigger-ready - and raise ICG on the next boundary
	// so the first pixel lands in the first sample.
	eng.StopADC()
	eng.WaitClockCycle()
	eng.ArmDMA(dst, s.onFrameDone)
	eng.WaitClockCycle()
	eng.ResumeADC()
	eng.WaitClockCycle()
	eng.SetICG(true)
}

func (s *Sensor) onFrameDone() {
	s.buf.Complete(s.tFrameMid)
	want := s.minIntTime + s.extraIntTime
	sofar := s.eng.Now() - s.tLastSH
	if sofar < want {
		s.eng.After(want-sofar, s.startFrame)
	} else {
		s.startFrame()
	}
}

// Ready reports whether a freshly filled frame is available.
func (s *Sensor) Ready() bool {
	return s.buf.Ready()
}

// Stable returns the frame not owned by DMA and the midpoint timestamp
// of its integration window.
func (s *Sensor) Stable() ([]byte, uint32) {
	return s.buf.Stable()
}

// Release permits the next completed frame to take the stable buffer.
func (s *Sensor) Release() {
	s.buf.Release()
}

// SetMinIntegrationTime sets a floor, in microseconds, on the
// integration window.
func (s *Sensor) SetMinIntegrationTime(us uint32) {
	s.minIntTime = us
}

// SetExtraIntegrationTime adds debug exposure time for the host's
// sensor viewer.
func (s *Sensor) SetExtraIntegrationTime(us uint32) {
	s.extraIntTime = us
}

// AvgScanTime estimates the frame readout time in microseconds.
func (s *Sensor) AvgScanTime() uint32 {
	// Two master clock ticks per pixel at 0.5us each.
	return NPix * 2 / 2
}
