// Package tsl14xx implements the acquisition driver for the TAOS
// TSL1410R, TSL1412S and TSL1401CL linear optical sensor arrays, used
// as plunger position sensors. The sensors are bucket-brigade devices:
// each clock pulse shifts the next pixel's charge onto the analog
// output, so the host generates one clock per pixel and samples the
// analog out once per clock.
//
// On the reference hardware the per-pixel cycle is run entirely by a
// chain of three linked DMA channels, triggered by the ADC's
// sample-complete signal: Clock-Up, then the ADC result transfer, then
// Clock-Down, with the ADC in continuous mode so the next conversion
// self-starts. Two details of that chain are load-bearing and are part
// of the Engine contract below: Clock-Up must run first, because the
// sensor starts exposing the next pixel on the clock's rising edge and
// the ADC has already begun its next sample when the completion trigger
// fires; and Clock-Up/Clock-Down must not be adjacent writes to the
// same GPIO toggle register, because the sensor needs at least 50ns of
// high pulse width, which back-to-back register writes would violate.
package tsl14xx

import (
	"pincab.dev/driver/ccd"
)

// Pixel counts by sensor model.
const (
	NPixTSL1410R  = 1280
	NPixTSL1412S  = 1536
	NPixTSL1401CL = 128
)

// Engine is the platform's analog acquisition path for one sensor: the
// SI line, the linked clock/ADC transfer chain, and the microsecond
// timer. Implementations must honor the channel-ordering and
// minimum-pulse-width constraints described in the package comment.
type Engine interface {
	// PulseSI emits the start-of-frame pulse. The sensor latches the
	// integrated pixel charges into its shift register on SI, which
	// also begins the next integration cycle.
	PulseSI()
	// Arm prepares the transfer chain to clock out len(dst)+1 pixels
	// (the sensor needs one trailing clock to finish the last charge
	// transfer) and deliver len(dst) samples into dst. done runs in
	// interrupt context when the last sample lands.
	Arm(dst []byte, done func())
	// Go starts the armed chain by enabling the ADC's continuous
	// conversions.
	Go()
	// Now returns the free-running microsecond timer.
	Now() uint32
	// After invokes fn once, us microseconds from now, from timer
	// interrupt context.
	After(us uint32, fn func())
}

// Sensor drives one TSL14xx device and presents the double-buffered
// frame contract to the plunger reader.
type Sensor struct {
	eng  Engine
	npix int
	buf  *ccd.Buffers

	// tLastSI tracks integration windows: the SI pulse that closes frame
	// n opens the integration window of frame n+1.
	tLastSI uint32

	minIntTime   uint32
	extraIntTime uint32
	tFrameStart  uint32
}

// New prepares a sensor with the given native pixel count (one of the
// NPix constants).
func New(eng Engine, npix int) *Sensor {
	return &Sensor{
		eng:  eng,
		npix: npix,
		buf:  ccd.NewBuffers(npix),
	}
}

// NPix returns the native pixel count.
func (s *Sensor) NPix() int {
	return s.npix
}

// Init starts the continuous acquisition loop.
func (s *Sensor) Init() {
	s.startFrame()
}

// startFrame begins one acquisition cycle: SI latches the pixels
// integrated since the previous SI, then the transfer chain clocks them
// out.
func (s *Sensor) startFrame() {
	dst := s.buf.Target()
	s.eng.Arm(dst, s.onFrameDone)
	now := s.eng.Now()
	s.eng.PulseSI()
	// The midpoint of the integration window for the frame now being
	// clocked out is the average of the two SI times that bracket it.
	s.tFrameStart = (now >> 1) + (s.tLastSI >> 1)
	s.tLastSI = now
	s.eng.Go()
}

// onFrameDone runs in interrupt context at end of transfer.
func (s *Sensor) onFrameDone() {
	s.buf.Complete(s.tFrameStart)
	// Integration of the next frame has been running since the SI
	// pulse that started this readout. If it hasn't yet reached the
	// requested floor (plus any debug exposure extension), hold off
	// the next readout; otherwise start it immediately.
	want := s.minIntTime + s.extraIntTime
	sofar := s.eng.Now() - s.tLastSI
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

// Stable returns the frame not owned by the transfer chain and the
// midpoint timestamp of its integration window.
func (s *Sensor) Stable() ([]byte, uint32) {
	return s.buf.Stable()
}

// Release permits the next completed frame to take the stable buffer.
func (s *Sensor) Release() {
	s.buf.Release()
}

// SetMinIntegrationTime sets a floor, in microseconds, on the sensor's
// integration window.
func (s *Sensor) SetMinIntegrationTime(us uint32) {
	s.minIntTime = us
}

// SetExtraIntegrationTime adds debug exposure time on top of the
// natural frame cadence, for the host's sensor-viewer tool.
func (s *Sensor) SetExtraIntegrationTime(us uint32) {
	s.extraIntTime = us
}

// AvgScanTime estimates the sensor scan time in microseconds, for the
// diagnostic suffix report.
func (s *Sensor) AvgScanTime() uint32 {
	// One ADC sample per pixel at ~2us each.
	return uint32(s.npix) * 2
}
