// Package plunger turns raw position sensor frames into the calibrated
// joystick Z value, including the calibration workflow and the
// release-motion synthesizer that rewrites real readings into an
// idealized trajectory the host's physics model can follow.
package plunger

// Reading is one raw position snapshot from a sensor: a 16-bit
// position (0 = fully forward, 65535 = sensor maximum) and the
// microsecond timestamp of the measurement.
type Reading struct {
	Pos uint16
	T   uint32
}

// Sensor is the contract every position sensor driver satisfies.
type Sensor interface {
	// Init performs one-shot device setup and starts acquisition.
	Init()
	// Ready reports whether a fresh reading is available.
	Ready() bool
	// Read obtains the latest reading. It reports false when no good
	// reading could be taken; the caller skips the cycle.
	Read(r *Reading) bool
	// SetExtraIntegrationTime extends the exposure window for the
	// host's sensor-viewer tool. Ignored by non-imaging sensors.
	SetExtraIntegrationTime(us uint32)
	// AutoZero recenters sensors that drift (quadrature types).
	// Idempotent; a no-op for absolute sensors.
	AutoZero()
}

// Imager is implemented by image-type sensors that can dump their
// pixel frames to the host for setup and debugging.
type Imager interface {
	// DumpFrame copies the most recent stable frame. lowRes asks for
	// a rescaled subset to cut the transmission time.
	DumpFrame(lowRes bool) (Dump, bool)
}

// Dump is one diagnostic frame with its analysis results.
type Dump struct {
	Pix []byte
	// Edge is the detected shadow-edge pixel, or NoEdge.
	Edge int
	// Reversed reports that the sensor appears to be installed
	// backwards.
	Reversed bool
	// AvgScanTime and ProcessTime are in microseconds.
	AvgScanTime uint32
	ProcessTime uint32
}

// NoEdge is the Dump.Edge value when no shadow edge was found.
const NoEdge = 0xffff

// Null is the sensor used when no plunger is configured: never ready.
type Null struct{}

func (Null) Init()                          {}
func (Null) Ready() bool                    { return false }
func (Null) Read(*Reading) bool             { return false }
func (Null) SetExtraIntegrationTime(uint32) {}
func (Null) AutoZero()                      {}
