package plunger

import (
	"pincab.dev/config"
	"pincab.dev/outputs"
)

// JoyMax is the joystick axis range: reported positions are in
// [-JoyMax, JoyMax], positive retracted.
const JoyMax = 4096

// acc2 is half the constant acceleration of the idealized
// barrel-spring release, in calibrated units per microsecond squared,
// scaled by 2^48. Chosen so that a release from full retraction
// (JoyMax) reaches zero in 50ms: (JoyMax*acc2*dt^2)>>48 == JoyMax at
// dt=50000.
const acc2 = 112590

// Minimum sample spacing for the release detector. Readings arriving
// faster are coalesced so the motion model sees usable dt values.
const minSampleSpacingUS = 5000

// Release synthesizer states.
const (
	fireNone = iota
	fireTentative
	fireBounce
	fireSettle
)

const (
	bounceHoldUS = 25000
	settleHoldUS = 250000
)

// Reader sits between the raw sensor readings and the joystick Z
// value. It applies calibration, detects release motions and replaces
// them with an idealized trajectory, and drives the ZB-launch virtual
// button.
//
// The synthesizer exists because the host polls at ~100Hz while a
// released plunger completes its travel in ~50ms: reporting raw
// positions would let the host sample the motion at an arbitrary
// point. Instead the reader reports the retraction endpoint long
// enough to be observed, snaps to a bounce position modeling the
// barrel spring, then holds zero while the host's own physics model
// plays out the motion.
type Reader struct {
	sensor Sensor
	cfg    *config.Config
	st     *outputs.State

	zero uint16
	max  uint16
	// invCalRange is (JoyMax<<16)/(max-zero), cached on every
	// calibration change so scaling a reading needs no division.
	invCalRange int64

	// Release FSM.
	fire      int
	fireStart uint32 // state entry time
	startPos  int32  // calibrated position at release start
	prevPos   int32
	prevT     uint32
	havePrev  bool

	reported int32

	cal *calSession
}

func NewReader(sensor Sensor, cfg *config.Config, st *outputs.State) *Reader {
	r := &Reader{sensor: sensor, cfg: cfg, st: st}
	r.RestoreCalibration()
	return r
}

// RestoreCalibration applies the saved zero/max from the config.
func (r *Reader) RestoreCalibration() {
	r.setCalibration(r.cfg.Plunger.Cal.Zero, r.cfg.Plunger.Cal.Max)
}

func (r *Reader) setCalibration(zero, max uint16) {
	if max <= zero {
		zero = config.DefaultCalZero
		max = config.DefaultCalMax
	}
	r.zero = zero
	r.max = max
	r.invCalRange = (JoyMax << 16) / int64(max-zero)
}

// calibrate converts a raw reading to the signed joystick range.
func (r *Reader) calibrate(raw uint16) int32 {
	v := ((int64(raw) - int64(r.zero)) * r.invCalRange) >> 16
	if v > JoyMax {
		v = JoyMax
	}
	if v < -JoyMax {
		v = -JoyMax
	}
	return int32(v)
}

// Poll reads the sensor if a fresh frame is available and advances the
// reader state.
func (r *Reader) Poll() {
	if !r.sensor.Ready() {
		return
	}
	var rd Reading
	if !r.sensor.Read(&rd) {
		return
	}
	r.Process(rd)
}

// Process feeds one raw reading through calibration, the active
// calibration session if any, and the release synthesizer.
func (r *Reader) Process(rd Reading) {
	if r.cal != nil {
		r.cal.sample(rd)
	}
	pos := r.calibrate(rd.Pos)

	if !r.havePrev {
		r.havePrev = true
		r.prevPos = pos
		r.prevT = rd.T
		r.reported = pos
		return
	}
	dt := rd.T - r.prevT
	if dt < minSampleSpacingUS {
		// Coalesce: too soon for the motion model.
		return
	}

	switch r.fire {
	case fireNone:
		if r.prevPos >= JoyMax/6 && r.fasterThanModel(pos, dt) {
			r.fire = fireTentative
			r.fireStart = rd.T
			r.startPos = r.prevPos
			r.reported = r.startPos
		} else {
			r.reported = pos
		}
	case fireTentative:
		switch {
		case pos <= 0:
			r.fire = fireBounce
			r.fireStart = rd.T
			r.reported = -r.startPos / 6
		case !r.fasterThanModel(pos, dt):
			// Motion stopped matching the release model; back to
			// plain reporting.
			r.fire = fireNone
			r.reported = pos
		default:
			r.reported = r.startPos
		}
	case fireBounce:
		if rd.T-r.fireStart >= bounceHoldUS {
			r.fire = fireSettle
			r.fireStart = rd.T
			r.reported = 0
		} else {
			r.reported = -r.startPos / 6
		}
	case fireSettle:
		if rd.T-r.fireStart >= settleHoldUS {
			r.fire = fireNone
			r.reported = pos
		} else {
			r.reported = 0
		}
	}

	r.prevPos = pos
	r.prevT = rd.T
}

// fasterThanModel reports whether the forward motion from prevPos to
// pos over dt microseconds outruns a gravity-plus-spring release
// starting at prevPos. Pure fixed point:
//
//	pos < prevPos - (prevPos*acc2*dt^2)>>48
func (r *Reader) fasterThanModel(pos int32, dt uint32) bool {
	if r.prevPos <= 0 {
		return false
	}
	d := int64(dt)
	model := (int64(r.prevPos) * acc2 * d * d) >> 48
	return int64(pos) < int64(r.prevPos)-model
}

// Firing reports whether a release event is being synthesized.
func (r *Reader) Firing() bool {
	return r.fire != fireNone
}

// Position returns the value to report on the joystick Z axis. While
// the ZB-launch signal is lit the axis is forced to zero: the plunger
// is acting as a launch button, not a position input.
func (r *Reader) Position() int16 {
	if r.st.ZBLaunch.On {
		return 0
	}
	return int16(r.reported)
}

// LaunchActive reports whether the ZB-launch virtual button should be
// held: during a release event, or while the plunger is pushed forward
// past the configured distance. Only meaningful while the ZB-launch
// signal is lit.
func (r *Reader) LaunchActive() bool {
	if !r.st.ZBLaunch.On {
		return false
	}
	if r.fire != fireNone {
		return true
	}
	return r.reported < -r.pushThreshold()
}

// pushThreshold converts the configured push distance (1/1000")
// to calibrated units, assuming the standard ~3" of plunger travel
// across the calibrated range.
func (r *Reader) pushThreshold() int32 {
	return int32(r.cfg.Plunger.ZBLaunch.PushDistance) * JoyMax / 3000
}
