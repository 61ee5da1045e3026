package plunger

import "pincab.dev/config"

// Calibration session states.
const (
	calSettling = iota
	calAtRest
	calRetracting
	calPossiblyReleasing
)

// settle time before rest samples count, and the session length limit
// enforced by the main loop.
const (
	calSettleUS = 1000000
	// SessionTimeoutUS is how long a calibration session runs before
	// the main loop commits it.
	SessionTimeoutUS = 15000000
)

// calSession accumulates calibration data while the mode is active:
// the min/max envelope of raw readings, a moving average of the rest
// position, and the measured release traversal times.
type calSession struct {
	state int
	t0    uint32

	min, max uint16

	zeroSum   uint64
	zeroCount uint32

	rtSum   uint32 // microseconds
	rtCount uint32

	releaseStart    uint32
	releaseStartPos uint16
	prev            Reading
	havePrev        bool
}

// BeginCalibration opens a session. The mode runs until
// EndCalibration, which the main loop calls on button release or after
// SessionTimeoutUS.
func (r *Reader) BeginCalibration(now uint32) {
	r.cal = &calSession{
		state: calSettling,
		t0:    now,
		min:   0xffff,
	}
	// Neutral calibration while measuring, so the envelope isn't
	// clipped by the old settings.
	r.setCalibration(config.DefaultCalZero, config.DefaultCalMax)
}

// Calibrating reports whether a session is active.
func (r *Reader) Calibrating() bool {
	return r.cal != nil
}

// CalibrationStarted returns the session start time.
func (r *Reader) CalibrationStarted() (uint32, bool) {
	if r.cal == nil {
		return 0, false
	}
	return r.cal.t0, true
}

// EndCalibration commits the session into the config image. A session
// without usable data restores the defaults; the next session can
// still succeed. The caller is responsible for persisting the config.
func (r *Reader) EndCalibration() {
	s := r.cal
	r.cal = nil
	if s == nil {
		return
	}
	cal := &r.cfg.Plunger.Cal
	if s.zeroCount == 0 || s.max <= s.min {
		cal.Zero = config.DefaultCalZero
		cal.Max = config.DefaultCalMax
		cal.TRelease = 0
		r.setCalibration(cal.Zero, cal.Max)
		return
	}
	zero := uint16(s.zeroSum / uint64(s.zeroCount))
	max := s.max
	if max <= zero {
		cal.Zero = config.DefaultCalZero
		cal.Max = config.DefaultCalMax
		cal.TRelease = 0
		r.setCalibration(cal.Zero, cal.Max)
		return
	}
	cal.Zero = zero
	cal.Max = max
	if s.rtCount > 0 {
		ms := s.rtSum / s.rtCount / 1000
		if ms > 255 {
			ms = 255
		}
		cal.TRelease = byte(ms)
	}
	r.setCalibration(zero, max)
}

// sample feeds one raw reading into the session.
func (s *calSession) sample(rd Reading) {
	if rd.T-s.t0 < calSettleUS {
		// Let the user get their hand off the plunger first.
		return
	}
	if rd.Pos < s.min {
		s.min = rd.Pos
	}
	if rd.Pos > s.max {
		s.max = rd.Pos
	}
	defer func() {
		s.prev = rd
		s.havePrev = true
	}()

	switch s.state {
	case calSettling:
		s.state = calAtRest
		fallthrough
	case calAtRest:
		// Rest samples: near the running average, or the first ones.
		avg := rd.Pos
		if s.zeroCount > 0 {
			avg = uint16(s.zeroSum / uint64(s.zeroCount))
		}
		diff := int(rd.Pos) - int(avg)
		if diff < 0 {
			diff = -diff
		}
		if diff < 1<<12 {
			s.zeroSum += uint64(rd.Pos)
			s.zeroCount++
			return
		}
		if rd.Pos > avg {
			s.state = calRetracting
		}
	case calRetracting:
		if !s.havePrev {
			return
		}
		// A fast forward swing marks a possible release; time it to
		// measure the release traversal.
		if rd.Pos < s.prev.Pos && s.prev.Pos-rd.Pos > 1<<12 {
			s.state = calPossiblyReleasing
			s.releaseStart = s.prev.T
			s.releaseStartPos = s.prev.Pos
		}
	case calPossiblyReleasing:
		zero := uint16(0)
		if s.zeroCount > 0 {
			zero = uint16(s.zeroSum / uint64(s.zeroCount))
		}
		if rd.Pos <= zero {
			// Crossed the rest point: record the traversal time from
			// the release start.
			s.rtSum += rd.T - s.releaseStart
			s.rtCount++
			s.state = calAtRest
		} else if rd.Pos > s.prev.Pos {
			// Moving backwards again; not a release.
			s.state = calRetracting
		}
	}
}
