package plunger

// FrameSource is the acquisition side of a linear image sensor driver:
// the double-buffered frame hand-off both CCD drivers present.
type FrameSource interface {
	Init()
	Ready() bool
	Stable() ([]byte, uint32)
	Release()
	NPix() int
	SetExtraIntegrationTime(us uint32)
	AvgScanTime() uint32
}

// CCD adapts a linear image sensor into a position sensor by locating
// the shadow edge the plunger casts across the pixel file.
type CCD struct {
	src FrameSource
	// inverted marks sensors whose output stage inverts brightness
	// (the TCD1103 reads lit pixels low).
	inverted bool
	npix     int

	// Snapshot of the last analyzed frame, for pixel dumps.
	snap     []byte
	snapEdge int
	snapRev  bool
}

// NewCCD wraps a frame source. inverted selects sensors with an
// inverting output stage.
func NewCCD(src FrameSource, inverted bool) *CCD {
	return &CCD{
		src:      src,
		inverted: inverted,
		npix:     src.NPix(),
		snapEdge: NoEdge,
	}
}

func (c *CCD) Init() {
	c.src.Init()
}

func (c *CCD) Ready() bool {
	return c.src.Ready()
}

func (c *CCD) Read(r *Reading) bool {
	if !c.src.Ready() {
		return false
	}
	pix, ts := c.src.Stable()
	edge, rev, ok := findEdge(pix, c.inverted)
	if cap(c.snap) < len(pix) {
		c.snap = make([]byte, len(pix))
	}
	c.snap = c.snap[:len(pix)]
	copy(c.snap, pix)
	c.src.Release()
	c.snapRev = rev
	if !ok {
		c.snapEdge = NoEdge
		return false
	}
	c.snapEdge = edge
	r.Pos = uint16(int64(edge) * 65535 / int64(c.npix-1))
	r.T = ts
	return true
}

func (c *CCD) SetExtraIntegrationTime(us uint32) {
	c.src.SetExtraIntegrationTime(us)
}

func (c *CCD) AutoZero() {}

// DumpFrame copies the last analyzed frame for the host's sensor
// viewer. lowRes rescales to a fixed 128-pixel subset.
func (c *CCD) DumpFrame(lowRes bool) (Dump, bool) {
	if c.snap == nil {
		return Dump{}, false
	}
	d := Dump{
		Edge:        c.snapEdge,
		Reversed:    c.snapRev,
		AvgScanTime: c.src.AvgScanTime(),
	}
	if lowRes && len(c.snap) > 128 {
		d.Pix = make([]byte, 128)
		for i := range d.Pix {
			d.Pix[i] = c.snap[i*len(c.snap)/128]
		}
		if d.Edge != NoEdge {
			d.Edge = d.Edge * 128 / len(c.snap)
		}
	} else {
		d.Pix = append([]byte(nil), c.snap...)
	}
	return d, true
}

// findEdge locates the lit-to-shadow transition in a frame. The scan
// needs no per-pixel floating point: it thresholds at the midpoint of
// the frame's brightness envelope and walks from the lit end. Low
// contrast (a disconnected or saturated sensor) fails the scan.
func findEdge(pix []byte, inverted bool) (edge int, reversed, ok bool) {
	if len(pix) < 16 {
		return 0, false, false
	}
	lo, hi := pix[0], pix[0]
	for _, p := range pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi-lo < 32 {
		// No usable shadow contrast in this frame.
		return 0, false, false
	}
	mid := byte((int(lo) + int(hi)) / 2)
	lit := func(p byte) bool {
		if inverted {
			return p < mid
		}
		return p >= mid
	}
	// Orientation: the lit region must include one end of the array.
	// Average a handful of pixels at each end to shrug off noise.
	endAvg := func(start int) int {
		sum := 0
		for i := start; i < start+8; i++ {
			sum += int(pix[i])
		}
		return sum / 8
	}
	headLit := lit(byte(endAvg(0)))
	tailLit := lit(byte(endAvg(len(pix) - 8)))
	switch {
	case headLit && !tailLit:
		reversed = false
	case !headLit && tailLit:
		reversed = true
	default:
		// Both ends lit or both shadowed: no single edge.
		return 0, false, false
	}
	if reversed {
		for i := len(pix) - 1; i >= 0; i-- {
			if !lit(pix[i]) {
				return len(pix) - 1 - i, true, true
			}
		}
	} else {
		for i, p := range pix {
			if !lit(p) {
				return i, false, true
			}
		}
	}
	return 0, reversed, false
}
