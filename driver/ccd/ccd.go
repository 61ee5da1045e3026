// Package ccd holds the frame hand-off machinery shared by the linear
// image sensor drivers: a double-buffered, timestamped pixel frame
// exchanged between the transfer-complete interrupt and the main-loop
// reader without locking.
package ccd

import "sync/atomic"

// Buffers is the double-buffered frame exchange. One bit identifies the
// buffer the transfer engine currently owns; one bit says whether the
// client holds the other (stable) buffer. The completion handler only
// flips the target when the client is not holding the stable buffer, so
// each buffer has at most one writer and at most one reader at any
// time. When the client is slow, frames are dropped silently by reusing
// the same target.
type Buffers struct {
	pix [2][]byte
	t   [2]uint32

	dmaTarget  atomic.Int32
	clientOwns atomic.Bool
	ready      atomic.Bool
	dropped    atomic.Uint32
}

func NewBuffers(npix int) *Buffers {
	b := &Buffers{}
	b.pix[0] = make([]byte, npix)
	b.pix[1] = make([]byte, npix)
	return b
}

// Target returns the buffer the transfer engine should fill next.
func (b *Buffers) Target() []byte {
	return b.pix[b.dmaTarget.Load()]
}

// Complete is called from the transfer-complete interrupt with the
// integration-midpoint timestamp of the frame just written. It returns
// the buffer for the next transfer.
func (b *Buffers) Complete(tMid uint32) []byte {
	tgt := b.dmaTarget.Load()
	if b.clientOwns.Load() {
		// Client still holds the stable buffer: drop this frame and
		// refill the same target.
		b.dropped.Add(1)
		return b.pix[tgt]
	}
	b.t[tgt] = tMid
	b.dmaTarget.Store(tgt ^ 1)
	b.clientOwns.Store(true)
	b.ready.Store(true)
	return b.pix[tgt^1]
}

// Ready reports whether a freshly filled frame is available.
func (b *Buffers) Ready() bool {
	return b.ready.Load()
}

// Stable returns the buffer not owned by the transfer engine, plus the
// midpoint timestamp of its integration window. Only valid between
// Ready and Release.
func (b *Buffers) Stable() ([]byte, uint32) {
	b.ready.Store(false)
	idx := b.dmaTarget.Load() ^ 1
	return b.pix[idx], b.t[idx]
}

// Release declares the client done with the stable buffer, permitting
// the next completed frame to take it.
func (b *Buffers) Release() {
	b.clientOwns.Store(false)
}

// Dropped returns the number of frames discarded because the client
// held the stable buffer across a completion.
func (b *Buffers) Dropped() uint32 {
	return b.dropped.Load()
}
