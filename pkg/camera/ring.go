package camera

import (
	"sync"
)

// strideAlign pads plane strides the way common allocators do.
const strideAlign = 16

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}

// OutputBuffer is one slot of the session's output ring: a contiguous
// planar YUV420 image laid out Y plane, then U, then V. The layout is a
// documented restriction of this pool; there is no per-plane allocation.
type OutputBuffer struct {
	Slot        int
	Width       int
	Height      int
	RowStrideY  int
	RowStrideUV int

	data []byte
	uOff int
	vOff int
}

func newOutputBuffer(slot, width, height int) *OutputBuffer {
	yStride := alignUp(width, strideAlign)
	uvStride := alignUp(width/2, strideAlign)
	ySize := yStride * height
	uvSize := uvStride * (height / 2)

	return &OutputBuffer{
		Slot:        slot,
		Width:       width,
		Height:      height,
		RowStrideY:  yStride,
		RowStrideUV: uvStride,
		data:        make([]byte, ySize+2*uvSize),
		uOff:        ySize,
		vOff:        ySize + uvSize,
	}
}

func (b *OutputBuffer) YPlane() []byte { return b.data[:b.uOff] }
func (b *OutputBuffer) UPlane() []byte { return b.data[b.uOff:b.vOff] }
func (b *OutputBuffer) VPlane() []byte { return b.data[b.vOff:] }

// Size is the total backing allocation in bytes.
func (b *OutputBuffer) Size() int { return len(b.data) }

// bufferPool is the output ring. Slots are acquired by the worker in ring
// order and released once the result referencing them has been dispatched.
// acquire blocks while the requested slot is still in use, so a dequeued
// source frame is never dropped for want of an output buffer.
type bufferPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	bufs    []*OutputBuffer
	inUse   []bool
	stopped bool
}

func newBufferPool(count, width, height int) *bufferPool {
	p := &bufferPool{
		bufs:  make([]*OutputBuffer, count),
		inUse: make([]bool, count),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.bufs {
		p.bufs[i] = newOutputBuffer(i, width, height)
	}
	return p
}

func (p *bufferPool) count() int {
	return len(p.bufs)
}

// acquire claims one slot, blocking until it is free. Returns nil once the
// pool has been stopped.
func (p *bufferPool) acquire(slot int) *OutputBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.inUse[slot] && !p.stopped {
		p.cond.Wait()
	}
	if p.stopped {
		return nil
	}
	p.inUse[slot] = true
	return p.bufs[slot]
}

func (p *bufferPool) release(slot int) {
	p.mu.Lock()
	p.inUse[slot] = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// stop wakes every blocked acquire; subsequent acquires return nil.
func (p *bufferPool) stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
}
