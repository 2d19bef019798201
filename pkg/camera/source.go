package camera

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/J3rr1ck/CamBridge/pkg/videodev"
)

// rawFrame is one frame handed to the conversion worker. recycle returns
// the backing storage to its owner (QBUF for kernel frames, a no-op for
// pushed frames) and must be called exactly once, after conversion.
type rawFrame struct {
	data        []byte
	sequence    uint32
	timestampNs int64
	recycle     func()
}

// frameSource abstracts where a session's frames come from: the kernel
// dequeue path or the external push inbox.
type frameSource interface {
	// start arms the source (initial QBUF of the whole pool + STREAMON).
	start() error
	// fetch blocks up to timeout for one frame. videodev.ErrTimeout and
	// videodev.ErrWouldBlock are recoverable; anything else is fatal.
	fetch(timeout time.Duration) (rawFrame, error)
	// stop halts delivery and returns kernel-owned buffers to the pool.
	stop() error
	// close releases the source entirely.
	close() error
}

// deviceSource rotates the memory-mapped kernel pool.
type deviceSource struct {
	node  *videodev.Node
	count int
}

func newDeviceSource(node *videodev.Node, count int) *deviceSource {
	return &deviceSource{node: node, count: count}
}

func (s *deviceSource) start() error {
	for i := 0; i < s.count; i++ {
		if err := s.node.QueueBuffer(i); err != nil {
			return fmt.Errorf("initial queue of buffer %d: %w", i, err)
		}
	}
	return s.node.StreamOn()
}

func (s *deviceSource) fetch(timeout time.Duration) (rawFrame, error) {
	f, err := s.node.DequeueBuffer(timeout)
	if err != nil {
		return rawFrame{}, err
	}
	data := s.node.Buffer(f.Index)
	if data == nil {
		return rawFrame{}, errors.New("dequeued buffer has no mapping")
	}
	if f.BytesUsed < len(data) {
		data = data[:f.BytesUsed]
	}
	index := f.Index
	return rawFrame{
		data:        data,
		sequence:    f.Sequence,
		timestampNs: f.TimestampNs,
		recycle: func() {
			if err := s.node.QueueBuffer(index); err != nil {
				logger.Warnf("requeue buffer %d: %v", index, err)
			}
		},
	}, nil
}

func (s *deviceSource) stop() error {
	return s.node.StreamOff()
}

func (s *deviceSource) close() error {
	if _, err := s.node.RequestBuffers(0); err != nil {
		logger.Warnf("release buffer pool: %v", err)
	}
	return s.node.Close()
}

// externalSource is the push ingress: a bounded inbox fed by
// PushExternalFrame. Pushes beyond capacity are rejected, never silently
// dropped.
type externalSource struct {
	frames chan rawFrame
	done   chan struct{}
	seq    atomic.Uint32
}

var errInboxFull = errors.New("external frame inbox full")

func newExternalSource(capacity int) *externalSource {
	return &externalSource{
		frames: make(chan rawFrame, capacity),
		done:   make(chan struct{}),
	}
}

func (s *externalSource) push(data []byte, timestampNs int64) error {
	select {
	case <-s.done:
		return errors.New("source closed")
	default:
	}
	// The sequence is assigned at fetch, so a rejected push leaves no gap.
	f := rawFrame{
		data:        data,
		timestampNs: timestampNs,
		recycle:     func() {},
	}
	select {
	case s.frames <- f:
		return nil
	default:
		return errInboxFull
	}
}

func (s *externalSource) start() error { return nil }

func (s *externalSource) fetch(timeout time.Duration) (rawFrame, error) {
	select {
	case f := <-s.frames:
		f.sequence = s.seq.Add(1)
		return f, nil
	case <-s.done:
		return rawFrame{}, videodev.ErrTimeout
	case <-time.After(timeout):
		return rawFrame{}, videodev.ErrTimeout
	}
}

func (s *externalSource) stop() error { return nil }

func (s *externalSource) close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

var monoBase = time.Now()

// monotonicNow stamps externally pushed frames. time.Since reads the
// runtime monotonic clock, so stamps never jump with wall-time changes.
func monotonicNow() int64 {
	return int64(time.Since(monoBase))
}
