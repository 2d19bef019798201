package camera

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/J3rr1ck/CamBridge/pkg/hal"
	"github.com/J3rr1ck/CamBridge/pkg/metrics"
	"github.com/J3rr1ck/CamBridge/pkg/videodev"
)

type sessionState int32

const (
	stateIdle sessionState = iota
	stateActive
	stateFlushing
	stateClosed
	stateErrored
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateActive:
		return "ACTIVE"
	case stateFlushing:
		return "FLUSHING"
	case stateClosed:
		return "CLOSED"
	case stateErrored:
		return "ERROR"
	}
	return "unknown"
}

// fetchTimeout bounds every worker wait on the capture source so close
// and flush stay prompt. Timeouts are recoverable and simply retried.
const fetchTimeout = 500 * time.Millisecond

// Session owns the request queue, the conversion worker, the V4L2 buffer
// rotation and the output ring for one open camera.
//
// Locking: mu guards the queue, the state enum, the configured stream and
// the ring cursor. The worker never holds mu across an ioctl, a blocking
// dequeue or a framework callback; it copies what it needs, unlocks, then
// works. Callbacks are always dispatched with no lock held.
type Session struct {
	cameraID string
	dev      *Device
	cb       hal.CameraCallback
	decoder  Decoder
	depth    int
	bound    int

	mu   sync.Mutex
	cond *sync.Cond

	state      sessionState
	queue      []hal.CaptureRequest
	configured bool
	stream     hal.Stream
	halStream  hal.HalStream
	srcFourcc  uint32
	node       *videodev.Node
	source     frameSource
	ext        *externalSource
	pool       *bufferPool
	ringNext   int

	inConversion bool
	lastSeq      uint32
	haveSeq      bool

	framesDelivered uint64
	errorsSent      uint64

	workerStarted bool
	wg            sync.WaitGroup
	inCallback    atomic.Int32
	teardownOnce  sync.Once
}

func newSession(dev *Device, cb hal.CameraCallback) *Session {
	s := &Session{
		cameraID: dev.id,
		dev:      dev,
		cb:       cb,
		decoder:  dev.decoder,
		depth:    dev.depth,
		bound:    dev.queueBound,
		state:    stateIdle,
	}
	s.cond = sync.NewCond(&s.mu)
	metrics.ActiveSessions.Inc()
	return s
}

// ConfigureStreams validates and commits a stream set. The core supports
// exactly one OUTPUT stream in the flexible planar 4:2:0 format; a failed
// validation leaves any prior configuration untouched.
func (s *Session) ConfigureStreams(cfg hal.StreamConfiguration) ([]hal.HalStream, error) {
	s.mu.Lock()
	if s.state == stateClosed || s.state == stateErrored {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", hal.ErrCameraDevice, s.state)
	}

	if len(cfg.Streams) != 1 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: expected exactly one stream, got %d", hal.ErrInvalidArgument, len(cfg.Streams))
	}
	stream := cfg.Streams[0]
	if stream.Type != hal.StreamTypeOutput {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: only OUTPUT streams are supported", hal.ErrInvalidArgument)
	}
	if stream.Format != hal.PixelFormatYCbCr420888 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: only %s output is supported, got %s",
			hal.ErrInvalidArgument, hal.PixelFormatYCbCr420888, stream.Format)
	}
	if !s.dev.IsStreamCombinationSupported(cfg) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %dx%d is not an advertised configuration",
			hal.ErrInvalidArgument, stream.Format, stream.Width, stream.Height)
	}
	srcFourcc, ok := chooseSource(s.dev.formats, stream)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no capture source can feed %s %dx%d",
			hal.ErrInvalidArgument, stream.Format, stream.Width, stream.Height)
	}

	// Wait out any in-flight conversion before tearing old state down.
	for s.inConversion {
		s.cond.Wait()
	}
	prevSource := s.source
	prevPool := s.pool
	prevNode := s.node
	prevConfigured := s.configured
	s.configured = false
	s.state = stateIdle
	s.haveSeq = false
	s.mu.Unlock()

	if prevConfigured && prevSource != nil {
		if err := prevSource.stop(); err != nil {
			logger.Warnf("camera %s: stop previous stream: %v", s.cameraID, err)
		}
		if prevNode != nil {
			if _, err := prevNode.RequestBuffers(0); err != nil {
				logger.Warnf("camera %s: release previous pool: %v", s.cameraID, err)
			}
		}
	}
	if prevPool != nil {
		prevPool.stop()
	}

	source, node, err := s.buildSource(stream, srcFourcc)
	if err != nil {
		return nil, err
	}

	pool := newBufferPool(s.depth, int(stream.Width), int(stream.Height))

	halStream := hal.HalStream{
		ID:                stream.ID,
		OverrideFormat:    stream.Format,
		OverrideDataSpace: stream.DataSpace,
		ProducerUsage:     hal.UsageCPUWriteOften | hal.UsageCameraWrite,
		MaxBuffers:        int32(s.depth),
	}

	s.mu.Lock()
	s.stream = stream
	s.halStream = halStream
	s.srcFourcc = srcFourcc
	s.node = node
	s.source = source
	s.pool = pool
	s.ringNext = 0
	s.configured = true
	if !s.workerStarted {
		s.workerStarted = true
		s.wg.Add(1)
		go s.worker()
	}
	s.mu.Unlock()

	logger.Infof("camera %s configured: %s %dx%d from %s, ring of %d",
		s.cameraID, stream.Format, stream.Width, stream.Height,
		videodev.FourCCString(srcFourcc), s.depth)
	return []hal.HalStream{halStream}, nil
}

// buildSource opens and prepares the capture source for a committed
// stream: the kernel node with its mapped pool, or the push inbox.
func (s *Session) buildSource(stream hal.Stream, srcFourcc uint32) (frameSource, *videodev.Node, error) {
	if s.dev.sourceFactory != nil {
		src, err := s.dev.sourceFactory(stream, s.depth)
		return src, nil, err
	}
	if s.dev.external {
		ext := newExternalSource(2 * s.depth)
		s.mu.Lock()
		s.ext = ext
		s.mu.Unlock()
		return ext, nil, nil
	}

	node := s.node
	if node == nil {
		var err error
		node, err = s.dev.openNode()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", hal.ErrCameraDevice, err)
		}
	}

	if _, err := node.SetFormat(srcFourcc, stream.Width, stream.Height); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", hal.ErrInvalidArgument, err)
	}
	if fps := maxFpsFor(s.dev.formats, srcFourcc, stream.Width, stream.Height); fps > 0 {
		if err := node.SetFrameRate(fps); err != nil {
			logger.Debugf("camera %s: frame rate hint %f not taken: %v", s.cameraID, fps, err)
		}
	}
	granted, err := node.RequestBuffers(s.depth)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", hal.ErrCameraDevice, err)
	}
	if err := node.MapBuffers(); err != nil {
		node.RequestBuffers(0)
		return nil, nil, fmt.Errorf("%w: %v", hal.ErrCameraDevice, err)
	}
	return newDeviceSource(node, granted), node, nil
}

// ProcessCaptureRequest enqueues work in FIFO order. The queue is soft
// bounded at twice the pipeline depth; requests beyond the bound are not
// accepted and the caller retries. The first accepted request after
// configuration arms the source and moves the session to ACTIVE.
func (s *Session) ProcessCaptureRequest(reqs []hal.CaptureRequest) (int, error) {
	var (
		rejected []hal.CaptureRequest
		accepted int
		activate bool
	)

	s.mu.Lock()
	if s.state == stateClosed || s.state == stateErrored {
		st := s.state
		s.mu.Unlock()
		s.notifyRequestErrors(reqs)
		return 0, fmt.Errorf("%w: session is %s", hal.ErrCameraDevice, st)
	}
	if !s.configured {
		s.mu.Unlock()
		s.notifyRequestErrors(reqs)
		return 0, fmt.Errorf("%w: streams not configured", hal.ErrInvalidArgument)
	}

	for _, req := range reqs {
		if len(req.OutputStreamIDs) == 0 {
			rejected = append(rejected, req)
			continue
		}
		if len(s.queue) >= s.bound {
			break
		}
		s.queue = append(s.queue, req)
		accepted++
	}
	if accepted > 0 && s.state == stateIdle {
		s.state = stateActive
		activate = true
	}
	s.cond.Broadcast()
	source := s.source
	s.mu.Unlock()

	s.notifyRequestErrors(rejected)

	if activate {
		if err := source.start(); err != nil {
			logger.Errorf("camera %s: start streaming: %v", s.cameraID, err)
			s.fatalError()
			return 0, fmt.Errorf("%w: %v", hal.ErrCameraDevice, err)
		}
	}
	return accepted, nil
}

// PushExternalFrame is the alternative ingress for devices whose frames
// arrive from upstream of the kernel node. The frame is copied, stamped
// with a monotonic timestamp, and fed to the same worker the kernel path
// uses.
func (s *Session) PushExternalFrame(data []byte, width, height uint32, srcFormat uint32) error {
	s.mu.Lock()
	if s.state == stateClosed || s.state == stateErrored {
		s.mu.Unlock()
		return fmt.Errorf("%w: session is closed", hal.ErrCameraDevice)
	}
	if !s.configured || s.ext == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: session does not take pushed frames", hal.ErrInvalidArgument)
	}
	if width != s.stream.Width || height != s.stream.Height {
		s.mu.Unlock()
		return fmt.Errorf("%w: pushed %dx%d, configured %dx%d",
			hal.ErrInvalidArgument, width, height, s.stream.Width, s.stream.Height)
	}
	if srcFormat != s.srcFourcc {
		s.mu.Unlock()
		return fmt.Errorf("%w: pushed %s, session converts from %s",
			hal.ErrInvalidArgument, videodev.FourCCString(srcFormat), videodev.FourCCString(s.srcFourcc))
	}
	ext := s.ext
	s.mu.Unlock()

	if err := ext.push(append([]byte(nil), data...), monotonicNow()); err != nil {
		metrics.PushRejected.WithLabelValues(s.cameraID).Inc()
		return err
	}
	return nil
}

// Flush aborts queued work promptly: every request whose shutter has not
// fired is errored before Flush returns; the at-most-one request in
// conversion is allowed to finish. The session is ready for new requests
// afterwards without reconfiguration.
func (s *Session) Flush() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	aborted := s.queue
	s.queue = nil
	if s.state == stateActive {
		s.state = stateFlushing
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.notifyRequestErrors(aborted)

	s.mu.Lock()
	for s.inConversion {
		s.cond.Wait()
	}
	if s.state == stateFlushing {
		s.state = stateIdle
	}
	s.mu.Unlock()
	return nil
}

// Close terminates the session: requests still queued are failed with
// ERROR_REQUEST before Close returns, the worker is woken and joined, the
// node is stream-offed, the pools are released and the callback is dropped.
// Idempotent, and tolerant of being invoked from a callback running on
// the worker (the join is skipped there; the worker finishes teardown on
// its way out).
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	aborted := s.queue
	s.queue = nil
	s.state = stateClosed
	s.errorsSent += uint64(len(aborted))
	pool := s.pool
	cb := s.cb
	s.cond.Broadcast()
	s.mu.Unlock()

	// notify is silent once CLOSED, so the queued requests are failed
	// through the callback captured above.
	for _, req := range aborted {
		metrics.RequestErrors.WithLabelValues(s.cameraID, strconv.Itoa(int(hal.ErrorRequest))).Inc()
		if cb != nil {
			s.inCallback.Add(1)
			cb.Notify([]hal.NotifyMsg{hal.ErrorNotify(req.FrameNumber, hal.StreamIDInvalid, hal.ErrorRequest)})
			s.inCallback.Add(-1)
		}
	}

	if pool != nil {
		pool.stop()
	}

	if s.inCallback.Load() > 0 {
		// Re-entered from a dispatch; the worker observes CLOSED when the
		// callback returns and runs teardown itself.
		return nil
	}
	s.wg.Wait()
	s.teardown()
	return nil
}

func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		source := s.source
		s.source = nil
		s.node = nil
		s.cb = nil
		s.mu.Unlock()

		if source != nil {
			if err := source.stop(); err != nil {
				logger.Warnf("camera %s: stream off: %v", s.cameraID, err)
			}
			if err := source.close(); err != nil {
				logger.Warnf("camera %s: close source: %v", s.cameraID, err)
			}
		}
		metrics.ActiveSessions.Dec()
		s.dev.sessionClosed(s)
	})
}

// fatalError moves the session to its terminal error state: ERROR_DEVICE
// is notified, every pending request fails with ERROR_REQUEST, and only
// Close is useful afterwards.
func (s *Session) fatalError() {
	s.mu.Lock()
	if s.state == stateClosed || s.state == stateErrored {
		s.mu.Unlock()
		return
	}
	aborted := s.queue
	s.queue = nil
	s.state = stateErrored
	started := s.workerStarted
	s.cond.Broadcast()
	s.mu.Unlock()

	if pool := s.pool; pool != nil {
		pool.stop()
	}
	s.notifyError(hal.ErrorNotify(0, hal.StreamIDInvalid, hal.ErrorDevice))
	s.notifyRequestErrors(aborted)
	if !started {
		// No worker exists to tear down on its way out; release the
		// device here so it can be opened again.
		s.teardown()
	}
}

func (s *Session) deviceGone() {
	logger.Warnf("camera %s: device disconnected with live session", s.cameraID)
	s.fatalError()
}

// worker is the frame acquisition loop (one per session).
func (s *Session) worker() {
	defer func() {
		s.teardown()
		s.wg.Done()
	}()

	for {
		s.mu.Lock()
		for {
			if s.state == stateClosed || s.state == stateErrored {
				s.mu.Unlock()
				return
			}
			if s.state == stateFlushing && len(s.queue) == 0 && !s.inConversion {
				s.state = stateIdle
				s.cond.Broadcast()
			}
			if s.state == stateActive && len(s.queue) > 0 {
				break
			}
			s.cond.Wait()
		}
		source := s.source
		streamID := s.stream.ID
		pool := s.pool
		s.mu.Unlock()

		frame, err := source.fetch(fetchTimeout)
		if err != nil {
			if err == videodev.ErrTimeout || err == videodev.ErrWouldBlock {
				metrics.DequeueTimeouts.WithLabelValues(s.cameraID).Inc()
				continue
			}
			s.mu.Lock()
			stale := s.source != source || s.state != stateActive
			s.mu.Unlock()
			if stale {
				// Reconfigure or shutdown pulled the source out from
				// under the fetch; not a device fault.
				continue
			}
			logger.Errorf("camera %s: dequeue: %v", s.cameraID, err)
			s.fatalError()
			continue
		}
		metrics.FramesCaptured.WithLabelValues(s.cameraID).Inc()

		// Match the frame against the queue front, erroring requests for
		// any kernel sequence gap first.
		var gapErrors []hal.CaptureRequest
		s.mu.Lock()
		if s.haveSeq && frame.sequence > s.lastSeq+1 {
			lost := int(frame.sequence - s.lastSeq - 1)
			for i := 0; i < lost && len(s.queue) > 0; i++ {
				gapErrors = append(gapErrors, s.queue[0])
				s.queue = s.queue[1:]
			}
		}
		s.lastSeq = frame.sequence
		s.haveSeq = true

		if s.state != stateActive || len(s.queue) == 0 {
			s.mu.Unlock()
			frame.recycle()
			metrics.FramesDropped.WithLabelValues(s.cameraID).Inc()
			s.notifyRequestErrors(gapErrors)
			continue
		}
		req := s.queue[0]
		s.queue = s.queue[1:]
		s.inConversion = true
		slot := s.ringNext
		s.ringNext = (s.ringNext + 1) % pool.count()
		srcFourcc := s.srcFourcc
		width := int(s.stream.Width)
		height := int(s.stream.Height)
		s.mu.Unlock()

		s.notifyRequestErrors(gapErrors)
		s.notify(hal.ShutterNotify(req.FrameNumber, frame.timestampNs))
		s.applyRequestControls(req.Settings)

		buf := pool.acquire(slot)
		if buf == nil {
			// Pool stopped under us: close or fatal error in progress.
			frame.recycle()
			s.endConversion()
			continue
		}

		convErr := s.convert(frame, srcFourcc, width, height, buf)
		frame.recycle()

		if convErr != nil {
			logger.Warnf("camera %s: frame %d conversion: %v", s.cameraID, req.FrameNumber, convErr)
			pool.release(slot)
			s.notifyError(hal.ErrorNotify(req.FrameNumber, streamID, hal.ErrorRequest))
			s.endConversion()
			continue
		}

		fence := hal.NewFence()
		fence.Signal()

		result := hal.CaptureResult{
			FrameNumber:   req.FrameNumber,
			PartialResult: 1,
			OutputBuffers: []hal.StreamBuffer{{
				StreamID:     streamID,
				BufferID:     int64(slot),
				Status:       hal.BufferStatusOK,
				Handle:       buf,
				ReleaseFence: fence,
			}},
			Result: hal.Metadata{hal.KeySensorTimestamp: frame.timestampNs},
		}
		s.processResult(result)
		pool.release(slot)
		s.endConversion()
	}
}

func (s *Session) convert(frame rawFrame, srcFourcc uint32, width, height int, dst *OutputBuffer) error {
	switch srcFourcc {
	case FourCCYUYV:
		if err := yuyvToI420(frame.data, width, height, dst); err != nil {
			return err
		}
		metrics.FramesConverted.WithLabelValues(s.cameraID, "yuyv").Inc()
		return nil
	case FourCCMJPEG, FourCCJPEG:
		decoded, err := s.decoder.Decode(frame.data, width, height)
		if err != nil {
			return err
		}
		if err := copyI420(decoded, width, height, dst); err != nil {
			return err
		}
		metrics.FramesConverted.WithLabelValues(s.cameraID, "mjpeg").Inc()
		return nil
	case FourCCYUV420:
		if err := copyI420(frame.data, width, height, dst); err != nil {
			return err
		}
		metrics.FramesConverted.WithLabelValues(s.cameraID, "copy").Inc()
		return nil
	}
	return fmt.Errorf("no conversion from %s", videodev.FourCCString(srcFourcc))
}

// applyRequestControls pushes per-request integer controls to the node,
// best effort.
func (s *Session) applyRequestControls(settings hal.Metadata) {
	if settings == nil {
		return
	}
	ctrls, ok := settings[hal.KeyVendorControls].(map[v4l2.CtrlID]v4l2.CtrlValue)
	if !ok || len(ctrls) == 0 {
		return
	}
	s.mu.Lock()
	node := s.node
	s.mu.Unlock()
	if node == nil {
		return
	}
	for id, value := range ctrls {
		if err := node.SetControl(uint32(id), int32(value)); err != nil {
			logger.Warnf("camera %s: set ctrl(%d) to %d: %v", s.cameraID, id, value, err)
		}
	}
}

func (s *Session) endConversion() {
	s.mu.Lock()
	s.inConversion = false
	s.cond.Broadcast()
	s.mu.Unlock()
}

// notify delivers messages unless the session already closed. The
// callback is invoked without any session lock held.
func (s *Session) notify(msgs ...hal.NotifyMsg) {
	s.mu.Lock()
	closed := s.state == stateClosed
	cb := s.cb
	s.mu.Unlock()
	if closed || cb == nil {
		return
	}
	s.inCallback.Add(1)
	cb.Notify(msgs)
	s.inCallback.Add(-1)
}

func (s *Session) notifyError(msg hal.NotifyMsg) {
	s.mu.Lock()
	s.errorsSent++
	s.mu.Unlock()
	metrics.RequestErrors.WithLabelValues(s.cameraID, strconv.Itoa(int(msg.Error.Code))).Inc()
	s.notify(msg)
}

func (s *Session) notifyRequestErrors(reqs []hal.CaptureRequest) {
	for _, req := range reqs {
		s.notifyError(hal.ErrorNotify(req.FrameNumber, hal.StreamIDInvalid, hal.ErrorRequest))
	}
}

func (s *Session) processResult(result hal.CaptureResult) {
	s.mu.Lock()
	closed := s.state == stateClosed
	cb := s.cb
	s.framesDelivered++
	s.mu.Unlock()
	if closed || cb == nil {
		return
	}
	s.inCallback.Add(1)
	cb.ProcessCaptureResult([]hal.CaptureResult{result})
	s.inCallback.Add(-1)
}

func (s *Session) dumpState(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(w, "  session: %s\n", s.state)
	if s.configured {
		fmt.Fprintf(w, "  stream: %s %dx%d from %s\n",
			s.stream.Format, s.stream.Width, s.stream.Height, videodev.FourCCString(s.srcFourcc))
		if s.pool != nil && len(s.pool.bufs) > 0 {
			fmt.Fprintf(w, "  ring: %d x %s\n", len(s.pool.bufs), dumpBytes(s.pool.bufs[0].Size()))
		}
	}
	fmt.Fprintf(w, "  queued: %d, delivered: %d, errors: %d\n",
		len(s.queue), s.framesDelivered, s.errorsSent)
}
