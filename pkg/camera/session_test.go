package camera

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/J3rr1ck/CamBridge/pkg/hal"
	"github.com/J3rr1ck/CamBridge/pkg/videodev"
)

var testFormats = []videodev.FormatInfo{
	{PixelFormat: FourCCYUYV, Width: 640, Height: 480, FrameRates: []float64{30, 15}},
	{PixelFormat: FourCCYUYV, Width: 1280, Height: 720, FrameRates: []float64{30}},
	{PixelFormat: FourCCMJPEG, Width: 1920, Height: 1080, FrameRates: []float64{30}},
}

// fakeSource feeds the worker from a test-controlled channel.
type fakeSource struct {
	frames  chan rawFrame
	started bool
	mu      sync.Mutex
	stops   int
	closes  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan rawFrame, 128)}
}

func (f *fakeSource) start() error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) fetch(timeout time.Duration) (rawFrame, error) {
	select {
	case fr := <-f.frames:
		return fr, nil
	case <-time.After(timeout):
		return rawFrame{}, videodev.ErrTimeout
	}
}

func (f *fakeSource) stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) feedYUYV(width, height int, y, u, v byte, seq uint32, tsNs int64) {
	data := make([]byte, width*height*2)
	for i := 0; i < len(data); i += 4 {
		data[i] = y
		data[i+1] = u
		data[i+2] = y
		data[i+3] = v
	}
	f.frames <- rawFrame{data: data, sequence: seq, timestampNs: tsNs, recycle: func() {}}
}

// recordingCallback captures every delivery for inspection.
type recordingCallback struct {
	mu       sync.Mutex
	shutters []hal.ShutterMsg
	errs     []hal.ErrorMsg
	results  []hal.CaptureResult
	order    []string
}

func (c *recordingCallback) Notify(msgs []hal.NotifyMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		switch m.Type {
		case hal.MsgTypeShutter:
			c.shutters = append(c.shutters, m.Shutter)
			c.order = append(c.order, fmt.Sprintf("shutter:%d", m.Shutter.FrameNumber))
		case hal.MsgTypeError:
			c.errs = append(c.errs, m.Error)
			c.order = append(c.order, fmt.Sprintf("error:%d", m.Error.FrameNumber))
		}
	}
}

func (c *recordingCallback) ProcessCaptureResult(results []hal.CaptureResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range results {
		c.results = append(c.results, r)
		c.order = append(c.order, fmt.Sprintf("result:%d", r.FrameNumber))
	}
}

func (c *recordingCallback) counts() (shutters, errs, results int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.shutters), len(c.errs), len(c.results)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestDevice(t *testing.T, src frameSource) *Device {
	t.Helper()
	dev := NewDevice("cam0", "", testFormats, CharacteristicsOptions{})
	dev.sourceFactory = func(hal.Stream, int) (frameSource, error) {
		return src, nil
	}
	dev.SetAvailable(true)
	return dev
}

func streamConfig(width, height uint32) hal.StreamConfiguration {
	return hal.StreamConfiguration{Streams: []hal.Stream{{
		ID:     0,
		Type:   hal.StreamTypeOutput,
		Width:  width,
		Height: height,
		Format: hal.PixelFormatYCbCr420888,
	}}}
}

func mustOpenConfigured(t *testing.T, dev *Device, cb hal.CameraCallback, w, h uint32) *Session {
	t.Helper()
	s, err := dev.Open(cb)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConfigureStreams(streamConfig(w, h)); err != nil {
		t.Fatal(err)
	}
	return s
}

// submitAll retries the soft queue bound the way the framework does.
func submitAll(t *testing.T, s *Session, reqs []hal.CaptureRequest) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(reqs) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("could not submit all requests, %d left", len(reqs))
		}
		n, err := s.ProcessCaptureRequest(reqs)
		if err != nil {
			t.Fatal(err)
		}
		reqs = reqs[n:]
		if len(reqs) > 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func makeRequests(from, n int) []hal.CaptureRequest {
	reqs := make([]hal.CaptureRequest, n)
	for i := range reqs {
		reqs[i] = hal.CaptureRequest{
			FrameNumber:     int64(from + i),
			OutputStreamIDs: []int32{0},
		}
	}
	return reqs
}

func TestPreviewHappyPath(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s := mustOpenConfigured(t, dev, cb, 1280, 720)
	defer s.Close()

	const n = 10
	for i := 0; i < n; i++ {
		src.feedYUYV(1280, 720, 0x80, 0x40, 0xC0, uint32(i+1), int64((i+1)*1_000_000))
	}
	submitAll(t, s, makeRequests(0, n))

	waitFor(t, "10 results", func() bool {
		_, _, results := cb.counts()
		return results == n
	})

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.errs) != 0 {
		t.Fatalf("unexpected errors: %+v", cb.errs)
	}
	if len(cb.shutters) != n {
		t.Fatalf("got %d shutters, want %d", len(cb.shutters), n)
	}
	var lastTs int64 = -1
	for i, sh := range cb.shutters {
		if sh.FrameNumber != int64(i) {
			t.Errorf("shutter %d carries frame %d", i, sh.FrameNumber)
		}
		if sh.TimestampNs <= lastTs {
			t.Errorf("shutter %d timestamp %d not monotonic", i, sh.TimestampNs)
		}
		lastTs = sh.TimestampNs
	}
	slots := make(map[int64]bool)
	for i, res := range cb.results {
		if res.FrameNumber != int64(i) {
			t.Errorf("result %d carries frame %d", i, res.FrameNumber)
		}
		if res.PartialResult != 1 {
			t.Errorf("result %d partial count %d", i, res.PartialResult)
		}
		ts, ok := res.Result.Int64(hal.KeySensorTimestamp)
		if !ok || ts != cb.shutters[i].TimestampNs {
			t.Errorf("result %d sensor timestamp %d != shutter %d", i, ts, cb.shutters[i].TimestampNs)
		}
		if len(res.OutputBuffers) != 1 {
			t.Fatalf("result %d has %d buffers", i, len(res.OutputBuffers))
		}
		if i < 4 { // first ring cycle carries distinct slots
			if slots[res.OutputBuffers[0].BufferID] {
				t.Errorf("slot %d reused within the first ring cycle", res.OutputBuffers[0].BufferID)
			}
			slots[res.OutputBuffers[0].BufferID] = true
		}
	}
	// Shutter n precedes result n, and both sequences are ordered.
	seen := map[string]int{}
	for i, ev := range cb.order {
		seen[ev] = i
	}
	for i := 0; i < n; i++ {
		if seen[fmt.Sprintf("shutter:%d", i)] > seen[fmt.Sprintf("result:%d", i)] {
			t.Errorf("shutter %d delivered after its result", i)
		}
	}
}

func TestConversionFromPacked422(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s := mustOpenConfigured(t, dev, cb, 640, 480)
	defer s.Close()

	src.feedYUYV(640, 480, 0x80, 0x40, 0xC0, 1, 1000)
	submitAll(t, s, makeRequests(0, 1))

	waitFor(t, "1 result", func() bool {
		_, _, results := cb.counts()
		return results == 1
	})

	buf := cb.results[0].OutputBuffers[0].Handle.(*OutputBuffer)
	for row := 0; row < buf.Height; row++ {
		for col := 0; col < buf.Width; col++ {
			if got := buf.YPlane()[row*buf.RowStrideY+col]; got != 0x80 {
				t.Fatalf("Y[%d,%d] = %#x, want 0x80", row, col, got)
			}
		}
	}
	for row := 0; row < buf.Height/2; row++ {
		for col := 0; col < buf.Width/2; col++ {
			if got := buf.UPlane()[row*buf.RowStrideUV+col]; got != 0x40 {
				t.Fatalf("U[%d,%d] = %#x, want 0x40", row, col, got)
			}
			if got := buf.VPlane()[row*buf.RowStrideUV+col]; got != 0xC0 {
				t.Fatalf("V[%d,%d] = %#x, want 0xC0", row, col, got)
			}
		}
	}
}

// shortDecoder fails its first decode with a short buffer, then behaves.
type shortDecoder struct {
	mu    sync.Mutex
	calls int
}

func (d *shortDecoder) Decode(src []byte, width, height int) ([]byte, error) {
	d.mu.Lock()
	d.calls++
	first := d.calls == 1
	d.mu.Unlock()
	if first {
		return make([]byte, width*height), nil // short: missing chroma
	}
	return make([]byte, width*height*3/2), nil
}

func TestMJPEGFallbackAndShortDecode(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := NewDevice("cam0", "", testFormats, CharacteristicsOptions{},
		WithDecoder(&shortDecoder{}))
	dev.sourceFactory = func(hal.Stream, int) (frameSource, error) { return src, nil }
	dev.SetAvailable(true)
	s := mustOpenConfigured(t, dev, cb, 1920, 1080)
	defer s.Close()

	src.frames <- rawFrame{data: []byte{0xff, 0xd8}, sequence: 1, timestampNs: 10, recycle: func() {}}
	src.frames <- rawFrame{data: []byte{0xff, 0xd8}, sequence: 2, timestampNs: 20, recycle: func() {}}
	submitAll(t, s, makeRequests(0, 2))

	waitFor(t, "error then result", func() bool {
		_, errs, results := cb.counts()
		return errs == 1 && results == 1
	})

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.errs[0].FrameNumber != 0 || cb.errs[0].Code != hal.ErrorRequest {
		t.Fatalf("first request should fail with ERROR_REQUEST, got %+v", cb.errs[0])
	}
	if cb.results[0].FrameNumber != 1 {
		t.Fatalf("second request should succeed, got result for %d", cb.results[0].FrameNumber)
	}
	if ts, _ := cb.results[0].Result.Int64(hal.KeySensorTimestamp); ts != 20 {
		t.Fatalf("sensor timestamp = %d, want 20", ts)
	}
}

func TestFlushMidStream(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s := mustOpenConfigured(t, dev, cb, 640, 480)
	defer s.Close()

	// Queue the full soft bound, but only feed five frames.
	n, err := s.ProcessCaptureRequest(makeRequests(0, 8))
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Fatalf("accepted %d of 8", n)
	}
	for i := 0; i < 5; i++ {
		src.feedYUYV(640, 480, 0x10, 0x20, 0x30, uint32(i+1), int64((i+1)*100))
	}
	waitFor(t, "5 results", func() bool {
		_, _, results := cb.counts()
		return results == 5
	})

	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	_, errs, _ := cb.counts()
	if errs != 3 {
		t.Fatalf("flush errored %d requests, want 3", errs)
	}
	cb.mu.Lock()
	for _, e := range cb.errs {
		if e.Code != hal.ErrorRequest {
			t.Errorf("flush error code %d, want ERROR_REQUEST", e.Code)
		}
	}
	cb.mu.Unlock()

	// Session accepts new work without reconfiguration. The kernel keeps
	// the sequence contiguous across a flush.
	for i := 0; i < 3; i++ {
		src.feedYUYV(640, 480, 0x10, 0x20, 0x30, uint32(6+i), int64(10000+i*100))
	}
	submitAll(t, s, makeRequests(100, 3))
	waitFor(t, "3 more results", func() bool {
		_, _, results := cb.counts()
		return results == 8
	})
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for i, want := range []int64{100, 101, 102} {
		if got := cb.results[5+i].FrameNumber; got != want {
			t.Errorf("post-flush result %d is frame %d, want %d", i, got, want)
		}
	}
}

func TestBackpressure(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s := mustOpenConfigured(t, dev, cb, 640, 480)
	defer s.Close()

	n, err := s.ProcessCaptureRequest(makeRequests(0, 20))
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 { // 2x default pipeline depth
		t.Fatalf("accepted %d, want the soft bound of 8", n)
	}
}

func TestEmptyOutputsRejected(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s := mustOpenConfigured(t, dev, cb, 640, 480)
	defer s.Close()

	n, err := s.ProcessCaptureRequest([]hal.CaptureRequest{{FrameNumber: 7}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("accepted %d, want 0", n)
	}
	waitFor(t, "error notify", func() bool {
		_, errs, _ := cb.counts()
		return errs == 1
	})
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.errs[0].FrameNumber != 7 || cb.errs[0].Code != hal.ErrorRequest {
		t.Fatalf("got %+v", cb.errs[0])
	}
}

func TestSequenceGapErrorsRequests(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s := mustOpenConfigured(t, dev, cb, 640, 480)
	defer s.Close()

	submitAll(t, s, makeRequests(0, 3))
	src.feedYUYV(640, 480, 1, 2, 3, 1, 100)
	src.feedYUYV(640, 480, 1, 2, 3, 3, 300) // sequence 2 lost

	waitFor(t, "2 results and 1 error", func() bool {
		_, errs, results := cb.counts()
		return errs == 1 && results == 2
	})
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.errs[0].FrameNumber != 1 {
		t.Errorf("lost sequence errored frame %d, want 1", cb.errs[0].FrameNumber)
	}
	if cb.results[0].FrameNumber != 0 || cb.results[1].FrameNumber != 2 {
		t.Errorf("results carried frames %d,%d, want 0,2",
			cb.results[0].FrameNumber, cb.results[1].FrameNumber)
	}
}

func TestConfigureStreamsValidation(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s, err := dev.Open(cb)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Two streams.
	cfg := streamConfig(640, 480)
	cfg.Streams = append(cfg.Streams, cfg.Streams[0])
	if _, err := s.ConfigureStreams(cfg); !errors.Is(err, hal.ErrInvalidArgument) {
		t.Fatalf("two streams: %v", err)
	}
	// Input stream.
	cfg = streamConfig(640, 480)
	cfg.Streams[0].Type = hal.StreamTypeInput
	if _, err := s.ConfigureStreams(cfg); !errors.Is(err, hal.ErrInvalidArgument) {
		t.Fatalf("input stream: %v", err)
	}
	// Unadvertised geometry.
	if _, err := s.ConfigureStreams(streamConfig(333, 222)); !errors.Is(err, hal.ErrInvalidArgument) {
		t.Fatalf("bogus geometry: %v", err)
	}

	// A valid configure, then a failing one: prior config is preserved.
	if _, err := s.ConfigureStreams(streamConfig(640, 480)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConfigureStreams(streamConfig(333, 222)); !errors.Is(err, hal.ErrInvalidArgument) {
		t.Fatalf("bogus geometry after configure: %v", err)
	}
	src.feedYUYV(640, 480, 1, 2, 3, 1, 100)
	submitAll(t, s, makeRequests(0, 1))
	waitFor(t, "result on preserved config", func() bool {
		_, _, results := cb.counts()
		return results == 1
	})
}

func TestConfigureStreamsIdempotent(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s, err := dev.Open(cb)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	first, err := s.ConfigureStreams(streamConfig(640, 480))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.ConfigureStreams(streamConfig(640, 480))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Fatalf("descriptors differ: %+v vs %+v", first, second)
	}
}

func TestCloseIdempotentAndSilent(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s := mustOpenConfigured(t, dev, cb, 640, 480)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	preShutters, preErrs, preResults := cb.counts()
	src.feedYUYV(640, 480, 1, 2, 3, 1, 100)
	if _, err := s.ProcessCaptureRequest(makeRequests(0, 1)); !errors.Is(err, hal.ErrCameraDevice) {
		t.Fatalf("request after close: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	shutters, errs, results := cb.counts()
	if shutters != preShutters || errs != preErrs || results != preResults {
		t.Fatalf("callbacks after close: %d/%d/%d -> %d/%d/%d",
			preShutters, preErrs, preResults, shutters, errs, results)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.closes == 0 {
		t.Error("close did not release the source")
	}
}

func TestCloseErrorsQueuedRequests(t *testing.T) {
	src := newFakeSource()
	cb := &recordingCallback{}
	dev := newTestDevice(t, src)
	s := mustOpenConfigured(t, dev, cb, 640, 480)

	if _, err := s.ProcessCaptureRequest(makeRequests(0, 4)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	_, errs, _ := cb.counts()
	if errs != 4 {
		t.Fatalf("close errored %d queued requests, want 4", errs)
	}
}

func TestPushExternalFrame(t *testing.T) {
	cb := &recordingCallback{}
	dev := NewDevice("ext0", "", testFormats, CharacteristicsOptions{}, WithExternalIngress())
	dev.SetAvailable(true)
	s := mustOpenConfigured(t, dev, cb, 640, 480)
	defer s.Close()

	submitAll(t, s, makeRequests(0, 1))

	frame := make([]byte, 640*480*2)
	for i := range frame {
		frame[i] = 0x55
	}
	if err := s.PushExternalFrame(frame, 640, 480, FourCCYUYV); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "pushed frame result", func() bool {
		_, _, results := cb.counts()
		return results == 1
	})

	// Dimension mismatch is rejected up front.
	if err := s.PushExternalFrame(frame, 320, 240, FourCCYUYV); !errors.Is(err, hal.ErrInvalidArgument) {
		t.Fatalf("mismatched push: %v", err)
	}
}
