package server

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/J3rr1ck/CamBridge/pkg/camera"
	"github.com/J3rr1ck/CamBridge/pkg/hal"
	"github.com/J3rr1ck/CamBridge/pkg/video"
)

// capture drives one camera through the real HAL pipeline and fans the
// JPEG-encoded frames out to preview clients and an optional recorder.
// It exists so the debug surface exercises the same code path the
// framework does.
type capture struct {
	cameraID string
	session  *camera.Session
	width    int
	height   int

	frameNumber atomic.Int64

	mu       sync.Mutex
	subs     map[chan []byte]struct{}
	recorder *video.Recorder
	stopped  bool
}

// jpegQuality for the preview/recording encode.
const jpegQuality = 85

func startCapture(dev *camera.Device, width, height uint32) (*capture, error) {
	c := &capture{
		cameraID: dev.ID(),
		width:    int(width),
		height:   int(height),
		subs:     make(map[chan []byte]struct{}),
	}

	session, err := dev.Open(c)
	if err != nil {
		return nil, err
	}
	c.session = session

	cfg := hal.StreamConfiguration{Streams: []hal.Stream{{
		ID:     0,
		Type:   hal.StreamTypeOutput,
		Width:  width,
		Height: height,
		Format: hal.PixelFormatYCbCr420888,
	}}}
	halStreams, err := session.ConfigureStreams(cfg)
	if err != nil {
		session.Close()
		return nil, err
	}

	// Prime the pipeline with a full ring of requests; each result
	// submits its replacement from the callback.
	if err := c.submit(int(halStreams[0].MaxBuffers)); err != nil {
		session.Close()
		return nil, err
	}
	return c, nil
}

func (c *capture) submit(n int) error {
	reqs := make([]hal.CaptureRequest, n)
	for i := range reqs {
		reqs[i] = hal.CaptureRequest{
			FrameNumber:     c.frameNumber.Add(1),
			OutputStreamIDs: []int32{0},
		}
	}
	_, err := c.session.ProcessCaptureRequest(reqs)
	return err
}

// Notify implements hal.CameraCallback.
func (c *capture) Notify(msgs []hal.NotifyMsg) {
	for _, msg := range msgs {
		if msg.Type == hal.MsgTypeError && msg.Error.Code == hal.ErrorDevice {
			logger.Warnf("preview capture on %s lost the device", c.cameraID)
			c.stop()
		}
	}
}

// ProcessCaptureResult implements hal.CameraCallback: encode while the
// ring slot is still valid, fan out, and keep the request queue fed.
func (c *capture) ProcessCaptureResult(results []hal.CaptureResult) {
	for _, res := range results {
		for _, sb := range res.OutputBuffers {
			buf, ok := sb.Handle.(*camera.OutputBuffer)
			if !ok || sb.Status != hal.BufferStatusOK {
				continue
			}
			if !sb.ReleaseFence.Signaled() {
				sb.ReleaseFence.Wait(time.Second)
			}
			c.dispatch(encodeJPEG(buf))
		}
	}
	if err := c.submit(len(results)); err != nil {
		logger.Debugf("preview capture on %s: resubmit: %v", c.cameraID, err)
	}
}

func encodeJPEG(buf *camera.OutputBuffer) []byte {
	img := &image.YCbCr{
		Y:              buf.YPlane(),
		Cb:             buf.UPlane(),
		Cr:             buf.VPlane(),
		YStride:        buf.RowStrideY,
		CStride:        buf.RowStrideUV,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, buf.Width, buf.Height),
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		logger.Warnf("preview encode: %v", err)
		return nil
	}
	return out.Bytes()
}

func (c *capture) dispatch(frame []byte) {
	if frame == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- frame:
		default:
			// A slow preview client drops frames rather than stalling
			// the pipeline.
		}
	}
	if c.recorder != nil {
		if err := c.recorder.Add(frame); err != nil {
			logger.Warnf("recorder on %s: %v", c.cameraID, err)
		}
	}
}

func (c *capture) subscribe() chan []byte {
	ch := make(chan []byte, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	return ch
}

func (c *capture) unsubscribe(ch chan []byte) bool {
	c.mu.Lock()
	delete(c.subs, ch)
	idle := len(c.subs) == 0 && c.recorder == nil
	c.mu.Unlock()
	return idle
}

func (c *capture) setRecorder(r *video.Recorder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorder != nil && r != nil {
		return fmt.Errorf("recording already running on %s", c.cameraID)
	}
	c.recorder = r
	return nil
}

// clearRecorder detaches and closes the recorder; returns whether the
// capture has no consumers left.
func (c *capture) clearRecorder() (int, bool, error) {
	c.mu.Lock()
	r := c.recorder
	c.recorder = nil
	idle := len(c.subs) == 0
	c.mu.Unlock()
	if r == nil {
		return 0, idle, nil
	}
	frames := r.Count()
	return frames, idle, r.Close()
}

func (c *capture) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	for ch := range c.subs {
		close(ch)
	}
	c.subs = make(map[chan []byte]struct{})
	r := c.recorder
	c.recorder = nil
	c.mu.Unlock()

	if r != nil {
		r.Close()
	}
	c.session.Close()
}
