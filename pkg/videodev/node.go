//go:build linux && (amd64 || arm64)

// Package videodev is a thin synchronous wrapper over one V4L2 single-planar
// video-capture node: format enumeration, control access, the memory-mapped
// buffer pool and the queue/dequeue rotation.
package videodev

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/J3rr1ck/CamBridge/pkg/utils"
)

var (
	ErrNotFound          = errors.New("device node not found")
	ErrPermissionDenied  = errors.New("device node permission denied")
	ErrBusy              = errors.New("device node busy")
	ErrUnsupportedDevice = errors.New("not a single-planar video capture device")
	ErrFormatCoerced     = errors.New("driver coerced the requested format")
	ErrRateNotSupported  = errors.New("frame interval not supported")
	ErrTimeout           = errors.New("dequeue timed out")
	ErrWouldBlock        = errors.New("no buffer ready")
	ErrBufferQueued      = errors.New("buffer already queued")
	ErrNotMapped         = errors.New("buffer pool not mapped")
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// Capability mirrors VIDIOC_QUERYCAP. BusInfo is the persistent identifier
// used to derive stable camera ids.
type Capability struct {
	Driver  string
	Card    string
	BusInfo string
	Version uint32

	caps uint32
}

func (c Capability) IsVideoCapture() bool {
	return c.caps&capVideoCapture != 0
}

func (c Capability) IsStreaming() bool {
	return c.caps&capStreaming != 0
}

// FormatInfo is one (pixelFormat, width, height) the driver advertises,
// with the discrete frame rates available for it.
type FormatInfo struct {
	PixelFormat uint32
	Width       uint32
	Height      uint32
	FrameRates  []float64
}

// Format is the committed node format after VIDIOC_S_FMT.
type Format struct {
	PixelFormat  uint32
	Width        uint32
	Height       uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Frame describes one dequeued buffer. The payload stays in the arena and
// is addressed by Index until the buffer is queued again.
type Frame struct {
	Index       int
	Sequence    uint32
	TimestampNs int64
	BytesUsed   int
}

type bufferState uint8

const (
	bufferIdle bufferState = iota
	bufferKernel
)

// Node owns one open capture node. Methods are synchronous; the caller
// provides any serialization beyond the internal pool bookkeeping.
type Node struct {
	path string
	fd   int

	mu        sync.Mutex
	bufs      [][]byte
	states    []bufferState
	mapped    bool
	streaming bool
}

// Open opens the node read-write and verifies it is a streaming
// single-planar capture device.
func Open(path string) (*Node, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		case errors.Is(err, unix.EBUSY):
			return nil, fmt.Errorf("%w: %s", ErrBusy, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	n := &Node{path: path, fd: fd}
	caps, err := n.QueryCapabilities()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if !caps.IsVideoCapture() || !caps.IsStreaming() {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedDevice, path, caps.Card)
	}

	return n, nil
}

func (n *Node) Path() string { return n.path }
func (n *Node) Fd() uintptr  { return uintptr(n.fd) }

func (n *Node) Close() error {
	n.mu.Lock()
	n.unmapLocked()
	n.mu.Unlock()
	if n.fd < 0 {
		return nil
	}
	err := unix.Close(n.fd)
	n.fd = -1
	return err
}

func (n *Node) QueryCapabilities() (Capability, error) {
	var c v4l2Capability
	if err := n.ioctl(vidiocQueryCap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, fmt.Errorf("querycap %s: %w", n.path, err)
	}
	caps := c.capabilities
	if caps&capDeviceCaps != 0 {
		caps = c.deviceCaps
	}
	return Capability{
		Driver:  cstr(c.driver[:]),
		Card:    cstr(c.card[:]),
		BusInfo: cstr(c.busInfo[:]),
		Version: c.version,
		caps:    caps,
	}, nil
}

// EnumerateFormats walks the full pixelFormat x frame size x frame rate
// cross-product the driver advertises. Only discrete sizes and intervals
// are reported; fractional intervals are inverted into fps.
func (n *Node) EnumerateFormats() ([]FormatInfo, error) {
	var out []FormatInfo

	for i := uint32(0); ; i++ {
		fd := v4l2FmtDesc{index: i, typ: bufTypeVideoCapture}
		if err := n.ioctl(vidiocEnumFmt, unsafe.Pointer(&fd)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("enum_fmt %s: %w", n.path, err)
		}

		for j := uint32(0); ; j++ {
			fs := v4l2FrmSizeEnum{index: j, pixelFormat: fd.pixelFormat}
			if err := n.ioctl(vidiocEnumFrameSizes, unsafe.Pointer(&fs)); err != nil {
				if errors.Is(err, unix.EINVAL) {
					break
				}
				return nil, fmt.Errorf("enum_framesizes %s: %w", n.path, err)
			}
			if fs.typ != frmsizeTypeDiscrete {
				continue
			}

			info := FormatInfo{
				PixelFormat: fd.pixelFormat,
				Width:       fs.discrete.width,
				Height:      fs.discrete.height,
			}
			rates, err := n.enumFrameRates(fd.pixelFormat, fs.discrete.width, fs.discrete.height)
			if err != nil {
				return nil, err
			}
			info.FrameRates = rates
			out = append(out, info)
		}
	}

	return out, nil
}

func (n *Node) enumFrameRates(pixFmt, width, height uint32) ([]float64, error) {
	var rates []float64
	for i := uint32(0); ; i++ {
		fi := v4l2FrmIvalEnum{index: i, pixelFormat: pixFmt, width: width, height: height}
		if err := n.ioctl(vidiocEnumFrameIntervals, unsafe.Pointer(&fi)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("enum_frameintervals %s: %w", n.path, err)
		}
		if fi.typ != frmivalTypeDiscrete || fi.discrete.numerator == 0 {
			continue
		}
		rates = append(rates, IntervalToFPS(fi.discrete.numerator, fi.discrete.denominator))
	}
	return rates, nil
}

// IntervalToFPS inverts a fractional frame interval into frames per second.
func IntervalToFPS(numerator, denominator uint32) float64 {
	if numerator == 0 {
		return 0
	}
	return float64(denominator) / float64(numerator)
}

// SetFormat commits a capture format. A driver that silently substitutes a
// different pixel format or geometry is reported as ErrFormatCoerced so the
// caller never streams a format it did not ask for.
func (n *Node) SetFormat(pixFmt, width, height uint32) (Format, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	f.pix.width = width
	f.pix.height = height
	f.pix.pixelFormat = pixFmt
	f.pix.field = fieldNone
	if err := n.ioctl(vidiocSetFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, fmt.Errorf("s_fmt %s: %w", n.path, err)
	}
	got := Format{
		PixelFormat:  f.pix.pixelFormat,
		Width:        f.pix.width,
		Height:       f.pix.height,
		BytesPerLine: f.pix.bytesPerLine,
		SizeImage:    f.pix.sizeImage,
	}
	if got.PixelFormat != pixFmt || got.Width != width || got.Height != height {
		return got, fmt.Errorf("%w: asked %s %dx%d, driver committed %s %dx%d",
			ErrFormatCoerced, FourCCString(pixFmt), width, height,
			FourCCString(got.PixelFormat), got.Width, got.Height)
	}
	return got, nil
}

// SetFrameRate is best effort; drivers without timeperframe support return
// ErrRateNotSupported, which callers may ignore.
func (n *Node) SetFrameRate(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("%w: fps %f", ErrRateNotSupported, fps)
	}
	p := v4l2StreamParm{typ: bufTypeVideoCapture}
	p.capture.timePerFrame = v4l2Fract{numerator: 1, denominator: uint32(fps + 0.5)}
	if err := n.ioctl(vidiocSetParm, unsafe.Pointer(&p)); err != nil {
		if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
			return ErrRateNotSupported
		}
		return fmt.Errorf("s_parm %s: %w", n.path, err)
	}
	if p.capture.timePerFrame.denominator == 0 {
		return ErrRateNotSupported
	}
	return nil
}

func (n *Node) GetControl(id uint32) (int32, error) {
	c := v4l2Control{id: id}
	if err := n.ioctl(vidiocGetCtrl, unsafe.Pointer(&c)); err != nil {
		return 0, fmt.Errorf("g_ctrl %#x on %s: %w", id, n.path, err)
	}
	return c.value, nil
}

func (n *Node) SetControl(id uint32, value int32) error {
	c := v4l2Control{id: id, value: value}
	if err := n.ioctl(vidiocSetCtrl, unsafe.Pointer(&c)); err != nil {
		return fmt.Errorf("s_ctrl %#x=%d on %s: %w", id, value, n.path, err)
	}
	return nil
}

// RequestBuffers sizes the MMAP pool. count 0 releases the pool and any
// mappings. Returns the count the driver actually granted.
func (n *Node) RequestBuffers(count int) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if count == 0 {
		n.unmapLocked()
	}

	rb := v4l2RequestBuffers{
		count:  uint32(count),
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := n.ioctl(vidiocReqBufs, unsafe.Pointer(&rb)); err != nil {
		return 0, fmt.Errorf("reqbufs(%d) %s: %w", count, n.path, err)
	}
	if count == 0 {
		n.bufs = nil
		n.states = nil
		return 0, nil
	}

	n.bufs = make([][]byte, rb.count)
	n.states = make([]bufferState, rb.count)
	n.mapped = false
	return int(rb.count), nil
}

// MapBuffers memory-maps every requested buffer. Mappings live until the
// next RequestBuffers(0) or Close.
func (n *Node) MapBuffers() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i := range n.bufs {
		qb := v4l2Buffer{
			index:  uint32(i),
			typ:    bufTypeVideoCapture,
			memory: memoryMMAP,
		}
		if err := n.ioctl(vidiocQueryBuf, unsafe.Pointer(&qb)); err != nil {
			n.unmapLocked()
			return fmt.Errorf("querybuf %d %s: %w", i, n.path, err)
		}
		data, err := unix.Mmap(n.fd, int64(qb.m), int(qb.length),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			n.unmapLocked()
			return fmt.Errorf("mmap buffer %d %s: %w", i, n.path, err)
		}
		n.bufs[i] = data
		n.states[i] = bufferIdle
	}
	n.mapped = true
	return nil
}

func (n *Node) unmapLocked() {
	for i, b := range n.bufs {
		if b != nil {
			if err := unix.Munmap(b); err != nil {
				logger.Warnf("munmap buffer %d on %s: %v", i, n.path, err)
			}
			n.bufs[i] = nil
		}
	}
	n.mapped = false
}

// Buffer returns the mapping for one pool slot. The slice is only valid to
// read between DequeueBuffer and the matching QueueBuffer.
func (n *Node) Buffer(index int) []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index < 0 || index >= len(n.bufs) {
		return nil
	}
	return n.bufs[index]
}

// BufferCount reports the current pool size.
func (n *Node) BufferCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.bufs)
}

// QueueBuffer hands one buffer to the kernel. Queueing a buffer that the
// kernel already owns is a bookkeeping bug and is rejected before the ioctl.
func (n *Node) QueueBuffer(index int) error {
	n.mu.Lock()
	if !n.mapped {
		n.mu.Unlock()
		return ErrNotMapped
	}
	if index < 0 || index >= len(n.states) {
		n.mu.Unlock()
		return fmt.Errorf("queue buffer %d on %s: index out of range", index, n.path)
	}
	if n.states[index] == bufferKernel {
		n.mu.Unlock()
		return fmt.Errorf("%w: index %d", ErrBufferQueued, index)
	}
	n.states[index] = bufferKernel
	n.mu.Unlock()

	qb := v4l2Buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := n.ioctl(vidiocQBuf, unsafe.Pointer(&qb)); err != nil {
		n.mu.Lock()
		n.states[index] = bufferIdle
		n.mu.Unlock()
		return fmt.Errorf("qbuf %d %s: %w", index, n.path, err)
	}
	return nil
}

// DequeueBuffer waits up to timeout for a filled buffer, then performs the
// dequeue. Timestamps are monotonic nanoseconds; drivers stamping with the
// realtime clock are re-stamped on arrival.
func (n *Node) DequeueBuffer(timeout time.Duration) (Frame, error) {
	pfd := []unix.PollFd{{Fd: int32(n.fd), Events: unix.POLLIN}}
	for {
		ready, err := unix.Poll(pfd, int(timeout.Milliseconds()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Frame{}, fmt.Errorf("poll %s: %w", n.path, err)
		}
		if ready == 0 {
			return Frame{}, ErrTimeout
		}
		break
	}

	db := v4l2Buffer{typ: bufTypeVideoCapture, memory: memoryMMAP}
	if err := n.ioctl(vidiocDQBuf, unsafe.Pointer(&db)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return Frame{}, ErrWouldBlock
		}
		return Frame{}, fmt.Errorf("dqbuf %s: %w", n.path, err)
	}

	ts := db.timestamp.sec*int64(time.Second) + db.timestamp.usec*int64(time.Microsecond)
	if db.flags&bufFlagTimestampMask != bufFlagTimestampMonotonic {
		var mono unix.Timespec
		if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &mono); err == nil {
			ts = mono.Nano()
		}
	}

	n.mu.Lock()
	if int(db.index) < len(n.states) {
		n.states[db.index] = bufferIdle
	}
	n.mu.Unlock()

	return Frame{
		Index:       int(db.index),
		Sequence:    db.sequence,
		TimestampNs: ts,
		BytesUsed:   int(db.bytesUsed),
	}, nil
}

// StreamOn starts streaming. Safe to call when already streaming.
func (n *Node) StreamOn() error {
	n.mu.Lock()
	if n.streaming {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	typ := uint32(bufTypeVideoCapture)
	if err := n.ioctl(vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("streamon %s: %w", n.path, err)
	}
	n.mu.Lock()
	n.streaming = true
	n.mu.Unlock()
	return nil
}

// StreamOff stops streaming and returns every kernel-owned buffer to user
// ownership. Safe to call when already stopped.
func (n *Node) StreamOff() error {
	n.mu.Lock()
	if !n.streaming {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	typ := uint32(bufTypeVideoCapture)
	if err := n.ioctl(vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("streamoff %s: %w", n.path, err)
	}
	n.mu.Lock()
	n.streaming = false
	for i := range n.states {
		n.states[i] = bufferIdle
	}
	n.mu.Unlock()
	return nil
}

// ioctl retries interrupted calls; anything else surfaces unchanged.
func (n *Node) ioctl(req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(n.fd), uintptr(req), uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno != unix.EINTR {
			return os.NewSyscallError("ioctl", errno)
		}
	}
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// FourCCString renders a pixel format for logs and dumps.
func FourCCString(f uint32) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}
