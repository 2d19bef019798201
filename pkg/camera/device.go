// Package camera implements the per-camera HAL core: static capability
// derivation, stream negotiation, and the capture session pipeline that
// turns V4L2 frames into framework output buffers.
package camera

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/J3rr1ck/CamBridge/pkg/hal"
	"github.com/J3rr1ck/CamBridge/pkg/utils"
	"github.com/J3rr1ck/CamBridge/pkg/videodev"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// NodeOpener opens the kernel node backing a device. Sessions call it at
// configure time so a camera can sit discovered-but-unopened without
// holding the node busy.
type NodeOpener func() (*videodev.Node, error)

// Device is the per-camera façade: immutable characteristics, stream
// combination answers, and at most one live capture session.
type Device struct {
	id   string
	path string

	mu        sync.Mutex
	available bool
	session   *Session

	chars      hal.Metadata
	formats    []videodev.FormatInfo
	openNode   NodeOpener
	decoder    Decoder
	depth      int
	queueBound int
	external   bool
	onClosed   func(cameraID string)

	// sourceFactory overrides the capture source, for tests.
	sourceFactory func(stream hal.Stream, depth int) (frameSource, error)
}

type DeviceOption func(*Device)

// WithNodeOpener supplies the kernel node factory. Devices without one
// are push-ingress only.
func WithNodeOpener(open NodeOpener) DeviceOption {
	return func(d *Device) {
		d.openNode = open
		d.external = false
	}
}

// WithExternalIngress makes the device source frames exclusively from
// PushExternalFrame, bypassing the kernel dequeue path.
func WithExternalIngress() DeviceOption {
	return func(d *Device) {
		d.openNode = nil
		d.external = true
	}
}

func WithDecoder(dec Decoder) DeviceOption {
	return func(d *Device) { d.decoder = dec }
}

func WithPipelineDepth(depth int) DeviceOption {
	return func(d *Device) { d.depth = depth }
}

// WithOnClosed registers the provider hook fired when session teardown
// completes.
func WithOnClosed(fn func(cameraID string)) DeviceOption {
	return func(d *Device) { d.onClosed = fn }
}

// NewDevice builds a camera from its enumerated format table. The static
// characteristics are computed here, once, and never mutated.
func NewDevice(id, path string, formats []videodev.FormatInfo, opts CharacteristicsOptions, options ...DeviceOption) *Device {
	d := &Device{
		id:       id,
		path:     path,
		formats:  append([]videodev.FormatInfo(nil), formats...),
		decoder:  JPEGDecoder{},
		depth:    opts.PipelineDepth,
		external: true,
	}
	for _, o := range options {
		o(d)
	}
	if d.depth == 0 {
		d.depth = defaultPipelineDepth
	}
	if d.depth < minPipelineDepth {
		d.depth = minPipelineDepth
	}
	d.queueBound = 2 * d.depth
	opts.PipelineDepth = d.depth
	d.chars = BuildCharacteristics(formats, opts)
	return d
}

func (d *Device) ID() string   { return d.id }
func (d *Device) Path() string { return d.path }

// Characteristics returns an independent copy of the static metadata.
func (d *Device) Characteristics() hal.Metadata {
	return d.chars.Clone()
}

// IsStreamCombinationSupported is a pure function of the characteristics:
// exactly one OUTPUT stream whose (format, width, height) appears in the
// advertised configuration table.
func (d *Device) IsStreamCombinationSupported(cfg hal.StreamConfiguration) bool {
	if len(cfg.Streams) != 1 {
		return false
	}
	s := cfg.Streams[0]
	if s.Type != hal.StreamTypeOutput {
		return false
	}
	for _, c := range d.chars.StreamConfigs(hal.KeyStreamConfigurations) {
		if c.Output && c.Format == s.Format && c.Width == s.Width && c.Height == s.Height {
			return true
		}
	}
	return false
}

// Open creates the capture session. Only one session may be live at a
// time; a second open fails with ErrAlreadyInUse until the first closes.
func (d *Device) Open(cb hal.CameraCallback) (*Session, error) {
	if cb == nil {
		return nil, fmt.Errorf("%w: nil callback", hal.ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.available {
		return nil, fmt.Errorf("%w: %s", hal.ErrUnavailable, d.id)
	}
	if d.session != nil {
		return nil, fmt.Errorf("%w: %s", hal.ErrAlreadyInUse, d.id)
	}

	s := newSession(d, cb)
	d.session = s
	logger.Infof("camera %s opened", d.id)
	return s, nil
}

// SetTorchMode is deliberately unimplemented; UVC devices carry no torch.
func (d *Device) SetTorchMode(bool) error {
	return hal.ErrNotSupported
}

// PhysicalCameraCharacteristics is unimplemented: this HAL exposes no
// multi-lens sub-cameras.
func (d *Device) PhysicalCameraCharacteristics(string) (hal.Metadata, error) {
	return nil, hal.ErrNotSupported
}

// ResourceCost advisory call; unimplemented.
func (d *Device) ResourceCost() (int32, error) {
	return 0, hal.ErrNotSupported
}

// OpenInjectionSession is unimplemented.
func (d *Device) OpenInjectionSession(hal.CameraCallback) (*Session, error) {
	return nil, hal.ErrNotSupported
}

// SetAvailable flips presence. Going absent while a session is live takes
// the session down with ERROR_DEVICE.
func (d *Device) SetAvailable(available bool) {
	d.mu.Lock()
	d.available = available
	s := d.session
	d.mu.Unlock()

	if !available && s != nil {
		s.deviceGone()
	}
}

func (d *Device) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}

// ActiveSession returns the live session, or nil.
func (d *Device) ActiveSession() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *Device) sessionClosed(s *Session) {
	d.mu.Lock()
	if d.session == s {
		d.session = nil
	}
	d.mu.Unlock()

	logger.Infof("camera %s session closed", d.id)
	if d.onClosed != nil {
		d.onClosed(d.id)
	}
}

// DumpState writes a human-readable summary to w.
func (d *Device) DumpState(w io.Writer) {
	d.mu.Lock()
	available := d.available
	s := d.session
	d.mu.Unlock()

	fmt.Fprintf(w, "camera %s (%s)\n", d.id, d.path)
	fmt.Fprintf(w, "  available: %v\n", available)
	fmt.Fprintf(w, "  formats: %d enumerated, %d advertised configurations\n",
		len(d.formats), len(d.chars.StreamConfigs(hal.KeyStreamConfigurations)))
	if s == nil {
		fmt.Fprintf(w, "  session: none\n")
		return
	}
	s.dumpState(w)
}

func dumpBytes(n int) string {
	return humanize.IBytes(uint64(n))
}
