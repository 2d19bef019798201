// Package provider enumerates UVC cameras, vends device handles by
// stable id, and signals presence edges to the framework.
package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/J3rr1ck/CamBridge/pkg/camera"
	"github.com/J3rr1ck/CamBridge/pkg/hal"
	"github.com/J3rr1ck/CamBridge/pkg/metrics"
	"github.com/J3rr1ck/CamBridge/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// Options configures discovery and the per-device pipeline parameters.
type Options struct {
	// DevDir is the directory watched for videoN nodes.
	DevDir string
	// PipelineDepth sizes the V4L2 pool and the output ring.
	PipelineDepth int
	// LensFacing/SensorOrientation seed the static characteristics.
	LensFacing        int32
	SensorOrientation int32
}

// Provider holds the CameraId -> CameraDevice table and the per-id
// availability flag. Devices stay in the table across disconnects; the
// same physical device (by bus info) keeps its id on reconnect.
type Provider struct {
	opts Options

	mu        sync.Mutex
	cb        hal.ProviderCallback
	devices   map[string]*camera.Device
	available map[string]bool
	pathToID  map[string]string

	watcher *watcher
}

func New(opts Options) *Provider {
	if opts.DevDir == "" {
		opts.DevDir = "/dev"
	}
	return &Provider{
		opts:      opts,
		devices:   make(map[string]*camera.Device),
		available: make(map[string]bool),
		pathToID:  make(map[string]string),
	}
}

// SetCallback registers the framework's availability sink. Edges that
// happen before registration are not replayed; the framework lists
// cameras explicitly after registering.
func (p *Provider) SetCallback(cb hal.ProviderCallback) {
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
}

// ListCameras returns the ids currently marked available, sorted.
func (p *Provider) ListCameras() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id, ok := range p.available {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetDevice vends the cached device for an id. Unknown ids fail with
// ErrInvalidArgument, known-but-absent ones with ErrUnavailable.
func (p *Provider) GetDevice(cameraID string) (*camera.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dev, ok := p.devices[cameraID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown camera %q", hal.ErrInvalidArgument, cameraID)
	}
	if !p.available[cameraID] {
		return nil, fmt.Errorf("%w: camera %q", hal.ErrUnavailable, cameraID)
	}
	return dev, nil
}

// Devices returns every known device, available or not, sorted by id.
func (p *Provider) Devices() []*camera.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	devs := make([]*camera.Device, 0, len(p.devices))
	for _, d := range p.devices {
		devs = append(devs, d)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID() < devs[j].ID() })
	return devs
}

// AddDevice registers a discovered camera under its stable id. Re-adding
// an id (reconnect) reuses the table entry and just flips availability.
func (p *Provider) AddDevice(dev *camera.Device) {
	p.mu.Lock()
	if _, known := p.devices[dev.ID()]; !known {
		p.devices[dev.ID()] = dev
	}
	if dev.Path() != "" {
		p.pathToID[dev.Path()] = dev.ID()
	}
	p.mu.Unlock()
	p.SignalAvailability(dev.ID(), true)
}

// SignalAvailability flips the presence flag. Idempotent: the framework
// callback fires on edge transitions only.
func (p *Provider) SignalAvailability(cameraID string, available bool) {
	p.mu.Lock()
	dev, known := p.devices[cameraID]
	if !known {
		p.mu.Unlock()
		logger.Warnf("availability signal for unknown camera %q ignored", cameraID)
		return
	}
	if p.available[cameraID] == available {
		p.mu.Unlock()
		return
	}
	p.available[cameraID] = available
	cb := p.cb
	count := 0
	for _, ok := range p.available {
		if ok {
			count++
		}
	}
	p.mu.Unlock()

	metrics.CamerasPresent.Set(float64(count))
	dev.SetAvailable(available)

	status := hal.DeviceStatusNotPresent
	if available {
		status = hal.DeviceStatusPresent
	}
	logger.Infof("camera %s is now %s", cameraID, status)
	if cb != nil {
		cb.CameraDeviceStatusChange(cameraID, status)
	}
}

// OnDeviceClosed is the hook a device fires when its session teardown
// completes.
func (p *Provider) OnDeviceClosed(cameraID string) {
	logger.Debugf("camera %s reported session teardown complete", cameraID)
}

// PushFrame routes an externally pushed frame to the active session of
// the named camera.
func (p *Provider) PushFrame(cameraID string, data []byte, width, height, srcFormat uint32) error {
	p.mu.Lock()
	dev, ok := p.devices[cameraID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown camera %q", hal.ErrInvalidArgument, cameraID)
	}
	s := dev.ActiveSession()
	if s == nil {
		return fmt.Errorf("%w: camera %q has no open session", hal.ErrUnavailable, cameraID)
	}
	return s.PushExternalFrame(data, width, height, srcFormat)
}

// Stub surface of the provider contract.

func (p *Provider) GetVendorTags() []string { return nil }

func (p *Provider) GetConcurrentCameraIds() [][]string { return nil }

func (p *Provider) IsConcurrentStreamCombinationSupported([]hal.StreamConfiguration) bool {
	return false
}

func (p *Provider) NotifyDeviceStateChange(deviceState int64) error { return nil }

// StableID derives a camera id from the kernel-reported bus info, so the
// same physical device maps to the same id through replug cycles.
func StableID(busInfo string) string {
	id := strings.TrimSpace(busInfo)
	id = strings.Map(func(r rune) rune {
		switch r {
		case ':', '.', ' ', '/':
			return '-'
		}
		return r
	}, id)
	return strings.Trim(id, "-")
}
