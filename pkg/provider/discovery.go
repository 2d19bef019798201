//go:build linux && (amd64 || arm64)

package provider

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/J3rr1ck/CamBridge/pkg/camera"
	"github.com/J3rr1ck/CamBridge/pkg/videodev"
)

var videoNodeRe = regexp.MustCompile(`^video\d+$`)

type watcher struct {
	fs     *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// StartDiscovery scans DevDir for capture nodes and then watches it for
// hotplug. Discovery is edge-triggered: node creation marks the camera
// PRESENT, removal marks it NOT_PRESENT; the device object survives in
// the table so a replug of the same bus keeps its id.
func (p *Provider) StartDiscovery(ctx context.Context) error {
	p.scan()

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fs.Add(p.opts.DevDir); err != nil {
		fs.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{fs: fs, cancel: cancel, done: make(chan struct{})}
	p.mu.Lock()
	p.watcher = w
	p.mu.Unlock()

	go p.watchLoop(ctx, w)
	return nil
}

// StopDiscovery halts the hotplug watch. Devices keep their last state.
func (p *Provider) StopDiscovery() {
	p.mu.Lock()
	w := p.watcher
	p.watcher = nil
	p.mu.Unlock()
	if w == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (p *Provider) watchLoop(ctx context.Context, w *watcher) {
	defer close(w.done)
	defer w.fs.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !videoNodeRe.MatchString(name) {
				continue
			}
			switch {
			case event.Op&fsnotify.Create != 0:
				// udev may still be fixing permissions right after the
				// node appears; give it a beat.
				time.Sleep(200 * time.Millisecond)
				p.probe(event.Name)
			case event.Op&fsnotify.Remove != 0:
				p.nodeRemoved(event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warnf("device watch: %v", err)
		}
	}
}

func (p *Provider) scan() {
	entries, err := os.ReadDir(p.opts.DevDir)
	if err != nil {
		logger.Warnf("scan %s: %v", p.opts.DevDir, err)
		return
	}
	for _, e := range entries {
		if videoNodeRe.MatchString(e.Name()) {
			p.probe(filepath.Join(p.opts.DevDir, e.Name()))
		}
	}
}

// probe opens a node briefly to read its identity and format table, then
// registers it. Nodes that are not capture devices (metadata nodes of the
// same UVC function, for instance) are skipped quietly.
func (p *Provider) probe(path string) {
	node, err := videodev.Open(path)
	if err != nil {
		logger.Debugf("probe %s: %v", path, err)
		return
	}
	caps, err := node.QueryCapabilities()
	if err != nil {
		node.Close()
		logger.Warnf("probe %s: %v", path, err)
		return
	}
	formats, err := node.EnumerateFormats()
	node.Close()
	if err != nil {
		logger.Warnf("probe %s: enumerate formats: %v", path, err)
		return
	}
	if len(formats) == 0 {
		logger.Debugf("probe %s: no discrete formats, skipping", path)
		return
	}

	id := StableID(caps.BusInfo)
	if id == "" {
		id = StableID(caps.Card + "-" + path)
	}

	p.mu.Lock()
	_, known := p.devices[id]
	if known {
		p.pathToID[path] = id
	}
	p.mu.Unlock()
	if known {
		logger.Infof("camera %s reattached at %s (%s)", id, path, caps.Card)
		p.SignalAvailability(id, true)
		return
	}

	dev := camera.NewDevice(id, path, formats,
		camera.CharacteristicsOptions{
			LensFacing:        p.opts.LensFacing,
			SensorOrientation: p.opts.SensorOrientation,
			PipelineDepth:     p.opts.PipelineDepth,
		},
		camera.WithNodeOpener(func() (*videodev.Node, error) {
			return videodev.Open(path)
		}),
		camera.WithOnClosed(p.OnDeviceClosed),
	)
	logger.Infof("discovered camera %s at %s (%s, %d formats)", id, path, caps.Card, len(formats))
	p.AddDevice(dev)
}

func (p *Provider) nodeRemoved(path string) {
	p.mu.Lock()
	id, ok := p.pathToID[path]
	delete(p.pathToID, path)
	p.mu.Unlock()
	if !ok {
		return
	}
	logger.Infof("camera %s detached (%s gone)", id, path)
	p.SignalAvailability(id, false)
}
