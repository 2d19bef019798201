// Package video records diagnostic captures as Motion-JPEG AVI files.
package video

import (
	"sync"

	"github.com/icza/mjpeg"
)

// Recorder appends JPEG frames to one AVI file. Safe for use from the
// preview stream's goroutine plus a controlling goroutine.
type Recorder struct {
	width  int
	height int
	fps    int

	mu  sync.Mutex
	cnt int
	aw  mjpeg.AviWriter
}

func NewRecorder(path string, width, height, fps int) (*Recorder, error) {
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		width:  width,
		height: height,
		fps:    fps,
		aw:     aw,
	}, nil
}

func (r *Recorder) Add(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aw == nil {
		return nil
	}
	if err := r.aw.AddFrame(frame); err != nil {
		return err
	}
	r.cnt++
	return nil
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cnt
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aw == nil {
		return nil
	}
	err := r.aw.Close()
	r.aw = nil
	return err
}
