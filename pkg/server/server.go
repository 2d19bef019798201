// Package server is the debug and monitoring HTTP surface: camera
// listing, characteristics, state dumps, control introspection, a live
// MJPEG preview that exercises the full capture pipeline, diagnostic AVI
// recording, system status and prometheus metrics.
package server

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"github.com/J3rr1ck/CamBridge/pkg/camera"
	"github.com/J3rr1ck/CamBridge/pkg/hal"
	"github.com/J3rr1ck/CamBridge/pkg/provider"
	"github.com/J3rr1ck/CamBridge/pkg/utils"
	"github.com/J3rr1ck/CamBridge/pkg/utils/ps"
	"github.com/J3rr1ck/CamBridge/pkg/video"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

const ntpHost = "pool.ntp.org"

type Server struct {
	prv       *provider.Provider
	recordDir string

	mu       sync.Mutex
	captures map[string]*capture
}

func New(prv *provider.Provider, recordDir string) *Server {
	return &Server{
		prv:       prv,
		recordDir: recordDir,
		captures:  make(map[string]*capture),
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")

	cameraRouter := apiRouter.Group("/camera")
	cameraRouter.GET("", s.listCameras)
	cameraRouter.GET("/:id/characteristics", s.getCharacteristics)
	cameraRouter.GET("/:id/dump", s.dumpCamera)
	cameraRouter.GET("/:id/controls", s.listControls)
	cameraRouter.GET("/:id/preview", s.preview)
	cameraRouter.PUT("/:id/record", s.ctlRecord)

	apiRouter.GET("/system/status", s.systemStatus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Shutdown stops every debug-driven capture.
func (s *Server) Shutdown() {
	s.mu.Lock()
	caps := make([]*capture, 0, len(s.captures))
	for _, c := range s.captures {
		caps = append(caps, c)
	}
	s.captures = make(map[string]*capture)
	s.mu.Unlock()
	for _, c := range caps {
		c.stop()
	}
}

type cameraInfo struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Available bool   `json:"available"`
}

func (s *Server) listCameras(c *gin.Context) {
	var list []cameraInfo
	for _, dev := range s.prv.Devices() {
		list = append(list, cameraInfo{
			ID:        dev.ID(),
			Path:      dev.Path(),
			Available: dev.Available(),
		})
	}
	c.JSON(http.StatusOK, jsend.Success(list))
}

func (s *Server) device(c *gin.Context) *camera.Device {
	dev, err := s.prv.GetDevice(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return nil
	}
	return dev
}

func (s *Server) getCharacteristics(c *gin.Context) {
	dev := s.device(c)
	if dev == nil {
		return
	}
	data, err := json.Marshal(jsend.Success(dev.Characteristics()))
	if err != nil {
		internalErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) dumpCamera(c *gin.Context) {
	dev := s.device(c)
	if dev == nil {
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	dev.DumpState(c.Writer)
}

func (s *Server) listControls(c *gin.Context) {
	dev := s.device(c)
	if dev == nil {
		return
	}
	configs, err := queryControls(dev.Path())
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(configs))
}

// preview streams multipart JPEG parts produced by a real capture
// session on the device.
func (s *Server) preview(c *gin.Context) {
	dev := s.device(c)
	if dev == nil {
		return
	}
	width, height, err := previewSize(c, dev)
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}

	cpt, err := s.acquireCapture(dev, width, height)
	if err != nil {
		c.JSON(http.StatusConflict, jsend.SimpleErr(err.Error()))
		return
	}
	frames := cpt.subscribe()
	defer s.releaseSubscriber(dev.ID(), cpt, frames)

	mimeWriter := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mimeWriter.Boundary()))
	partHeader := make(textproto.MIMEHeader)
	partHeader.Add("Content-Type", "image/jpeg")

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			partWriter, err := mimeWriter.CreatePart(partHeader)
			if err != nil {
				logger.Debugf("preview part: %v", err)
				return
			}
			if _, err := partWriter.Write(frame); err != nil {
				logger.Debugf("preview write: %v", err)
				return
			}
			c.Writer.Flush()
		}
	}
}

const (
	recordStart = "start"
	recordStop  = "stop"
)

func (s *Server) ctlRecord(c *gin.Context) {
	dev := s.device(c)
	if dev == nil {
		return
	}
	switch c.Query("op") {
	case recordStart:
		s.startRecord(c, dev)
	case recordStop:
		s.stopRecord(c, dev)
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func (s *Server) startRecord(c *gin.Context, dev *camera.Device) {
	width, height, err := previewSize(c, dev)
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	cpt, err := s.acquireCapture(dev, width, height)
	if err != nil {
		c.JSON(http.StatusConflict, jsend.SimpleErr(err.Error()))
		return
	}

	path := filepath.Join(s.recordDir,
		fmt.Sprintf("%s-%d.avi", dev.ID(), time.Now().Unix()))
	rec, err := video.NewRecorder(path, int(width), int(height), 30)
	if err != nil {
		internalErr(c, err)
		return
	}
	if err := cpt.setRecorder(rec); err != nil {
		rec.Close()
		c.JSON(http.StatusConflict, jsend.SimpleErr(err.Error()))
		return
	}
	c.JSON(http.StatusOK, jsend.Success(path))
}

func (s *Server) stopRecord(c *gin.Context, dev *camera.Device) {
	s.mu.Lock()
	cpt := s.captures[dev.ID()]
	s.mu.Unlock()
	if cpt == nil {
		c.JSON(http.StatusOK, jsend.SimpleErr("no recording running"))
		return
	}
	frames, idle, err := cpt.clearRecorder()
	if err != nil {
		internalErr(c, err)
		return
	}
	if idle {
		s.stopCapture(dev.ID(), cpt)
	}
	c.JSON(http.StatusOK, jsend.Success(fmt.Sprintf("recorded %d frames", frames)))
}

func (s *Server) acquireCapture(dev *camera.Device, width, height uint32) (*capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cpt, ok := s.captures[dev.ID()]; ok {
		if cpt.width != int(width) || cpt.height != int(height) {
			return nil, fmt.Errorf("capture already running at %dx%d", cpt.width, cpt.height)
		}
		return cpt, nil
	}
	cpt, err := startCapture(dev, width, height)
	if err != nil {
		return nil, err
	}
	s.captures[dev.ID()] = cpt
	return cpt, nil
}

func (s *Server) releaseSubscriber(id string, cpt *capture, ch chan []byte) {
	if cpt.unsubscribe(ch) {
		s.stopCapture(id, cpt)
	}
}

func (s *Server) stopCapture(id string, cpt *capture) {
	s.mu.Lock()
	if s.captures[id] == cpt {
		delete(s.captures, id)
	}
	s.mu.Unlock()
	cpt.stop()
}

// previewSize picks the capture geometry: explicit width/height query
// params, or the largest advertised flexible 4:2:0 configuration.
func previewSize(c *gin.Context, dev *camera.Device) (uint32, uint32, error) {
	if ws, hs := c.Query("width"), c.Query("height"); ws != "" && hs != "" {
		w, err1 := strconv.ParseUint(ws, 10, 32)
		h, err2 := strconv.ParseUint(hs, 10, 32)
		if err1 != nil || err2 != nil || w == 0 || h == 0 {
			return 0, 0, fmt.Errorf("bad width/height")
		}
		return uint32(w), uint32(h), nil
	}

	var best hal.StreamConfig
	for _, cfg := range dev.Characteristics().StreamConfigs(hal.KeyStreamConfigurations) {
		if cfg.Format != hal.PixelFormatYCbCr420888 {
			continue
		}
		if cfg.Width*cfg.Height > best.Width*best.Height {
			best = cfg
		}
	}
	if best.Width == 0 {
		return 0, 0, fmt.Errorf("camera advertises no flexible 4:2:0 configuration")
	}
	return best.Width, best.Height, nil
}

type systemStatus struct {
	CPU    ps.CPU    `json:"cpu"`
	Memory ps.Memory `json:"memory"`
	Disk   ps.Disk   `json:"disk"`

	MemoryUsedHuman string `json:"memoryUsedHuman"`
	DiskUsedHuman   string `json:"diskUsedHuman"`

	NTPOffsetMs float64 `json:"ntpOffsetMs,omitempty"`
	NTPError    string  `json:"ntpError,omitempty"`
}

func (s *Server) systemStatus(c *gin.Context) {
	var status systemStatus
	var err error

	if status.CPU, err = ps.CPUStatus(); err != nil {
		internalErr(c, err)
		return
	}
	if status.Memory, err = ps.MemoryStatus(); err != nil {
		internalErr(c, err)
		return
	}
	if status.Disk, err = ps.DiskStatus("/"); err != nil {
		internalErr(c, err)
		return
	}
	status.MemoryUsedHuman = humanize.IBytes(status.Memory.Used)
	status.DiskUsedHuman = humanize.IBytes(status.Disk.Used)

	if resp, err := ntp.QueryWithOptions(ntpHost, ntp.QueryOptions{Timeout: 2 * time.Second}); err != nil {
		status.NTPError = err.Error()
	} else {
		status.NTPOffsetMs = float64(resp.ClockOffset) / float64(time.Millisecond)
	}

	c.JSON(http.StatusOK, jsend.Success(status))
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
