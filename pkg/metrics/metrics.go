// Package metrics exposes the HAL's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambridge",
		Subsystem: "session",
		Name:      "frames_total",
		Help:      "Frames dequeued from the capture source",
	}, []string{"camera_id"})

	FramesConverted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambridge",
		Subsystem: "session",
		Name:      "frames_converted_total",
		Help:      "Frames converted into output buffers, by conversion path",
	}, []string{"camera_id", "path"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambridge",
		Subsystem: "session",
		Name:      "frames_dropped_total",
		Help:      "Frames dequeued with no matching request",
	}, []string{"camera_id"})

	RequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambridge",
		Subsystem: "session",
		Name:      "request_errors_total",
		Help:      "Error notifications sent to the framework, by error code",
	}, []string{"camera_id", "code"})

	DequeueTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambridge",
		Subsystem: "session",
		Name:      "dequeue_timeouts_total",
		Help:      "Recoverable dequeue timeouts",
	}, []string{"camera_id"})

	PushRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cambridge",
		Subsystem: "session",
		Name:      "push_rejected_total",
		Help:      "External frame pushes rejected because the inbox was full",
	}, []string{"camera_id"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cambridge",
		Subsystem: "provider",
		Name:      "active_sessions",
		Help:      "Number of open capture sessions",
	})

	CamerasPresent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cambridge",
		Subsystem: "provider",
		Name:      "cameras_present",
		Help:      "Number of cameras currently marked available",
	})
)
