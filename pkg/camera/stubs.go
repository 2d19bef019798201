package camera

import (
	"github.com/J3rr1ck/CamBridge/pkg/hal"
)

// The stream-based session contract carries a handful of optional
// surfaces this HAL deliberately leaves unimplemented.

// GetCaptureRequestMetadataQueue: no fast message queue is offered;
// metadata travels with the requests.
func (s *Session) GetCaptureRequestMetadataQueue() error {
	return hal.ErrNotSupported
}

// GetCaptureResultMetadataQueue: see above.
func (s *Session) GetCaptureResultMetadataQueue() error {
	return hal.ErrNotSupported
}

// SwitchToOffline: offline sessions are out of scope.
func (s *Session) SwitchToOffline(streamsToKeep []int32) error {
	return hal.ErrNotSupported
}

// RepeatingRequestEnd is not supported by this HAL.
func (s *Session) RepeatingRequestEnd(frameNumber int64, streamIDs []int32) error {
	return hal.ErrNotSupported
}

// SignalStreamFlush is advisory and unimplemented.
func (s *Session) SignalStreamFlush(streamIDs []int32, streamConfigCounter int32) error {
	return hal.ErrNotSupported
}

// IsReconfigurationRequired: session parameter changes never force a
// reconfiguration here.
func (s *Session) IsReconfigurationRequired(oldParams, newParams hal.Metadata) (bool, error) {
	return false, nil
}
