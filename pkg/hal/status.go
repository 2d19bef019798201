// Package hal carries the framework-facing contract of the camera HAL:
// characteristic metadata, stream descriptors, capture requests/results,
// notification messages and the status taxonomy.
package hal

import "errors"

var (
	// ErrInvalidArgument means the caller violated the contract (null
	// callback, unknown id, malformed stream set). Not retryable.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyInUse is returned on a second open of a live device.
	ErrAlreadyInUse = errors.New("camera already in use")

	// ErrUnavailable means the device is known but currently absent.
	ErrUnavailable = errors.New("camera unavailable")

	// ErrNotSupported marks an optional capability deliberately left
	// unimplemented (torch, injection, offline sessions, FMQ).
	ErrNotSupported = errors.New("operation not supported")

	// ErrCameraDevice means the session or device is unusable.
	ErrCameraDevice = errors.New("camera device error")
)
