package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is matched by errors returned when the probe
	// acquisition before enumeration fails.
	ErrPermissionDenied = errors.New("camera permission denied")

	// ErrNoDeviceFound is returned by ListDevices when no video input
	// device is available.
	ErrNoDeviceFound = errors.New("no video input device found")

	// ErrNegotiationExhausted is matched by errors returned when every
	// constraint profile of a negotiation failed.
	ErrNegotiationExhausted = errors.New("constraint negotiation exhausted")

	// ErrAttach is matched by errors returned when a negotiated stream
	// cannot be attached to a session.
	ErrAttach = errors.New("attaching stream failed")

	// ErrNoFrame is returned by Stream.Frame when no frame has arrived yet.
	ErrNoFrame = errors.New("no frame available")

	// ErrFinalizing is returned by Session.StartRecording while the previous
	// recording is still being finalized.
	ErrFinalizing = errors.New("previous recording is being finalized")

	// ErrOverconstrained is returned by sources that cannot satisfy the
	// requested constraints.
	ErrOverconstrained = errors.New("constraints cannot be satisfied")
)

// PermissionDeniedError carries the platform error of a failed probe.
type PermissionDeniedError struct {
	Err error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPermissionDenied, e.Err)
}

func (e *PermissionDeniedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrPermissionDenied.
func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// NegotiationExhaustedError is returned when all constraint profiles
// failed. Err is the error of the last attempt.
type NegotiationExhaustedError struct {
	DeviceID string
	Attempts int
	Err      error
}

func (e *NegotiationExhaustedError) Error() string {
	return fmt.Sprintf("%v for device %q after %d attempts: %v", ErrNegotiationExhausted, e.DeviceID, e.Attempts, e.Err)
}

func (e *NegotiationExhaustedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrNegotiationExhausted.
func (e *NegotiationExhaustedError) Is(target error) bool { return target == ErrNegotiationExhausted }

// AttachError is returned by Session.Attach.
type AttachError struct {
	DeviceID string
	Err      error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("%v for device %q: %v", ErrAttach, e.DeviceID, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// Is reports whether target is ErrAttach.
func (e *AttachError) Is(target error) bool { return target == ErrAttach }

// Ensure the typed errors implement the error interface.
var (
	_ error = (*PermissionDeniedError)(nil)
	_ error = (*NegotiationExhaustedError)(nil)
	_ error = (*AttachError)(nil)
)
