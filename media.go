// Package camera lists camera devices, negotiates capture streams with them,
// and captures photos and video recordings from the negotiated stream.
//
// Platform access goes through the MediaDevices interface, implemented by
// the packages under source/.
package camera

import (
	"context"
	"image"
)

// MediaDevices gives access to the platform's video input devices.
type MediaDevices interface {
	// RequestPermission performs a probe acquisition that fails when the
	// process is not allowed to capture video.
	RequestPermission(ctx context.Context) error

	// EnumerateDevices returns all input devices, not only video inputs.
	EnumerateDevices(ctx context.Context) ([]Device, error)

	// GetUserMedia opens a stream matching the constraints. Sources return
	// an error wrapping ErrOverconstrained when the constraints cannot be
	// met.
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live capture stream made of one or more tracks.
type Stream interface {
	// ID identifies the stream for logging.
	ID() string

	// DeviceID is the device the stream was opened on.
	DeviceID() string

	Tracks() []Track

	// Frame returns the most recent frame. It returns ErrNoFrame if no
	// frame has arrived yet.
	Frame() (image.Image, error)

	// NewRecorder prepares a recorder bound to this stream.
	NewRecorder() (Recorder, error)

	// Close stops all tracks. Close is idempotent.
	Close() error
}

// Track is a single media track of a stream.
type Track interface {
	ID() string
	Kind() DeviceKind
	Stop() error
}

// Recorder encodes a stream into a single playable container.
type Recorder interface {
	// Start begins buffering encoded media.
	Start() error

	// Stop finalizes the buffered media into one container and resets the
	// buffer.
	Stop() (Media, error)

	// Abort discards the buffered media.
	Abort() error
}

// Media is encoded media produced by a Recorder.
type Media struct {
	MIMEType string
	Data     []byte
}
