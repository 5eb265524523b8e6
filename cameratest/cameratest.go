// Package cameratest provides in-memory implementations of the camera
// interfaces for tests.
package cameratest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	camera "github.com/edgeimpulse/linux-camera-go"
)

// Devices is a scripted camera.MediaDevices.
type Devices struct {
	PermissionErr error
	EnumerateErr  error
	List          []camera.Device

	// Acquire is called for every GetUserMedia request. A non-nil error
	// fails the request. If nil, every request succeeds.
	Acquire func(ctx context.Context, c camera.Constraints) error

	// Frame is the frame returned by streams. If nil, streams have no frame.
	Frame image.Image

	// RecorderErr makes NewRecorder fail on new streams.
	RecorderErr error

	// BeforeStop, if set, is called by recorders at the start of Stop, for
	// example to block while a recording is finalized.
	BeforeStop func()

	// Exclusive makes GetUserMedia fail for a device that already has an
	// open stream, like a V4L2 camera. RequestPermission still succeeds,
	// an open stream proves the permission.
	Exclusive bool

	mu      sync.Mutex
	calls   []camera.Constraints
	streams []*Stream
}

var _ camera.MediaDevices = (*Devices)(nil)

// RequestPermission implements camera.MediaDevices.
func (d *Devices) RequestPermission(ctx context.Context) error {
	return d.PermissionErr
}

// EnumerateDevices implements camera.MediaDevices.
func (d *Devices) EnumerateDevices(ctx context.Context) ([]camera.Device, error) {
	if d.EnumerateErr != nil {
		return nil, d.EnumerateErr
	}
	return append([]camera.Device(nil), d.List...), nil
}

// GetUserMedia implements camera.MediaDevices.
func (d *Devices) GetUserMedia(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()

	if d.Acquire != nil {
		if err := d.Acquire(ctx, c); err != nil {
			return nil, err
		}
	}

	deviceID := c.DeviceID
	if deviceID == "" && len(d.List) > 0 {
		deviceID = d.List[0].ID
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Exclusive {
		for _, s := range d.streams {
			if s.deviceID == deviceID && !s.Closed() {
				return nil, fmt.Errorf("opening %s: %w", deviceID, ErrBusy)
			}
		}
	}
	s := &Stream{
		id:          fmt.Sprintf("stream-%d", len(d.streams)+1),
		deviceID:    deviceID,
		Constraints: c,
		frame:       d.Frame,
		recorderErr: d.RecorderErr,
		beforeStop:  d.BeforeStop,
	}
	s.track = &Track{id: s.id + "-video"}
	d.streams = append(d.streams, s)
	return s, nil
}

// Calls returns the constraints of all GetUserMedia requests so far.
func (d *Devices) Calls() []camera.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]camera.Constraints(nil), d.calls...)
}

// Streams returns all streams handed out so far.
func (d *Devices) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// OpenStreams returns the number of streams with a track still running.
func (d *Devices) OpenStreams() int {
	n := 0
	for _, s := range d.Streams() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Stream is a fake camera.Stream with a single video track.
type Stream struct {
	Constraints camera.Constraints

	id          string
	deviceID    string
	track       *Track
	recorderErr error
	beforeStop  func()

	mu        sync.Mutex
	frame     image.Image
	recorders []*Recorder
}

var _ camera.Stream = (*Stream)(nil)

// ID implements camera.Stream.
func (s *Stream) ID() string { return s.id }

// DeviceID implements camera.Stream.
func (s *Stream) DeviceID() string { return s.deviceID }

// Tracks implements camera.Stream.
func (s *Stream) Tracks() []camera.Track { return []camera.Track{s.track} }

// Frame implements camera.Stream.
func (s *Stream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil || s.track.Stopped() {
		return nil, camera.ErrNoFrame
	}
	return s.frame, nil
}

// SetFrame replaces the frame returned by Frame.
func (s *Stream) SetFrame(img image.Image) {
	s.mu.Lock()
	s.frame = img
	s.mu.Unlock()
}

// NewRecorder implements camera.Stream.
func (s *Stream) NewRecorder() (camera.Recorder, error) {
	if s.recorderErr != nil {
		return nil, s.recorderErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Recorder{stream: s, beforeStop: s.beforeStop}
	s.recorders = append(s.recorders, r)
	return r, nil
}

// Recorders returns the recorders prepared for the stream.
func (s *Stream) Recorders() []*Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Recorder(nil), s.recorders...)
}

// Close implements camera.Stream.
func (s *Stream) Close() error { return s.track.Stop() }

// Closed reports whether the stream's track was stopped.
func (s *Stream) Closed() bool { return s.track.Stopped() }

// Track is a fake video track.
type Track struct {
	id string

	mu      sync.Mutex
	stopped bool
}

var _ camera.Track = (*Track)(nil)

// ID implements camera.Track.
func (t *Track) ID() string { return t.id }

// Kind implements camera.Track.
func (t *Track) Kind() camera.DeviceKind { return camera.VideoInput }

// Stop implements camera.Track.
func (t *Track) Stop() error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return nil
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

var errNotStarted = errors.New("recorder not started")

// ErrBusy is returned by GetUserMedia of an Exclusive Devices for a device
// that is already open.
var ErrBusy = errors.New("device busy")

// Recorder is a fake camera.Recorder producing numbered clips.
type Recorder struct {
	StartErr error

	stream     *Stream
	beforeStop func()

	mu      sync.Mutex
	active  bool
	clips   int
	aborted int
}

var _ camera.Recorder = (*Recorder)(nil)

// Start implements camera.Recorder.
func (r *Recorder) Start() error {
	if r.StartErr != nil {
		return r.StartErr
	}
	r.mu.Lock()
	r.active = true
	r.mu.Unlock()
	return nil
}

// Stop implements camera.Recorder.
func (r *Recorder) Stop() (camera.Media, error) {
	if r.beforeStop != nil {
		r.beforeStop()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return camera.Media{}, errNotStarted
	}
	r.active = false
	r.clips++
	return camera.Media{
		MIMEType: "video/webm",
		Data:     []byte(fmt.Sprintf("%s clip %d", r.stream.id, r.clips)),
	}, nil
}

// Abort implements camera.Recorder.
func (r *Recorder) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.aborted++
	return nil
}

// Aborted returns how many recordings were discarded.
func (r *Recorder) Aborted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
