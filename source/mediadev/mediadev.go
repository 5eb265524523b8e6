// Package mediadev implements camera.MediaDevices with the pion/mediadevices
// camera driver. Recordings are VP8 encoded.
package mediadev

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	camera "github.com/edgeimpulse/linux-camera-go"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/driver"
	cameradriver "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"
)

// DefaultBitRate is the VP8 target bit rate of recordings in bits per second.
const DefaultBitRate = 1_000_000

// Opts has options for the mediadevices source.
type Opts struct {
	BitRate int // VP8 target bit rate of recordings. Default DefaultBitRate.
}

// Devices gives access to the cameras registered with mediadevices.
//
// Cameras can only be opened once. While a stream is open, the permission
// check succeeds without opening a camera, and enumeration reports the
// cameras found before instead of discovering them again.
type Devices struct {
	opts Opts

	// mu serializes opening cameras and discovering them, discovery
	// replaces every registered camera driver.
	mu   sync.Mutex
	open int // Streams not yet closed.
}

// Check that Devices implements interface MediaDevices.
var _ camera.MediaDevices = (*Devices)(nil)

// New returns a mediadevices source.
func New(opts Opts) *Devices {
	if opts.BitRate <= 0 {
		opts.BitRate = DefaultBitRate
	}
	return &Devices{opts: opts}
}

// busyLocked reports whether a camera is in use. d.mu must be held.
func (d *Devices) busyLocked() bool {
	if d.open > 0 {
		return true
	}
	for _, drv := range driver.GetManager().Query(driver.FilterVideoRecorder()) {
		if drv.Status() != driver.StateClosed {
			return true
		}
	}
	return false
}

func (d *Devices) release() {
	d.mu.Lock()
	d.open--
	d.mu.Unlock()
}

// RequestPermission opens any camera and stops it again. It fails if a
// camera exists that cannot be opened. An open camera proves the permission
// and nothing is opened.
func (d *Devices) RequestPermission(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busyLocked() {
		log.Debug().Msg("Camera in use, skipping permission check")
		return nil
	}

	found := false
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind == mediadevices.VideoInput {
			found = true
			break
		}
	}
	if !found {
		// Nothing to open, enumeration reports the problem.
		return nil
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return err
	}
	for _, t := range stream.GetTracks() {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Msg("Closing permission check track")
		}
	}
	return nil
}

// EnumerateDevices discovers the cameras again, so cameras connected since
// the last call are found, and returns them. While a camera is in use, the
// cameras found before are returned.
func (d *Devices) EnumerateDevices(ctx context.Context) ([]camera.Device, error) {
	d.mu.Lock()
	if !d.busyLocked() {
		cameradriver.Initialize()
	}
	infos := mediadevices.EnumerateDevices()
	d.mu.Unlock()

	devs := []camera.Device{}
	for _, info := range infos {
		var kind camera.DeviceKind
		switch info.Kind {
		case mediadevices.VideoInput:
			kind = camera.VideoInput
		case mediadevices.AudioInput:
			kind = camera.AudioInput
		default:
			continue
		}
		devs = append(devs, camera.Device{ID: info.DeviceID, Label: info.Label, Kind: kind})
	}
	return devs, nil
}

// trackConstraints maps c onto mediadevices constraints.
func trackConstraints(c camera.Constraints) func(*mediadevices.MediaTrackConstraints) {
	return func(mc *mediadevices.MediaTrackConstraints) {
		if c.DeviceID != "" {
			mc.DeviceID = prop.StringExact(c.DeviceID)
		}
		if !c.Width.IsZero() {
			mc.Width = prop.IntRanged{Ideal: c.Width.Ideal, Max: c.Width.Max}
		}
		if !c.Height.IsZero() {
			mc.Height = prop.IntRanged{Ideal: c.Height.Ideal, Max: c.Height.Max}
		}
	}
}

// GetUserMedia implements camera.MediaDevices.
func (d *Devices) GetUserMedia(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 encoder parameters: %w", err)
	}
	params.BitRate = d.opts.BitRate

	d.mu.Lock()
	defer d.mu.Unlock()
	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: trackConstraints(c),
		Codec: mediadevices.NewCodecSelector(mediadevices.WithVideoEncoders(&params)),
	})
	if err != nil {
		if c.HasResolution() {
			return nil, fmt.Errorf("%w: %w", camera.ErrOverconstrained, err)
		}
		return nil, fmt.Errorf("getting user media: %w", err)
	}

	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("stream has no video track")
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, t := range ms.GetTracks() {
			t.Close()
		}
		return nil, fmt.Errorf("unexpected video track type %T", tracks[0])
	}

	deviceID := c.DeviceID
	if deviceID == "" {
		deviceID = vt.ID()
	}
	s := &stream{
		id:       uuid.NewString(),
		deviceID: deviceID,
		track:    vt,
		mime:     params.RTPCodec().MimeType,
		done:     make(chan struct{}),
		onClose:  d.release,
	}
	d.open++
	go s.readFrames()
	return s, nil
}

// stream keeps the latest decoded frame of a mediadevices video track.
type stream struct {
	id       string
	deviceID string
	track    *mediadevices.VideoTrack
	mime     string
	done     chan struct{}
	onClose  func()

	mu     sync.Mutex
	latest image.Image
	err    error

	closeOnce sync.Once
	closeErr  error
}

var _ camera.Stream = (*stream)(nil)

func (s *stream) readFrames() {
	defer close(s.done)
	r := s.track.NewReader(false)
	for {
		img, release, err := r.Read()
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			log.Debug().Err(err).Str("stream", s.id).Msg("Frame reader stopped")
			return
		}
		// The frame buffer is reused by the driver after release.
		frame := imaging.Clone(img)
		release()

		s.mu.Lock()
		s.latest = frame
		s.mu.Unlock()
	}
}

func (s *stream) ID() string { return s.id }

func (s *stream) DeviceID() string { return s.deviceID }

func (s *stream) Tracks() []camera.Track {
	return []camera.Track{videoTrack{s}}
}

func (s *stream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrNoFrame, s.err)
	}
	if s.latest == nil {
		return nil, camera.ErrNoFrame
	}
	return s.latest, nil
}

func (s *stream) NewRecorder() (camera.Recorder, error) {
	return &recorder{track: s.track, mime: s.mime}, nil
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.track.Close()
		if s.onClose != nil {
			s.onClose()
		}
		log.Debug().Str("stream", s.id).Str("device", s.deviceID).Msg("Track closed")
	})
	return s.closeErr
}

type videoTrack struct {
	s *stream
}

func (t videoTrack) ID() string { return t.s.track.ID() }

func (t videoTrack) Kind() camera.DeviceKind { return camera.VideoInput }

func (t videoTrack) Stop() error { return t.s.Close() }
