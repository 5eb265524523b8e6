package camera

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

// SessionState is the state of a Session.
type SessionState int

// SessionState definitions.
const (
	Idle SessionState = iota
	Attached
	Recording
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attached:
		return "attached"
	case Recording:
		return "recording"
	}
	return "unknown"
}

// PhotoQuality is the JPEG quality of captured photos.
const PhotoQuality = 90

// Session owns at most one live stream and the recorder bound to it.
//
// The zero value is an idle session. Session is safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	stream     Stream
	recorder   Recorder
	state      SessionState
	finalizing bool // A stopped recording is being finalized.
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DeviceID returns the device of the attached stream, or "" when idle.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return ""
	}
	return s.stream.DeviceID()
}

// Frame returns the latest frame of the attached stream.
func (s *Session) Frame() (image.Image, error) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return nil, ErrNoFrame
	}
	return stream.Frame()
}

// Attach binds stream to the session and prepares a recorder for it. The
// previously attached stream, if any, is released first. If no recorder
// can be prepared, stream is closed and an *AttachError is returned.
func (s *Session) Attach(stream Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.releaseLocked(); err != nil {
		log.Warn().Err(err).Msg("Releasing previous stream")
	}

	if stream == nil {
		return &AttachError{Err: fmt.Errorf("nil stream")}
	}
	rec, err := stream.NewRecorder()
	if err != nil {
		if cerr := stream.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("stream", stream.ID()).Msg("Closing stream after failed attach")
		}
		return &AttachError{DeviceID: stream.DeviceID(), Err: fmt.Errorf("preparing recorder: %w", err)}
	}

	s.stream = stream
	s.recorder = rec
	s.state = Attached
	log.Info().Str("device", stream.DeviceID()).Str("stream", stream.ID()).Msg("Stream attached")
	return nil
}

// CapturePhoto encodes the current frame as a JPEG photo. Without an
// attached stream or an available frame, CapturePhoto returns nil and no
// error.
func (s *Session) CapturePhoto() (*Artifact, error) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return nil, nil
	}

	img, err := stream.Frame()
	if err != nil {
		log.Debug().Err(err).Msg("No frame for photo")
		return nil, nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(PhotoQuality)); err != nil {
		return nil, fmt.Errorf("encoding photo: %w", err)
	}
	return newArtifact(Photo, Media{MIMEType: "image/jpeg", Data: buf.Bytes()}), nil
}

// StartRecording begins recording the attached stream. It does nothing
// when no stream is attached or a recording is already in progress.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Attached {
		return nil
	}
	if s.finalizing {
		return ErrFinalizing
	}
	if err := s.recorder.Start(); err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}
	s.state = Recording
	return nil
}

// StopRecording finalizes the recording in progress into a video artifact.
// Without a recording in progress, StopRecording returns nil and no error.
// The session stays usable while the recording is finalized, but a new
// recording cannot start until StopRecording returns.
func (s *Session) StopRecording() (*Artifact, error) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return nil, nil
	}
	rec := s.recorder
	s.state = Attached
	s.finalizing = true
	s.mu.Unlock()

	m, err := rec.Stop()

	s.mu.Lock()
	s.finalizing = false
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("finalizing recording: %w", err)
	}
	return newArtifact(Video, m), nil
}

// Release discards a recording in progress and stops all tracks of the
// attached stream. The session is idle afterwards.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *Session) releaseLocked() error {
	if s.stream == nil {
		return nil
	}
	if s.state == Recording {
		if err := s.recorder.Abort(); err != nil {
			log.Warn().Err(err).Msg("Discarding recording")
		}
	}
	stream := s.stream
	s.stream = nil
	s.recorder = nil
	s.state = Idle
	if err := stream.Close(); err != nil {
		return fmt.Errorf("closing stream %s: %w", stream.ID(), err)
	}
	log.Info().Str("device", stream.DeviceID()).Str("stream", stream.ID()).Msg("Stream released")
	return nil
}
