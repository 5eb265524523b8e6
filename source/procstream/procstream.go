// Package procstream exposes a capture tool that writes JPEG frames to a
// directory as a camera.Stream.
package procstream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/source/framedir"
	"github.com/edgeimpulse/linux-camera-go/source/framerec"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the frame interval used when Opts.Interval is zero.
const DefaultInterval = 100 * time.Millisecond

// Opts has options for Start.
type Opts struct {
	// Command is the executable, looked up in PATH.
	Command string

	// Args returns the arguments of the command, given the directory the
	// frames must be written to.
	Args func(dir string) []string

	DeviceID string
	Interval time.Duration // How often the tool writes a frame.

	// StartTimeout bounds the wait for the first frame. Default 10 seconds.
	StartTimeout time.Duration

	// InstallHint replaces exec.ErrNotFound in errors.
	InstallHint error
}

// Stream is a running capture tool.
type Stream struct {
	id       string
	deviceID string
	opts     Opts
	track    *track
	tempDir  string
	cancel   context.CancelFunc
	watcher  *framedir.Watcher
	exited   chan struct{}
	stderr   *tailWriter
	waitErr  error

	closeOnce sync.Once
}

var _ camera.Stream = (*Stream)(nil)

// Start runs the tool and returns once it wrote its first frame. If the tool
// exits or ctx is done before that, Start fails.
//
// Callers must call Close to clean up.
func Start(ctx context.Context, opts Opts) (stream *Stream, rerr error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 10 * time.Second
	}

	s := &Stream{
		id:       uuid.NewString(),
		deviceID: opts.DeviceID,
		opts:     opts,
		exited:   make(chan struct{}),
		stderr:   &tailWriter{max: 4096},
	}
	s.track = &track{id: uuid.NewString(), stream: s}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	tempDir, err := camera.TempDir(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %w", err)
	}
	s.tempDir = tempDir

	// Watch before starting the tool, so the first frame is not missed.
	s.watcher, err = framedir.New(tempDir, framedir.Opts{Interval: opts.Interval})
	if err != nil {
		return nil, err
	}

	args := opts.Args(tempDir)
	log.Debug().
		Str("command", opts.Command).
		Strs("args", args).
		Str("dir", tempDir).
		Msg("Starting capture tool")

	pctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	cmd := exec.CommandContext(pctx, opts.Command, args...)
	cmd.Dir = tempDir
	cmd.Stderr = s.stderr
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Start(); err != nil {
		close(s.exited)
		if errors.Is(err, exec.ErrNotFound) && opts.InstallHint != nil {
			err = opts.InstallHint
		}
		return nil, fmt.Errorf("starting %s: %w", opts.Command, err)
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	wctx, wcancel := context.WithTimeout(ctx, opts.StartTimeout)
	defer wcancel()
	first := make(chan error, 1)
	go func() { first <- s.watcher.WaitFirst(wctx) }()

	select {
	case err := <-first:
		if err != nil {
			return nil, fmt.Errorf("waiting for first frame from %s: %w", opts.Command, err)
		}
	case <-s.exited:
		return nil, fmt.Errorf("%s exited before first frame: %v: %s", opts.Command, s.waitErr, s.stderr.String())
	}

	log.Debug().Str("stream", s.id).Str("device", s.deviceID).Msg("Capture tool running")
	return s, nil
}

// ID implements camera.Stream.
func (s *Stream) ID() string { return s.id }

// DeviceID implements camera.Stream.
func (s *Stream) DeviceID() string { return s.deviceID }

// Tracks implements camera.Stream.
func (s *Stream) Tracks() []camera.Track { return []camera.Track{s.track} }

// Frame implements camera.Stream.
func (s *Stream) Frame() (image.Image, error) {
	select {
	case <-s.exited:
		return nil, fmt.Errorf("%s stopped: %w", s.opts.Command, camera.ErrNoFrame)
	default:
	}
	f, err := s.watcher.Latest()
	if err != nil {
		return nil, err
	}
	return f.Image, nil
}

// Frames returns the frame source of the stream.
func (s *Stream) Frames() *framedir.Watcher { return s.watcher }

// NewRecorder implements camera.Stream. Recordings are finalized as WebM.
func (s *Stream) NewRecorder() (camera.Recorder, error) {
	fps := int(time.Second / s.opts.Interval)
	if fps < 1 {
		fps = 1
	}
	return framerec.New(s.watcher, framerec.Opts{Framerate: fps}), nil
}

// Close stops the tool and removes its temporary directory. Close is
// idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.exited
		}
		if s.watcher != nil {
			s.watcher.Close()
		}
		if s.tempDir != "" {
			os.RemoveAll(s.tempDir)
		}
		log.Debug().Str("stream", s.id).Str("command", s.opts.Command).Msg("Capture tool stopped")
	})
	return nil
}

type track struct {
	id     string
	stream *Stream
}

func (t *track) ID() string { return t.id }

func (t *track) Kind() camera.DeviceKind { return camera.VideoInput }

func (t *track) Stop() error { return t.stream.Close() }

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.buf))
}

// CheckAccess opens a device node for reading and writing. It returns an
// error matching fs.ErrPermission if the process may not capture from it.
func CheckAccess(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w (add the user to the video group: sudo usermod -aG video $USER)", err)
		}
		return err
	}
	return f.Close()
}

// LookPath checks that command is installed, replacing exec.ErrNotFound with
// hint.
func LookPath(command string, hint error) error {
	if _, err := exec.LookPath(command); err != nil {
		if errors.Is(err, exec.ErrNotFound) && hint != nil {
			return hint
		}
		return err
	}
	return nil
}
