// Package framerec records the JPEG frames of a capture tool and finalizes
// them into a video.
package framerec

import (
	"context"
	"errors"
	"sync"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/source/framedir"
	"github.com/edgeimpulse/linux-camera-go/source/webm"

	"github.com/rs/zerolog/log"
)

var (
	errActive   = errors.New("recording already in progress")
	errInactive = errors.New("no recording in progress")
)

// Source delivers frames to subscribers, see framedir.Watcher.
type Source interface {
	Subscribe(ch chan<- framedir.Frame) (cancel func())
}

// Finalizer turns a sequence of JPEG frames into a video container.
type Finalizer func(ctx context.Context, frames [][]byte, fps int) (camera.Media, error)

// Opts has options for a new Recorder.
type Opts struct {
	Framerate int           // Frames per second of the source. Default 10.
	MaxFrames int           // Frames beyond are dropped. Default 3000.
	Timeout   time.Duration // For finalizing a recording. Default 1 minute.
	Finalize  Finalizer     // Default webm.FromJPEGs.
}

// Recorder buffers the frames of a source between Start and Stop.
type Recorder struct {
	src  Source
	opts Opts

	mu      sync.Mutex
	cancel  func()
	stop    chan struct{}
	done    chan struct{}
	frames  [][]byte
	dropped int
}

var _ camera.Recorder = (*Recorder)(nil)

// New returns a recorder for frames from src.
func New(src Source, opts Opts) *Recorder {
	if opts.Framerate <= 0 {
		opts.Framerate = 10
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = 3000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Finalize == nil {
		opts.Finalize = webm.FromJPEGs
	}
	return &Recorder{src: src, opts: opts}
}

// Start implements camera.Recorder.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return errActive
	}

	ch := make(chan framedir.Frame, 8)
	r.frames = nil
	r.dropped = 0
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.cancel = r.src.Subscribe(ch)
	go r.collect(ch, r.stop, r.done)
	log.Debug().Int("framerate", r.opts.Framerate).Msg("Recording started")
	return nil
}

func (r *Recorder) collect(ch <-chan framedir.Frame, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			// Keep frames that arrived before unsubscribing.
			for {
				select {
				case f := <-ch:
					r.add(f)
				default:
					return
				}
			}
		case f := <-ch:
			r.add(f)
		}
	}
}

func (r *Recorder) add(f framedir.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) < r.opts.MaxFrames {
		r.frames = append(r.frames, f.JPEG)
	} else {
		r.dropped++
	}
}

// halt ends frame collection and returns the buffered frames.
func (r *Recorder) halt() ([][]byte, int, error) {
	r.mu.Lock()
	if r.stop == nil {
		r.mu.Unlock()
		return nil, 0, errInactive
	}
	r.cancel()
	close(r.stop)
	done := r.done
	r.stop, r.done, r.cancel = nil, nil, nil
	r.mu.Unlock()

	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	frames, dropped := r.frames, r.dropped
	r.frames = nil
	return frames, dropped, nil
}

// Stop implements camera.Recorder.
func (r *Recorder) Stop() (camera.Media, error) {
	frames, dropped, err := r.halt()
	if err != nil {
		return camera.Media{}, err
	}
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Int("max", r.opts.MaxFrames).Msg("Recording truncated")
	}
	log.Debug().Int("frames", len(frames)).Msg("Recording stopped")

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()
	return r.opts.Finalize(ctx, frames, r.opts.Framerate)
}

// Abort implements camera.Recorder.
func (r *Recorder) Abort() error {
	frames, _, err := r.halt()
	if err != nil {
		return nil
	}
	log.Debug().Int("frames", len(frames)).Msg("Recording discarded")
	return nil
}
