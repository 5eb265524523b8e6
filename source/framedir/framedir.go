// Package framedir reads JPEG frames that an external capture tool writes
// into a directory.
package framedir

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strings"
	"sync"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Frame is a decoded frame together with its JPEG encoding.
type Frame struct {
	Image image.Image
	JPEG  []byte
	Time  time.Time
}

// Opts has options for a new Watcher.
type Opts struct {
	// Frames arriving sooner than 9/10 of Interval after the previous frame
	// are skipped. Zero keeps every frame.
	Interval time.Duration
}

// Watcher keeps the latest frame written to a directory and sends every
// frame to its subscribers.
type Watcher struct {
	dir     string
	opts    Opts
	watcher *fsnotify.Watcher
	first   chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	latest Frame
	subs   map[chan<- Frame]struct{}
	err    error
}

// New starts watching dir for *.jpg files.
//
// Callers must call Close to clean up.
func New(dir string, opts Opts) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("registering file change watcher for %s: %w", dir, err)
	}

	w := &Watcher{
		dir:     dir,
		opts:    opts,
		watcher: watcher,
		first:   make(chan struct{}),
		done:    make(chan struct{}),
		subs:    map[chan<- Frame]struct{}{},
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)

	var last time.Time
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !strings.HasSuffix(ev.Name, ".jpg") {
				continue
			}
			now := time.Now()
			if !last.IsZero() && now.Sub(last) < w.opts.Interval*9/10 {
				w.remove(ev.Name, "skipped")
				continue
			}
			f, err := w.read(ev.Name)
			if err != nil {
				log.Debug().Err(err).Str("file", ev.Name).Msg("Reading frame (may be partially written)")
				continue
			}
			w.remove(ev.Name, "read")
			f.Time = now
			last = now
			w.publish(f)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("dir", w.dir).Msg("Watching for frames")
			w.mu.Lock()
			w.err = fmt.Errorf("watching for changes: %w", err)
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) read(name string) (Frame, error) {
	buf, err := os.ReadFile(name)
	if err != nil {
		return Frame{}, err
	}
	img, err := jpeg.Decode(bytes.NewReader(buf))
	if err != nil {
		return Frame{}, fmt.Errorf("decoding jpeg: %w", err)
	}
	return Frame{Image: img, JPEG: buf}, nil
}

func (w *Watcher) remove(name, what string) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Str("file", name).Msgf("Removing %s frame", what)
	}
}

func (w *Watcher) publish(f Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest.Image == nil {
		close(w.first)
	}
	w.latest = f
	for ch := range w.subs {
		select {
		case ch <- f:
		default:
			log.Debug().Msg("Dropping frame, subscriber still busy")
		}
	}
}

// Latest returns the most recent frame. It returns camera.ErrNoFrame until
// the first frame arrived.
func (w *Watcher) Latest() (Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest.Image == nil {
		if w.err != nil {
			return Frame{}, fmt.Errorf("%w: %v", camera.ErrNoFrame, w.err)
		}
		return Frame{}, camera.ErrNoFrame
	}
	return w.latest, nil
}

// Subscribe sends every following frame to ch until the returned cancel
// function is called. Frames are dropped while ch is not ready to receive.
func (w *Watcher) Subscribe(ch chan<- Frame) (cancel func()) {
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
	}
}

// WaitFirst blocks until the first frame arrived, the watcher is closed, or
// ctx is done.
func (w *Watcher) WaitFirst(ctx context.Context) error {
	select {
	case <-w.first:
		return nil
	case <-w.done:
		return fmt.Errorf("watcher closed before first frame: %w", camera.ErrNoFrame)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Close stops watching. Close is idempotent.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
