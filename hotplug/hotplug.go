// Package hotplug reports cameras being connected or disconnected by watching
// for video device nodes.
package hotplug

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

var videoNode = regexp.MustCompile(`^video[0-9]+$`)

// Opts has options for a new Watcher.
type Opts struct {
	Dir string // Directory with device nodes. Default /dev.

	// Changes within Debounce of each other are reported once. Default
	// 500ms.
	Debounce time.Duration
}

// Watcher calls a function when video device nodes appear or disappear.
type Watcher struct {
	opts    Opts
	watcher *fsnotify.Watcher
	changed func()
	done    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// New starts watching. changed is called from a separate goroutine, once per
// burst of changes.
//
// Callers must call Close to clean up.
func New(opts Opts, changed func()) (*Watcher, error) {
	if opts.Dir == "" {
		opts.Dir = "/dev"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %w", err)
	}
	if err := watcher.Add(opts.Dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("registering file change watcher for %s: %w", opts.Dir, err)
	}

	w := &Watcher{
		opts:    opts,
		watcher: watcher,
		changed: changed,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove) == 0 || !videoNode.MatchString(filepath.Base(ev.Name)) {
				continue
			}
			log.Debug().Str("node", ev.Name).Str("op", ev.Op.String()).Msg("Video device changed")
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("dir", w.opts.Dir).Msg("Watching for video devices")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.Debounce, w.changed)
}

// Close stops watching. A pending notification is dropped.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}
