// Package gallery keeps the photos and videos captured during a session.
package gallery

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

// ErrNoThumbnail is returned by Thumbnail for artifacts that are not photos.
var ErrNoThumbnail = errors.New("artifact has no thumbnail")

// Store is an append-only, in-memory list of artifacts. Artifacts are never
// removed. The zero value is an empty store.
type Store struct {
	mu      sync.RWMutex
	items   []camera.Artifact
	byLoc   map[string]int
	thumbMu sync.Mutex
	thumbs  map[thumbKey][]byte
}

type thumbKey struct {
	locator string
	size    int
}

// Append adds a to the end of the gallery and returns it with its Ordinal
// set.
func (s *Store) Append(a camera.Artifact) camera.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byLoc == nil {
		s.byLoc = map[string]int{}
	}
	a.Ordinal = len(s.items)
	s.items = append(s.items, a)
	s.byLoc[a.Locator] = a.Ordinal
	log.Debug().
		Str("kind", a.Kind.String()).
		Str("locator", a.Locator).
		Int("ordinal", a.Ordinal).
		Int("bytes", len(a.Data)).
		Msg("Artifact added")
	return a
}

// All returns the artifacts in append order.
func (s *Store) All() []camera.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]camera.Artifact(nil), s.items...)
}

// Get returns the artifact with the locator.
func (s *Store) Get(locator string) (camera.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byLoc[locator]
	if !ok {
		return camera.Artifact{}, false
	}
	return s.items[i], true
}

// Len returns the number of artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Thumbnail returns the cached JPEG thumbnail of the photo with the locator,
// rendering it on first use.
func (s *Store) Thumbnail(locator string, size int) ([]byte, error) {
	a, ok := s.Get(locator)
	if !ok {
		return nil, fmt.Errorf("artifact %q not found", locator)
	}

	k := thumbKey{locator, size}
	s.thumbMu.Lock()
	defer s.thumbMu.Unlock()
	if buf, ok := s.thumbs[k]; ok {
		return buf, nil
	}
	buf, err := Thumbnail(a, size)
	if err != nil {
		return nil, err
	}
	if s.thumbs == nil {
		s.thumbs = map[thumbKey][]byte{}
	}
	s.thumbs[k] = buf
	return buf, nil
}

// Thumbnail renders a size x size JPEG thumbnail of photo a. It crops part
// of the photo to keep the aspect ratio. Videos have no thumbnail and
// return ErrNoThumbnail.
func Thumbnail(a camera.Artifact, size int) ([]byte, error) {
	if a.Kind != camera.Photo {
		return nil, ErrNoThumbnail
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid thumbnail size %d", size)
	}

	img, err := imaging.Decode(bytes.NewReader(a.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding photo %s: %w", a.Locator, err)
	}

	t0 := time.Now()
	thumb := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	log.Debug().
		Str("locator", a.Locator).
		Stringer("from", img.Bounds().Size()).
		Stringer("to", image.Pt(size, size)).
		Dur("took", time.Since(t0)).
		Msg("Rendered thumbnail")

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
