package mediadev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/source/webm"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/rs/zerolog/log"
)

const (
	mtu = 1200

	// remuxTimeout bounds the ffmpeg remux of a finished recording.
	remuxTimeout = time.Minute
)

var errInactive = errors.New("no recording in progress")

// recorder writes the VP8 RTP packets of a track into an IVF container.
// Finished recordings are remuxed to WebM when ffmpeg is installed.
type recorder struct {
	track *mediadevices.VideoTrack
	mime  string

	mu     sync.Mutex
	reader mediadevices.RTPReadCloser
	buf    *bytes.Buffer
	done   chan error
}

var _ camera.Recorder = (*recorder)(nil)

func (r *recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader != nil {
		return errors.New("recording already in progress")
	}

	reader, err := r.track.NewRTPReader(r.mime, rand.Uint32(), mtu)
	if err != nil {
		return fmt.Errorf("new rtp reader for %s: %w", r.mime, err)
	}
	buf := &bytes.Buffer{}
	w, err := ivfwriter.NewWith(buf)
	if err != nil {
		reader.Close()
		return fmt.Errorf("new ivf writer: %w", err)
	}

	r.reader = reader
	r.buf = buf
	r.done = make(chan error, 1)
	go func() {
		r.done <- write(reader, w)
	}()
	log.Debug().Str("codec", r.mime).Msg("Recording started")
	return nil
}

// write copies packets from reader to w until reader is closed.
func write(reader mediadevices.RTPReadCloser, w *ivfwriter.IVFWriter) error {
	packets := 0
	for {
		pkts, release, err := reader.Read()
		if err != nil {
			log.Debug().Err(err).Int("packets", packets).Msg("RTP reader stopped")
			break
		}
		for _, pkt := range pkts {
			if err := w.WriteRTP(pkt); err != nil {
				release()
				w.Close()
				return fmt.Errorf("writing rtp packet: %w", err)
			}
			packets++
		}
		release()
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing ivf writer: %w", err)
	}
	if packets == 0 {
		return webm.ErrNoFrames
	}
	return nil
}

// halt stops reading packets and returns the finished IVF data.
func (r *recorder) halt() ([]byte, error) {
	r.mu.Lock()
	if r.reader == nil {
		r.mu.Unlock()
		return nil, errInactive
	}
	reader, buf, done := r.reader, r.buf, r.done
	r.reader, r.buf, r.done = nil, nil, nil
	r.mu.Unlock()

	if err := reader.Close(); err != nil {
		log.Debug().Err(err).Msg("Closing rtp reader")
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *recorder) Stop() (camera.Media, error) {
	ivf, err := r.halt()
	if err != nil {
		return camera.Media{}, err
	}
	if !webm.Available() {
		log.Info().Msg("ffmpeg not found, keeping recording as IVF")
		return camera.Media{MIMEType: webm.IVFMIMEType, Data: ivf}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), remuxTimeout)
	defer cancel()
	m, err := webm.FromIVF(ctx, ivf)
	if err != nil {
		log.Warn().Err(err).Msg("Remuxing recording to WebM, keeping IVF")
		return camera.Media{MIMEType: webm.IVFMIMEType, Data: ivf}, nil
	}
	return m, nil
}

func (r *recorder) Abort() error {
	if _, err := r.halt(); err != nil && !errors.Is(err, errInactive) {
		log.Debug().Err(err).Msg("Discarding recording")
	}
	return nil
}
