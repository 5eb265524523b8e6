// Package webm finalizes recorded video into a WebM container with ffmpeg.
package webm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"

	"github.com/rs/zerolog/log"
)

// MIMEType is the type of finalized recordings.
const MIMEType = "video/webm"

// IVFMIMEType is the type of VP8 recordings that could not be remuxed.
const IVFMIMEType = "video/x-ivf"

var errInstallHint = errors.New("ffmpeg not found, install with: sudo apt install -y ffmpeg (Linux) or brew install ffmpeg (macOS)")

// ErrNoFrames is returned when a recording holds no frames.
var ErrNoFrames = errors.New("recording has no frames")

// Available reports whether ffmpeg can be found in PATH.
func Available() bool {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return false
	}
	log.Debug().Str("path", path).Msg("ffmpeg found")
	return true
}

// FromIVF remuxes VP8 frames in an IVF container into WebM without
// re-encoding.
func FromIVF(ctx context.Context, ivf []byte) (camera.Media, error) {
	return run(ctx, bytes.NewReader(ivf), remuxArgs())
}

// FromJPEGs encodes a sequence of JPEG frames captured at fps frames per
// second as VP8 video in WebM.
func FromJPEGs(ctx context.Context, frames [][]byte, fps int) (camera.Media, error) {
	if len(frames) == 0 {
		return camera.Media{}, ErrNoFrames
	}
	return run(ctx, bytes.NewReader(bytes.Join(frames, nil)), encodeArgs(fps))
}

func remuxArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "ivf",
		"-i", "pipe:0",
		"-c", "copy",
		"-f", "webm",
		"pipe:1",
	}
}

func encodeArgs(fps int) []string {
	if fps <= 0 {
		fps = 10
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-framerate", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-c:v", "libvpx",
		"-b:v", "1M",
		"-deadline", "realtime",
		"-pix_fmt", "yuv420p",
		"-f", "webm",
		"pipe:1",
	}
}

func run(ctx context.Context, in *bytes.Reader, args []string) (camera.Media, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return camera.Media{}, errInstallHint
	}

	inSize := in.Len()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Stdin = in
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Strs("args", args).Msg("Running ffmpeg")
	t0 := time.Now()
	if err := cmd.Run(); err != nil {
		log.Warn().
			Err(err).
			Str("ffmpeg_output", stderr.String()).
			Dur("took", time.Since(t0)).
			Msg("Finalizing recording failed")
		return camera.Media{}, fmt.Errorf("running ffmpeg: %w", err)
	}
	if stdout.Len() == 0 {
		return camera.Media{}, fmt.Errorf("ffmpeg produced no output: %s", stderr.String())
	}

	log.Debug().
		Int("input_bytes", inSize).
		Int("output_bytes", stdout.Len()).
		Dur("took", time.Since(t0)).
		Msg("Recording finalized")
	return camera.Media{MIMEType: MIMEType, Data: stdout.Bytes()}, nil
}
