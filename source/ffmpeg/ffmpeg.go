// Package ffmpeg implements camera.MediaDevices with ffmpeg and v4l2-ctl.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/source/procstream"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

// Opts has options for the ffmpeg source.
type Opts struct {
	Interval time.Duration // How often to capture a frame.
}

// Devices captures from v4l2 devices with ffmpeg.
type Devices struct {
	opts Opts
}

// Check that Devices implements interface MediaDevices.
var _ camera.MediaDevices = (*Devices)(nil)

// New returns an ffmpeg source.
func New(opts Opts) *Devices {
	if opts.Interval <= 0 {
		opts.Interval = procstream.DefaultInterval
	}
	return &Devices{opts}
}

// RequestPermission checks the first device can be opened.
func (d *Devices) RequestPermission(ctx context.Context) error {
	devs, err := d.EnumerateDevices(ctx)
	if err != nil || len(devs) == 0 {
		return nil
	}
	return procstream.CheckAccess(devs[0].ID)
}

// EnumerateDevices returns the video devices listed by v4l2-ctl. It fails
// with an install hint if ffmpeg or v4l2-ctl is missing.
func (d *Devices) EnumerateDevices(ctx context.Context) ([]camera.Device, error) {
	for _, c := range []string{"v4l2-ctl", "ffmpeg"} {
		if err := procstream.LookPath(c, errInstallHint); err != nil {
			return nil, err
		}
	}
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--list-devices")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using v4l2-ctl: %w", err)
	}
	return parseDevices(string(buf)), nil
}

func parseDevices(s string) []camera.Device {
	var curDevice string
	devices := []camera.Device{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			curDevice = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		// Skip the codecs and ISP of the Raspberry Pi.
		if curDevice == "" || strings.HasPrefix(curDevice, "bcm2835-") {
			continue
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/dev/video") {
			continue
		}
		devices = append(devices, camera.Device{
			ID:    line,
			Label: fmt.Sprintf("%s (%s)", curDevice, line),
			Kind:  camera.VideoInput,
		})
	}
	return devices
}

// GetUserMedia starts ffmpeg on the device. A resolution bound is passed as
// the ideal video size; ffmpeg failing to start with it is reported as
// camera.ErrOverconstrained.
func (d *Devices) GetUserMedia(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	id := c.DeviceID
	if id == "" {
		devs, err := d.EnumerateDevices(ctx)
		if err != nil {
			return nil, err
		}
		if len(devs) == 0 {
			return nil, camera.ErrNoDeviceFound
		}
		id = devs[0].ID
	}

	size, err := videoSize(c)
	if err != nil {
		return nil, err
	}

	s, err := procstream.Start(ctx, procstream.Opts{
		Command:     "ffmpeg",
		Args:        func(dir string) []string { return captureArgs(id, size, d.opts.Interval) },
		DeviceID:    id,
		Interval:    d.opts.Interval,
		InstallHint: errInstallHint,
	})
	if err != nil {
		if size != "" && !errors.Is(err, errInstallHint) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", camera.ErrOverconstrained, err)
		}
		return nil, err
	}
	return s, nil
}

// videoSize returns the -video_size argument for c, or "" if c does not
// bound the resolution.
func videoSize(c camera.Constraints) (string, error) {
	if !c.HasResolution() {
		return "", nil
	}
	w, h := c.Width.Ideal, c.Height.Ideal
	if w == 0 {
		w = c.Width.Max
	}
	if h == 0 {
		h = c.Height.Max
	}
	if w == 0 || h == 0 {
		return "", fmt.Errorf("%w: ffmpeg needs both width and height, got %s", camera.ErrOverconstrained, c)
	}
	if !c.Allows(w, h) {
		return "", fmt.Errorf("%w: ideal size exceeds maximum in %s", camera.ErrOverconstrained, c)
	}
	return fmt.Sprintf("%dx%d", w, h), nil
}

func captureArgs(deviceID, size string, interval time.Duration) []string {
	fps := int(time.Second / interval)
	if fps < 1 {
		fps = 1
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", fps),
	}
	if size != "" {
		args = append(args, "-video_size", size)
	}
	return append(args,
		"-i", deviceID,
		"-f", "image2",
		"-qscale:v", "2",
		"test%05d.jpg",
	)
}
