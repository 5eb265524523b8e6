// Package imagesnap implements camera.MediaDevices with the imagesnap command
// for macOS.
package imagesnap

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

var errInstallHint = errors.New("executable not found, install with: brew install imagesnap")

// Opts has options for the imagesnap source.
type Opts struct {
	Interval time.Duration // How often to capture a frame.
}

// Devices captures by starting imagesnap and making it write images to
// temporary storage.
type Devices struct {
	opts Opts
}

// Check that Devices implements interface MediaDevices.
var _ camera.MediaDevices = (*Devices)(nil)

// New returns an imagesnap source.
func New(opts Opts) *Devices {
	if opts.Interval <= 0 {
		opts.Interval = procstream.DefaultInterval
	}
	return &Devices{opts}
}

// RequestPermission does nothing, macOS asks the user for camera access on
// first capture.
func (d *Devices) RequestPermission(ctx context.Context) error {
	return nil
}

// EnumerateDevices returns all image capturing devices available to
// imagesnap. It fails with an install hint if imagesnap is missing.
func (d *Devices) EnumerateDevices(ctx context.Context) ([]camera.Device, error) {
	if err := procstream.LookPath("imagesnap", errInstallHint); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "imagesnap", "-l")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices with imagesnap -l: %w", err)
	}
	return parseDevices(string(buf)), nil
}

func parseDevices(s string) []camera.Device {
	devs := []camera.Device{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		var name string
		if strings.HasPrefix(line, "=> ") {
			// Newer format, example: "=> FaceTime HD Camera (Built-in)"
			name = line[len("=> "):]
		} else if strings.HasPrefix(line, "<") {
			// Older format, example: "<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>"
			t := strings.Split(line, "[")
			if len(t) < 2 {
				continue
			}
			name = strings.Split(t[1], "]")[0]
		} else {
			continue
		}
		devs = append(devs, camera.Device{ID: name, Label: name, Kind: camera.VideoInput})
	}
	return devs
}

// GetUserMedia starts imagesnap on the device. Imagesnap cannot select a
// resolution, constraints bounding it fail with camera.ErrOverconstrained.
func (d *Devices) GetUserMedia(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if c.HasResolution() {
		return nil, fmt.Errorf("%w: imagesnap captures at the device default resolution", camera.ErrOverconstrained)
	}

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

	s, err := procstream.Start(ctx, procstream.Opts{
		Command:     "imagesnap",
		Args:        func(dir string) []string { return captureArgs(id, d.opts.Interval) },
		DeviceID:    id,
		Interval:    d.opts.Interval,
		InstallHint: errInstallHint,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func captureArgs(deviceID string, interval time.Duration) []string {
	return []string{
		"-d", deviceID,
		"-t", fmt.Sprintf("%.2f", interval.Seconds()),
	}
}
