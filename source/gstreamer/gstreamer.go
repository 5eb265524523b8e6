// Package gstreamer implements camera.MediaDevices with the gstreamer tools.
package gstreamer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/source/procstream"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y gstreamer1.0-tools gstreamer1.0-plugins-good gstreamer1.0-plugins-base gstreamer1.0-plugins-base-apps")

// Opts has options for the gstreamer source.
type Opts struct {
	Interval time.Duration // How often to capture a frame.
}

// Devices captures from v4l2 devices with gst-launch-1.0.
type Devices struct {
	opts Opts
}

// Check that Devices implements interface MediaDevices.
var _ camera.MediaDevices = (*Devices)(nil)

// New returns a gstreamer source.
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
		// Nothing to open, enumeration reports the problem.
		return nil
	}
	return procstream.CheckAccess(devs[0].ID)
}

// EnumerateDevices returns the video sources with raw capture modes, as
// reported by gst-device-monitor-1.0. It fails with an install hint if the
// gstreamer tools are missing.
func (d *Devices) EnumerateDevices(ctx context.Context) ([]camera.Device, error) {
	for _, c := range []string{"gst-device-monitor-1.0", "gst-launch-1.0"} {
		if err := procstream.LookPath(c, errInstallHint); err != nil {
			return nil, err
		}
	}
	cmd := exec.CommandContext(ctx, "gst-device-monitor-1.0", "Video/Source")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using gst-device-monitor-1.0: %w", err)
	}
	return parseDevices(buf)
}

// GetUserMedia starts gst-launch-1.0 on the device with the capture mode
// closest to the ideal resolution that stays within the bounds of c.
func (d *Devices) GetUserMedia(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	devs, err := d.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := findDevice(devs, c.DeviceID)
	if err != nil {
		return nil, err
	}
	dc, err := pickCap(dev.Caps, c)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dev.ID, err)
	}

	s, err := procstream.Start(ctx, procstream.Opts{
		Command:     "gst-launch-1.0",
		Args:        func(dir string) []string { return launchArgs(dev.ID, dc, d.opts.Interval, dir) },
		DeviceID:    dev.ID,
		Interval:    d.opts.Interval,
		InstallHint: errInstallHint,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func findDevice(devs []camera.Device, id string) (camera.Device, error) {
	if len(devs) == 0 {
		return camera.Device{}, camera.ErrNoDeviceFound
	}
	if id == "" {
		return devs[0], nil
	}
	for _, d := range devs {
		if d.ID == id {
			return d, nil
		}
	}
	return camera.Device{}, fmt.Errorf("device %q not found", id)
}

func launchArgs(deviceID string, dc camera.DeviceCap, interval time.Duration, dir string) []string {
	fps := int(time.Second / interval)
	if fps < 1 {
		fps = 1
	}
	return []string{
		"-q",
		"v4l2src",
		"device=" + deviceID,
		"!",
		fmt.Sprintf("video/x-raw,width=%d,height=%d", dc.Width, dc.Height),
		"!",
		"videorate",
		"!",
		fmt.Sprintf("video/x-raw,framerate=%d/1", fps),
		"!",
		"videoconvert",
		"!",
		"jpegenc",
		"!",
		"multifilesink",
		"location=" + dir + "/test%05d.jpg",
	}
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// pickCap returns the capture mode within the bounds of c that is closest to
// its ideal resolution. Without ideal resolution, modes are compared to
// 640x480.
func pickCap(caps []camera.DeviceCap, c camera.Constraints) (camera.DeviceCap, error) {
	if len(caps) == 0 {
		return camera.DeviceCap{}, fmt.Errorf("no raw capture modes")
	}
	w, h := c.Width.Ideal, c.Height.Ideal
	if w == 0 {
		w = 640
	}
	if h == 0 {
		h = 480
	}
	distance := func(a camera.DeviceCap) int {
		return abs(a.Width-w)*abs(a.Height-h) + abs(a.Width-w) + abs(a.Height-h)
	}

	var fits []camera.DeviceCap
	for _, dc := range caps {
		if c.Allows(dc.Width, dc.Height) {
			fits = append(fits, dc)
		}
	}
	if len(fits) == 0 {
		return camera.DeviceCap{}, fmt.Errorf("%w: no capture mode within %s", camera.ErrOverconstrained, c)
	}
	sort.SliceStable(fits, func(i, j int) bool {
		return distance(fits[i]) < distance(fits[j])
	})
	return fits[0], nil
}

type device struct {
	ID          string
	Name        string
	Bus         string
	DeviceClass string
	RawCaps     []string
	inCapMode   bool
}

var widthRegexp = regexp.MustCompile(`width=(?:\(int\))?([0-9]+)[^0-9]`)
var heightRegexp = regexp.MustCompile(`height=(?:\(int\))?([0-9]+)[^0-9]`)
var framerateRegexp = regexp.MustCompile(`framerate=(?:\(fraction\))?[{ ]*(?:\(fraction\))?([0-9]+)[^0-9]`)

func parseDevices(buf []byte) ([]camera.Device, error) {
	var r []device
	var d *device
	b := bufio.NewScanner(bytes.NewReader(buf))
	for b.Scan() {
		s := strings.TrimSpace(b.Text())
		if s == "" {
			continue
		}
		if s == "Device found:" {
			if d != nil {
				r = append(r, *d)
			}
			d = &device{}
			continue
		}

		if d == nil {
			continue
		}

		if strings.HasPrefix(s, "name  :") {
			d.Name = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
			continue
		}
		if strings.HasPrefix(s, "class :") {
			d.DeviceClass = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
			continue
		}
		if strings.HasPrefix(s, "caps  :") {
			cap := strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
			d.RawCaps = append(d.RawCaps, cap)
			d.inCapMode = true
			continue
		}
		if strings.HasPrefix(s, "properties:") {
			d.inCapMode = false
			continue
		}
		if d.inCapMode {
			d.RawCaps = append(d.RawCaps, s)
		}
		if strings.HasPrefix(s, "device.path =") {
			d.ID = strings.TrimSpace(strings.SplitN(s, "=", 2)[1])
		}
		if strings.HasPrefix(s, "device.bus =") {
			d.Bus = strings.TrimSpace(strings.SplitN(s, "=", 2)[1])
		}
	}
	if err := b.Err(); err != nil {
		return nil, err
	}

	if d != nil && d.ID != "" {
		r = append(r, *d)
	}

	devs := []camera.Device{}
	for _, d := range r {
		if d.DeviceClass != "Video/Source" || d.ID == "" {
			continue
		}
		var caps []camera.DeviceCap
		seen := map[camera.DeviceCap]bool{}
		for _, rc := range d.RawCaps {
			if !strings.HasPrefix(rc, "video/x-raw") {
				continue
			}
			mw := widthRegexp.FindStringSubmatch(rc)
			mh := heightRegexp.FindStringSubmatch(rc)
			mf := framerateRegexp.FindStringSubmatch(rc)
			if mw == nil || mh == nil || mf == nil {
				continue
			}
			width, werr := strconv.ParseInt(mw[1], 10, 32)
			height, herr := strconv.ParseInt(mh[1], 10, 32)
			framerate, ferr := strconv.ParseInt(mf[1], 10, 32)
			if werr != nil || herr != nil || ferr != nil {
				continue
			}
			dc := camera.DeviceCap{Width: int(width), Height: int(height), Framerate: int(framerate)}
			if width != 0 && height != 0 && framerate != 0 && !seen[dc] {
				seen[dc] = true
				caps = append(caps, dc)
			}
		}
		if len(caps) == 0 {
			continue
		}

		label := d.Name
		if d.Bus != "" {
			label = fmt.Sprintf("%s (%s)", d.Name, d.Bus)
		}
		devs = append(devs, camera.Device{
			ID:    d.ID,
			Label: label,
			Kind:  camera.VideoInput,
			Caps:  caps,
		})
	}
	return devs, nil
}
