package ffmpeg

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
)

func TestParseDevices(t *testing.T) {
	const v4l2ctl = `bcm2835-codec-decode (platform:bcm2835-codec):
	/dev/video10
	/dev/video11

HD Pro Webcam C920 (usb-0000:00:14.0-1):
	/dev/video0
	/dev/video1
	/dev/media0

Integrated Camera: Integrated C (usb-0000:00:14.0-8):
	/dev/video2
`
	devs := parseDevices(v4l2ctl)
	exp := []camera.Device{
		{ID: "/dev/video0", Label: "HD Pro Webcam C920 (usb-0000:00:14.0-1) (/dev/video0)", Kind: camera.VideoInput},
		{ID: "/dev/video1", Label: "HD Pro Webcam C920 (usb-0000:00:14.0-1) (/dev/video1)", Kind: camera.VideoInput},
		{ID: "/dev/video2", Label: "Integrated Camera: Integrated C (usb-0000:00:14.0-8) (/dev/video2)", Kind: camera.VideoInput},
	}
	if !reflect.DeepEqual(devs, exp) {
		t.Fatalf("v4l2-ctl devices, got %v, expected %v", devs, exp)
	}

	if devs := parseDevices(""); len(devs) != 0 {
		t.Fatalf("expected no devices, got %v", devs)
	}
}

func TestVideoSize(t *testing.T) {
	profiles := camera.DefaultProfiles("/dev/video0")
	size, err := videoSize(profiles[0])
	if err != nil || size != "1280x720" {
		t.Fatalf("first profile, got %q, %v", size, err)
	}
	size, err = videoSize(profiles[1])
	if err != nil || size != "" {
		t.Fatalf("unconstrained profile, got %q, %v", size, err)
	}

	_, err = videoSize(camera.Constraints{Width: camera.Range{Ideal: 640}})
	if !errors.Is(err, camera.ErrOverconstrained) {
		t.Fatalf("expected overconstrained for width only, got %v", err)
	}
	_, err = videoSize(camera.Constraints{Width: camera.Range{Ideal: 4000, Max: 1920}, Height: camera.Range{Ideal: 720}})
	if !errors.Is(err, camera.ErrOverconstrained) {
		t.Fatalf("expected overconstrained for ideal beyond max, got %v", err)
	}
}

func TestCaptureArgs(t *testing.T) {
	args := strings.Join(captureArgs("/dev/video0", "1280x720", 100*time.Millisecond), " ")
	for _, exp := range []string{"-f v4l2", "-framerate 10", "-video_size 1280x720", "-i /dev/video0", "test%05d.jpg"} {
		if !strings.Contains(args, exp) {
			t.Errorf("missing %q in %q", exp, args)
		}
	}
	args = strings.Join(captureArgs("/dev/video0", "", time.Second), " ")
	if strings.Contains(args, "-video_size") {
		t.Errorf("unexpected -video_size in %q", args)
	}
}

func TestMissingToolIsListFailure(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	ctx := context.Background()
	d := New(Opts{})

	if err := d.RequestPermission(ctx); err != nil {
		t.Fatalf("permission check: got %v, expected nil", err)
	}
	if _, err := d.EnumerateDevices(ctx); !errors.Is(err, errInstallHint) {
		t.Fatalf("enumerate: got %v, expected install hint", err)
	}
	_, err := camera.ListDevices(ctx, d)
	if !errors.Is(err, errInstallHint) {
		t.Fatalf("list: got %v, expected install hint", err)
	}
	if errors.Is(err, camera.ErrPermissionDenied) {
		t.Fatalf("list: missing tool reported as permission denied: %v", err)
	}
}
