package imagesnap

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
)

func TestParseDevices(t *testing.T) {
	const imagesnap0 = `Video Devices:
<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>
<AVCaptureDALDevice: 0x7fa2c78512f0 [FaceTime HD Camera (Display)][0x4015000005ac1112]>
<AVCaptureDALDevice: 0x7fa2c784f4e0 [Cam Link 4K #5][0x2000000fd90066]>
`

	devs0 := parseDevices(imagesnap0)
	exp0 := []camera.Device{
		{ID: "FaceTime HD Camera (Built-in)", Label: "FaceTime HD Camera (Built-in)", Kind: camera.VideoInput},
		{ID: "FaceTime HD Camera (Display)", Label: "FaceTime HD Camera (Display)", Kind: camera.VideoInput},
		{ID: "Cam Link 4K #5", Label: "Cam Link 4K #5", Kind: camera.VideoInput},
	}
	if !reflect.DeepEqual(devs0, exp0) {
		t.Fatalf("imagesnap devices, got %v, expected %v", devs0, exp0)
	}

	const imagesnap1 = `Video Devices:
=> FaceTime HD Camera (Built-in)
=> USB Camera VID:1133 PID:2085
`
	devs1 := parseDevices(imagesnap1)
	exp1 := []camera.Device{
		{ID: "FaceTime HD Camera (Built-in)", Label: "FaceTime HD Camera (Built-in)", Kind: camera.VideoInput},
		{ID: "USB Camera VID:1133 PID:2085", Label: "USB Camera VID:1133 PID:2085", Kind: camera.VideoInput},
	}
	if !reflect.DeepEqual(devs1, exp1) {
		t.Fatalf("imagesnap devices, got %v, expected %v", devs1, exp1)
	}
	if got := camera.PreferExternal(devs1); !reflect.DeepEqual(got, exp1[1:]) {
		t.Fatalf("preferred devices, got %v, expected %v", got, exp1[1:])
	}
}

func TestGetUserMediaOverconstrained(t *testing.T) {
	d := New(Opts{})
	_, err := d.GetUserMedia(context.Background(), camera.DefaultProfiles("FaceTime HD Camera")[0])
	if !errors.Is(err, camera.ErrOverconstrained) {
		t.Fatalf("expected overconstrained error, got %v", err)
	}
}

func TestCaptureArgs(t *testing.T) {
	args := captureArgs("Cam Link 4K #5", 250*time.Millisecond)
	exp := []string{"-d", "Cam Link 4K #5", "-t", "0.25"}
	if !reflect.DeepEqual(args, exp) {
		t.Fatalf("args, got %v, expected %v", args, exp)
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
