package camera

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// DeviceKind is the kind of an input device.
type DeviceKind int

// DeviceKind definitions.
const (
	VideoInput DeviceKind = iota + 1
	AudioInput
)

func (k DeviceKind) String() string {
	switch k {
	case VideoInput:
		return "videoinput"
	case AudioInput:
		return "audioinput"
	}
	return "unknown"
}

// DeviceCap describes a capture mode of a device.
type DeviceCap struct {
	Width     int
	Height    int
	Framerate int
}

func (c DeviceCap) String() string {
	return fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.Framerate)
}

// Device is a camera-like input endpoint.
type Device struct {
	ID    string
	Label string // May be empty.
	Kind  DeviceKind
	Caps  []DeviceCap // Only filled in by sources that can query capture modes.
}

// DisplayLabel returns the label of the device at index i of a device
// list, falling back to "Camera i+1" for devices without a label.
func (d Device) DisplayLabel(i int) string {
	if d.Label != "" {
		return d.Label
	}
	return fmt.Sprintf("Camera %d", i+1)
}

var preferredLabels = []string{"usb", "external"}

// PreferExternal returns the devices whose label mentions "usb" or
// "external" (case-insensitive) if there are any, and all devices
// otherwise. The order of devices is kept.
func PreferExternal(devices []Device) []Device {
	var preferred []Device
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		for _, p := range preferredLabels {
			if strings.Contains(label, p) {
				preferred = append(preferred, d)
				break
			}
		}
	}
	if len(preferred) > 0 {
		return preferred
	}
	return devices
}

// ListDevices probes for capture permission, enumerates the video input
// devices and applies PreferExternal.
//
// ListDevices returns an error matching ErrPermissionDenied if the probe
// fails, and ErrNoDeviceFound if no video input remains.
func ListDevices(ctx context.Context, md MediaDevices) ([]Device, error) {
	if err := md.RequestPermission(ctx); err != nil {
		return nil, &PermissionDeniedError{Err: err}
	}

	all, err := md.EnumerateDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	var video []Device
	for _, d := range all {
		if d.Kind == VideoInput {
			video = append(video, d)
		}
	}

	devices := PreferExternal(video)
	log.Debug().
		Int("enumerated", len(all)).
		Int("video", len(video)).
		Int("listed", len(devices)).
		Msg("Listed devices")

	if len(devices) == 0 {
		return nil, ErrNoDeviceFound
	}
	return devices, nil
}
