package shell

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	camera "github.com/edgeimpulse/linux-camera-go"
)

func devices(ids ...string) []camera.Device {
	var devs []camera.Device
	for _, id := range ids {
		devs = append(devs, camera.Device{ID: id, Kind: camera.VideoInput})
	}
	return devs
}

func TestApplyDoesNotModify(t *testing.T) {
	s0 := State{}.Apply(DevicesListed{Devices: devices("a", "b")})
	s1 := s0.Apply(DeviceSelected{DeviceID: "a"})

	assert.Equal(t, uint64(1), s0.Version)
	assert.Equal(t, uint64(2), s1.Version)
	assert.Empty(t, s0.Selected)
	assert.False(t, s0.Pending)
	assert.Equal(t, "a", s1.Selected)
	assert.True(t, s1.Pending)

	s2 := s1.Apply(ArtifactAdded{Artifact: camera.Artifact{Kind: camera.Photo, Locator: "p1"}})
	s3 := s1.Apply(ArtifactAdded{Artifact: camera.Artifact{Kind: camera.Photo, Locator: "p2"}})
	require.Len(t, s2.Artifacts, 1)
	require.Len(t, s3.Artifacts, 1)
	assert.Equal(t, "p1", s2.Artifacts[0].Locator)
	assert.Equal(t, "p2", s3.Artifacts[0].Locator)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err error
		exp ErrorKind
	}{
		{&camera.PermissionDeniedError{Err: errors.New("denied")}, PermissionDenied},
		{fmt.Errorf("listing: %w", camera.ErrNoDeviceFound), NoDeviceFound},
		{&camera.NegotiationExhaustedError{DeviceID: "a", Attempts: 3, Err: errors.New("busy")}, NegotiationExhausted},
		{&camera.AttachError{DeviceID: "a", Err: errors.New("no recorder")}, AttachFailure},
		{errors.New("driver crashed"), ListFailure},
	}
	for _, tt := range tests {
		t.Run(tt.exp.String(), func(t *testing.T) {
			e := newErrorState(tt.err)
			assert.Equal(t, tt.exp, e.Kind)
			assert.Equal(t, tt.err.Error(), e.Message)
		})
	}
}

func TestErrorSlot(t *testing.T) {
	s := State{}.Apply(ListFailed{Err: camera.ErrNoDeviceFound})
	require.NotNil(t, s.Error)
	assert.Equal(t, NoDeviceFound, s.Error.Kind)

	// A later failure replaces the error.
	s = s.Apply(ListFailed{Err: &camera.PermissionDeniedError{Err: errors.New("denied")}})
	assert.Equal(t, PermissionDenied, s.Error.Kind)

	s = s.Apply(DevicesListed{Devices: devices("a", "b")})
	assert.Nil(t, s.Error)

	s = s.Apply(DeviceSelected{DeviceID: "a"})
	s = s.Apply(NegotiationFailed{Err: &camera.NegotiationExhaustedError{DeviceID: "a"}})
	assert.Equal(t, NegotiationExhausted, s.Error.Kind)
	assert.False(t, s.Pending)

	s = s.Apply(DeviceSelected{DeviceID: "b"})
	s = s.Apply(StreamAttached{DeviceID: "b"})
	assert.Nil(t, s.Error)
	assert.Equal(t, "b", s.Attached)
}

func TestStreamAttachedKeepsListError(t *testing.T) {
	s := State{}.Apply(ListFailed{Err: camera.ErrNoDeviceFound})
	s = s.Apply(StreamAttached{DeviceID: "late"})
	require.NotNil(t, s.Error)
	assert.Equal(t, NoDeviceFound, s.Error.Kind)
}

func TestSelectionCanceledKeepsStream(t *testing.T) {
	s := State{}.Apply(DevicesListed{Devices: devices("a", "b")})
	s = s.Apply(DeviceSelected{DeviceID: "a"})
	s = s.Apply(StreamAttached{DeviceID: "a"})
	s = s.Apply(DeviceSelected{DeviceID: "b"})
	s = s.Apply(SelectionCanceled{})
	assert.False(t, s.Pending)
	assert.Nil(t, s.Error)
	assert.Equal(t, "a", s.Attached)
}

func TestListFailedResetsDevices(t *testing.T) {
	s := State{}.Apply(DevicesListed{Devices: devices("a", "b")})
	s = s.Apply(DeviceSelected{DeviceID: "a"})
	s = s.Apply(ListFailed{Err: errors.New("gone")})
	assert.Empty(t, s.Devices)
	assert.Empty(t, s.Selected)
	assert.False(t, s.Pending)
}

func TestRecordingTransitions(t *testing.T) {
	s := State{}.Apply(StreamAttached{DeviceID: "a"})
	s = s.Apply(RecordingStarted{})
	assert.True(t, s.Recording)
	s = s.Apply(RecordingStopped{})
	assert.False(t, s.Recording)

	s = s.Apply(RecordingStarted{})
	s = s.Apply(Released{})
	assert.False(t, s.Recording)
	assert.Empty(t, s.Attached)
}

func TestView(t *testing.T) {
	v := State{}.View()
	assert.False(t, v.ShowSelector)
	assert.True(t, v.ShowPreview)
	assert.False(t, v.CanCapture)

	s := State{}.Apply(DevicesListed{Devices: devices("a")})
	assert.False(t, s.View().ShowSelector, "selector is hidden with a single device")

	s = State{}.Apply(DevicesListed{Devices: []camera.Device{
		{ID: "a", Label: "Integrated", Kind: camera.VideoInput},
		{ID: "b", Kind: camera.VideoInput},
	}})
	s = s.Apply(DeviceSelected{DeviceID: "b"})
	s = s.Apply(StreamAttached{DeviceID: "b"})
	v = s.View()
	assert.True(t, v.ShowSelector)
	assert.True(t, v.CanCapture)
	assert.Equal(t, []DeviceOption{
		{ID: "a", Label: "Integrated"},
		{ID: "b", Label: "Camera 2", Selected: true},
	}, v.Devices)

	s = s.Apply(AttachFailed{Err: &camera.AttachError{DeviceID: "b"}})
	v = s.View()
	assert.True(t, v.ShowSelector, "selector stays available to recover")
	assert.False(t, v.ShowPreview)
	assert.False(t, v.ShowControls)
	assert.False(t, v.CanCapture)
	require.NotNil(t, v.Error)
	assert.Equal(t, AttachFailure, v.Error.Kind)
}
