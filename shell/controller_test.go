package shell

import (
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/cameratest"
)

func twoCameras() *cameratest.Devices {
	return &cameratest.Devices{
		List: []camera.Device{
			{ID: "a", Label: "USB camera A", Kind: camera.VideoInput},
			{ID: "b", Label: "USB camera B", Kind: camera.VideoInput},
		},
		Frame: cameratest.Solid(32, 24, color.White),
	}
}

func TestRefreshAttachesFirstDevice(t *testing.T) {
	md := twoCameras()
	c := NewController(md, Opts{})
	defer c.Close()

	require.NoError(t, c.Refresh(context.Background()))
	s := c.State()
	assert.Len(t, s.Devices, 2)
	assert.Equal(t, "a", s.Selected)
	assert.Equal(t, "a", s.Attached)
	assert.False(t, s.Pending)
	assert.Nil(t, s.Error)
	assert.Equal(t, 1, md.OpenStreams())

	v := c.View()
	assert.True(t, v.ShowSelector)
	assert.True(t, v.CanCapture)

	img, err := c.Frame()
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestRefreshPermissionDenied(t *testing.T) {
	md := twoCameras()
	md.PermissionErr = errors.New("user dismissed prompt")
	c := NewController(md, Opts{})
	defer c.Close()

	err := c.Refresh(context.Background())
	require.ErrorIs(t, err, camera.ErrPermissionDenied)

	v := c.View()
	require.NotNil(t, v.Error)
	assert.Equal(t, PermissionDenied, v.Error.Kind)
	assert.Contains(t, v.Error.Message, "user dismissed prompt")
	assert.False(t, v.ShowPreview)
	assert.Empty(t, md.Calls())
}

func TestRefreshFailureReleasesStream(t *testing.T) {
	md := twoCameras()
	c := NewController(md, Opts{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))

	md.EnumerateErr = errors.New("driver crashed")
	require.Error(t, c.Refresh(context.Background()))

	s := c.State()
	assert.Empty(t, s.Attached)
	assert.Empty(t, s.Devices)
	require.NotNil(t, s.Error)
	assert.Equal(t, ListFailure, s.Error.Kind)
	assert.Zero(t, md.OpenStreams())

	md.EnumerateErr = nil
	require.NoError(t, c.Refresh(context.Background()))
	assert.Nil(t, c.State().Error)
	assert.Equal(t, 1, md.OpenStreams())
}

func TestSelectSwitchesDevice(t *testing.T) {
	md := twoCameras()
	c := NewController(md, Opts{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))

	require.NoError(t, c.Select(context.Background(), "b"))
	assert.Equal(t, "b", c.State().Attached)
	assert.Equal(t, 1, md.OpenStreams())

	streams := md.Streams()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].Closed())
	assert.Equal(t, "b", streams[1].DeviceID())

	n := len(md.Calls())
	require.NoError(t, c.Select(context.Background(), "b"))
	assert.Len(t, md.Calls(), n, "selecting the attached device must not renegotiate")
}

func TestSelectNegotiationExhausted(t *testing.T) {
	md := twoCameras()
	md.Acquire = func(ctx context.Context, c camera.Constraints) error {
		if c.DeviceID == "a" {
			return nil
		}
		return errors.New("device busy")
	}
	c := NewController(md, Opts{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))

	err := c.Select(context.Background(), "b")
	require.ErrorIs(t, err, camera.ErrNegotiationExhausted)

	v := c.View()
	require.NotNil(t, v.Error)
	assert.Equal(t, NegotiationExhausted, v.Error.Kind)
	assert.False(t, v.CanCapture)
	assert.True(t, v.ShowSelector)
	assert.Empty(t, c.State().Attached)
	assert.Zero(t, md.OpenStreams())

	require.NoError(t, c.Select(context.Background(), "a"))
	assert.Nil(t, c.State().Error)
	assert.Equal(t, "a", c.State().Attached)
}

func TestSelectAttachFailure(t *testing.T) {
	md := twoCameras()
	md.RecorderErr = errors.New("no encoder")
	c := NewController(md, Opts{})
	defer c.Close()

	err := c.Refresh(context.Background())
	require.ErrorIs(t, err, camera.ErrAttach)
	require.NotNil(t, c.State().Error)
	assert.Equal(t, AttachFailure, c.State().Error.Kind)
	assert.Zero(t, md.OpenStreams())
}

func TestRefreshWhileAttachedKeepsStream(t *testing.T) {
	md := twoCameras()
	md.Exclusive = true
	c := NewController(md, Opts{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))

	n := len(md.Calls())
	require.NoError(t, c.Refresh(context.Background()))
	s := c.State()
	assert.Nil(t, s.Error)
	assert.Equal(t, "a", s.Attached)
	assert.Equal(t, 1, md.OpenStreams())
	assert.False(t, md.Streams()[0].Closed())
	assert.Len(t, md.Calls(), n)

	require.NoError(t, c.Select(context.Background(), "b"))
	require.NoError(t, c.Select(context.Background(), "a"))
	assert.Equal(t, "a", c.State().Attached)
	assert.Equal(t, 1, md.OpenStreams())
}

func TestCanceledSelectLeavesNoError(t *testing.T) {
	md := twoCameras()
	entered := make(chan struct{})
	md.Acquire = func(ctx context.Context, c camera.Constraints) error {
		if c.DeviceID != "b" {
			return nil
		}
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}
	c := NewController(md, Opts{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Select(ctx, "b") }()
	<-entered
	assert.True(t, c.State().Pending)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	s := c.State()
	assert.Nil(t, s.Error)
	assert.False(t, s.Pending)
	assert.Equal(t, "a", s.Attached)
	assert.Equal(t, 1, md.OpenStreams())
}

func TestSelectCustomProfiles(t *testing.T) {
	md := twoCameras()
	c := NewController(md, Opts{Profiles: func(id string) []camera.Constraints {
		return []camera.Constraints{{DeviceID: id, Width: camera.Range{Ideal: 640}, Height: camera.Range{Ideal: 480}}}
	}})
	defer c.Close()
	require.NoError(t, c.Select(context.Background(), "b"))
	calls := md.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 640, calls[0].Width.Ideal)
}

func TestSupersededSelectIsDiscarded(t *testing.T) {
	md := twoCameras()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	md.Acquire = func(ctx context.Context, c camera.Constraints) error {
		if c.DeviceID == "a" {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}
	c := NewController(md, Opts{})
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Select(context.Background(), "a") }()
	<-entered

	require.NoError(t, c.Select(context.Background(), "b"))
	close(release)
	require.NoError(t, <-done)

	s := c.State()
	assert.Equal(t, "b", s.Attached)
	assert.Equal(t, "b", s.Selected)
	assert.False(t, s.Pending)
	assert.Equal(t, 1, md.OpenStreams())
	for _, st := range md.Streams() {
		if st.DeviceID() == "a" {
			assert.True(t, st.Closed())
		}
	}
}

func TestCapturePhoto(t *testing.T) {
	md := twoCameras()
	c := NewController(md, Opts{})
	defer c.Close()

	a, err := c.CapturePhoto()
	require.NoError(t, err)
	assert.Nil(t, a, "no photo without a stream")

	require.NoError(t, c.Refresh(context.Background()))
	a, err = c.CapturePhoto()
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, camera.Photo, a.Kind)
	assert.Equal(t, "image/jpeg", a.MIMEType)

	stored, ok := c.Gallery().Get(a.Locator)
	require.True(t, ok)
	assert.Equal(t, a.Data, stored.Data)

	refs := c.State().Artifacts
	require.Len(t, refs, 1)
	assert.Equal(t, a.Locator, refs[0].Locator)
	assert.Equal(t, a.Ordinal, refs[0].Ordinal)
}

func TestToggleRecording(t *testing.T) {
	md := twoCameras()
	c := NewController(md, Opts{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))

	a, err := c.ToggleRecording()
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.True(t, c.State().Recording)
	assert.True(t, c.View().Recording)

	a, err = c.ToggleRecording()
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, camera.Video, a.Kind)
	assert.Equal(t, "stream-1 clip 1", string(a.Data))
	assert.False(t, c.State().Recording)
	assert.Equal(t, 1, c.Gallery().Len())

	a, err = c.StopRecording()
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestRecordingKeptOnSwitch(t *testing.T) {
	md := twoCameras()
	c := NewController(md, Opts{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))
	require.NoError(t, c.StartRecording())

	require.NoError(t, c.Select(context.Background(), "b"))
	s := c.State()
	assert.False(t, s.Recording)
	require.Len(t, s.Artifacts, 1)
	assert.Equal(t, camera.Video, s.Artifacts[0].Kind)

	rec := md.Streams()[0].Recorders()
	require.Len(t, rec, 1)
	assert.Zero(t, rec[0].Aborted())
}

func TestSubscribeAndClose(t *testing.T) {
	md := twoCameras()
	c := NewController(md, Opts{})
	changes, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.Refresh(context.Background()))
	select {
	case _, ok := <-changes:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}

	require.NoError(t, c.StartRecording())
	require.NoError(t, c.Close())
	assert.Zero(t, md.OpenStreams())
	assert.Equal(t, 1, c.Gallery().Len(), "recording is finished on close")

	for range changes {
	}
	assert.ErrorIs(t, c.Refresh(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.Select(context.Background(), "a"), ErrClosed)
	assert.NoError(t, c.Close())
}
