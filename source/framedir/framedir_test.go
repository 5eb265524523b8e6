package framedir_test

import (
	"bytes"
	"context"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/cameratest"
	"github.com/edgeimpulse/linux-camera-go/source/framedir"
)

func writeFrame(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, cameratest.Solid(w, h, color.Gray{Y: 128}), nil))
	// Write and rename so the watcher never sees a partial file.
	tmp := filepath.Join(dir, name+".part")
	require.NoError(t, os.WriteFile(tmp, buf.Bytes(), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	w, err := framedir.New(dir, framedir.Opts{})
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Latest()
	require.ErrorIs(t, err, camera.ErrNoFrame)

	ch := make(chan framedir.Frame, 4)
	cancel := w.Subscribe(ch)

	writeFrame(t, dir, "test00001.jpg", 32, 24)

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, w.WaitFirst(ctx))

	f, err := w.Latest()
	require.NoError(t, err)
	assert.Equal(t, 32, f.Image.Bounds().Dx())
	assert.NotEmpty(t, f.JPEG)

	select {
	case sf := <-ch:
		assert.Equal(t, f.JPEG, sf.JPEG)
	case <-ctx.Done():
		t.Fatalf("subscriber did not receive frame")
	}

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "test00001.jpg"))
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond, "read frames are removed")

	cancel()
	writeFrame(t, dir, "test00002.jpg", 16, 16)
	require.Eventually(t, func() bool {
		f, err := w.Latest()
		return err == nil && f.Image.Bounds().Dx() == 16
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, ch, "cancelled subscriber gets no frames")
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := framedir.New(dir, framedir.Opts{})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.WaitFirst(ctx), context.DeadlineExceeded)
	_, err = w.Latest()
	assert.ErrorIs(t, err, camera.ErrNoFrame)
}

func TestWatcherClose(t *testing.T) {
	w, err := framedir.New(t.TempDir(), framedir.Opts{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err = w.WaitFirst(context.Background())
	assert.ErrorIs(t, err, camera.ErrNoFrame)
}

func TestNewMissingDir(t *testing.T) {
	_, err := framedir.New(filepath.Join(t.TempDir(), "missing"), framedir.Opts{})
	assert.Error(t, err)
}
