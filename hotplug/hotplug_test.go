package hotplug_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeimpulse/linux-camera-go/hotplug"
)

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	w, err := hotplug.New(hotplug.Opts{Dir: dir, Debounce: 50 * time.Millisecond}, func() { calls.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	// Unrelated nodes are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "media0"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video0-meta"), nil, 0o600))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())

	// A burst of changes is reported once.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video0"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video1"), nil, 0o600))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	require.NoError(t, os.Remove(filepath.Join(dir, "video1")))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherMissingDir(t *testing.T) {
	_, err := hotplug.New(hotplug.Opts{Dir: filepath.Join(t.TempDir(), "missing")}, func() {})
	assert.Error(t, err)
}
