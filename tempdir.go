package camera

import (
	"os"
)

// TempDir returns a new temporary directory for frames or recordings of
// a capture source, named after prefix. It is created in /dev/shm if that
// exists, keeping captured media in memory, and otherwise in the OS default
// temporary directory. Callers remove the directory when done.
func TempDir(prefix string) (string, error) {
	// Check that /dev/shm exists first, to not create a directory in /dev
	// when running as root.
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		dir, err := os.MkdirTemp("/dev/shm", "eim-camera-"+prefix)
		if err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", "eim-camera-"+prefix)
}
