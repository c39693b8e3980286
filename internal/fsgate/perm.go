package fsgate

import (
	"os"
	"runtime"
)

// chmod sets file permissions. Windows has no Unix permission bits, so it is
// a no-op there.
func chmod(path string, mode os.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, mode)
}
