//go:build darwin

package device

import (
	"os"

	"golang.org/x/sys/unix"
)

func isRawPath(string) bool { return false }

func openForWrite(path string) (*os.File, func(), error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, nil, err
	}
	// Keep written data out of the unified buffer cache.
	_, _ = unix.FcntlInt(f.Fd(), unix.F_NOCACHE, 1)
	return f, nil, nil
}

// syncData asks the drive itself to flush; plain fsync on macOS stops at the
// drive's volatile cache.
func syncData(f *os.File) error {
	if _, err := unix.FcntlInt(f.Fd(), unix.F_FULLFSYNC, 0); err != nil {
		return f.Sync()
	}
	return nil
}

func dropCache(f *os.File) error {
	_, err := unix.FcntlInt(f.Fd(), unix.F_NOCACHE, 1)
	return err
}
