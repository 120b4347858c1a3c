//go:build linux

package device

import (
	"os"

	"golang.org/x/sys/unix"
)

func isRawPath(string) bool { return false }

func openForWrite(path string) (*os.File, func(), error) {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, nil, err
	}
	return f, nil, nil
}

// syncData flushes file data, skipping metadata that does not matter for a
// raw device.
func syncData(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

func dropCache(f *os.File) error {
	fd := int(f.Fd())
	// BLKFLSBUF needs CAP_SYS_ADMIN and only applies to block devices.
	_ = unix.IoctlSetInt(fd, unix.BLKFLSBUF, 0)
	return unix.Fadvise(fd, 0, 0, unix.FADV_DONTNEED)
}
