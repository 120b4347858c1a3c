//go:build windows

package device

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/windows"
)

const (
	fsctlLockVolume      = 0x90018
	fsctlDismountVolume  = 0x90020
	fsctlUnlockVolume    = 0x9001c
	fileFlagWriteThrough = 0x80000000
)

func isRawPath(path string) bool {
	return strings.HasPrefix(path, `\\.\`)
}

// driveLetterVolume maps \\.\E: style paths to their volume path, or "".
func driveLetterVolume(path string) string {
	if len(path) < 6 || !strings.HasPrefix(path, `\\.\`) {
		return ""
	}
	letter := strings.ToUpper(path[4:5])
	if letter < "A" || letter > "Z" || path[5] != ':' {
		return ""
	}
	return `\\.\` + letter + `:`
}

func volumeControl(h windows.Handle, code uint32) error {
	var n uint32
	return windows.DeviceIoControl(h, code, nil, 0, nil, 0, &n, nil)
}

// lockVolume locks and dismounts a drive-letter volume so the raw device can
// be written. The returned release func unlocks it; it is nil when nothing was
// locked.
func lockVolume(path string) (func(), error) {
	vol := driveLetterVolume(path)
	if vol == "" {
		return nil, nil
	}
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(vol),
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("open volume %s: %w", vol, err)
	}
	if err := volumeControl(h, fsctlLockVolume); err != nil {
		windows.CloseHandle(h)
		if err == windows.ERROR_NOT_SUPPORTED {
			return nil, nil
		}
		return nil, fmt.Errorf("lock volume %s (close programs using it): %w", vol, err)
	}
	if err := volumeControl(h, fsctlDismountVolume); err != nil && err != windows.ERROR_NOT_SUPPORTED {
		_ = volumeControl(h, fsctlUnlockVolume)
		windows.CloseHandle(h)
		return nil, fmt.Errorf("dismount volume %s: %w", vol, err)
	}
	return func() {
		_ = volumeControl(h, fsctlUnlockVolume)
		windows.CloseHandle(h)
	}, nil
}

func openForWrite(path string) (*os.File, func(), error) {
	release, err := lockVolume(path)
	if err != nil {
		return nil, nil, err
	}
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(path),
		windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		fileFlagWriteThrough,
		0,
	)
	if err != nil {
		if release != nil {
			release()
		}
		return nil, nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(h), path), release, nil
}

func syncData(f *os.File) error { return f.Sync() }

func dropCache(*os.File) error { return nil }
