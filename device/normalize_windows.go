//go:build windows

package device

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const ioctlStorageGetDeviceNumber = 0x2D1080

type storageDeviceNumber struct {
	DeviceType      uint32
	DeviceNumber    uint32
	PartitionNumber uint32
}

// Normalize maps a drive-letter path such as \\.\E: or E: to the physical
// drive holding it. Paths it cannot map are returned unchanged.
func Normalize(path string) string {
	vol := driveLetterVolume(path)
	if vol == "" && len(path) == 2 && path[1] == ':' {
		vol = driveLetterVolume(`\\.\` + path)
	}
	if vol == "" {
		return path
	}
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(vol),
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return path
	}
	defer windows.CloseHandle(h)

	var out storageDeviceNumber
	var n uint32
	err = windows.DeviceIoControl(h, ioctlStorageGetDeviceNumber, nil, 0,
		(*byte)(unsafe.Pointer(&out)), uint32(unsafe.Sizeof(out)), &n, nil)
	if err != nil {
		return path
	}
	return fmt.Sprintf(`\\.\PhysicalDrive%d`, out.DeviceNumber)
}

// removable reports whether a drive-letter path is on removable media. ok is
// false when the path has no drive letter.
func removable(path string) (isRemovable, ok bool) {
	vol := driveLetterVolume(path)
	if vol == "" {
		return false, false
	}
	root := vol[4:] + `\`
	return windows.GetDriveType(windows.StringToUTF16Ptr(root)) == windows.DRIVE_REMOVABLE, true
}
