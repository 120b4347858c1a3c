//go:build windows

package device

import (
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

const ioctlDiskGetLengthInfo = 0x7405C

// Size returns the advertised size of a file or raw disk in bytes.
func Size(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}
	var length int64
	var n uint32
	err = windows.DeviceIoControl(windows.Handle(f.Fd()), ioctlDiskGetLengthInfo,
		nil, 0, (*byte)(unsafe.Pointer(&length)), uint32(unsafe.Sizeof(length)), &n, nil)
	if err != nil {
		return 0, err
	}
	return length, nil
}
