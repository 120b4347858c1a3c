//go:build !linux && !darwin && !windows

package device

import "os"

func isRawPath(string) bool { return false }

func openForWrite(path string) (*os.File, func(), error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	return f, nil, err
}

func syncData(f *os.File) error { return f.Sync() }

func dropCache(*os.File) error { return nil }
