// Package device provides the backends capcheck runs against: raw block
// devices opened per phase with the platform's cache-bypass and durability
// primitives, and synthetic devices for emulation and tests.
package device

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"capcheck/probe"
)

var (
	// ErrMounted is returned by CheckUnmounted.
	ErrMounted = errors.New("device is mounted")
	// ErrNotDevice is returned by CheckDevice for regular files and directories.
	ErrNotDevice = errors.New("not a device")
)

// File opens a device node by path. Each phase gets its own handle.
type File struct {
	Path string
	Log  *zap.Logger
}

func (d File) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// OpenWrite opens the device for sequential writing from offset 0.
func (d File) OpenWrite() (probe.WriteDevice, error) {
	f, release, err := openForWrite(d.Path)
	if err != nil {
		return nil, err
	}
	return &writeHandle{f: f, release: release}, nil
}

// OpenRead opens the device for reading and asks the OS to drop its cached
// pages, so verification reads come from the medium rather than memory.
func (d File) OpenRead() (probe.ReadDevice, error) {
	f, err := os.OpenFile(d.Path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	if err := dropCache(f); err != nil {
		d.log().Warn("cannot drop cached pages; verify may read from page cache",
			zap.String("path", d.Path), zap.Error(err))
	}
	return f, nil
}

type writeHandle struct {
	f       *os.File
	release func()
}

func (h *writeHandle) Write(p []byte) (int, error) { return h.f.Write(p) }

func (h *writeHandle) Sync() error { return syncData(h.f) }

func (h *writeHandle) Close() error {
	err := h.f.Close()
	if h.release != nil {
		h.release()
	}
	return err
}

// CheckDevice returns an error unless path names a block or character device.
func CheckDevice(path string) error {
	if isRawPath(path) {
		return nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return fmt.Errorf("%w: %s", ErrNotDevice, path)
	}
	return nil
}
