package device

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
)

// WholeDisk maps a partition node to the disk it belongs to:
// /dev/sdb1 → /dev/sdb, /dev/nvme0n1p2 → /dev/nvme0n1, /dev/mmcblk0p1 →
// /dev/mmcblk0, /dev/disk2s1 and /dev/rdisk2 → /dev/disk2. Anything else is
// returned cleaned but unchanged.
func WholeDisk(path string) string {
	path = filepath.Clean(path)
	dir, base := filepath.Split(path)
	if strings.HasPrefix(base, "rdisk") {
		base = base[1:]
	}

	switch {
	case strings.HasPrefix(base, "disk"):
		for i := len("disk"); i+1 < len(base); i++ {
			if base[i] == 's' && isDigit(base[i+1]) {
				return dir + base[:i]
			}
		}
		return dir + base
	case strings.HasPrefix(base, "nvme"), strings.HasPrefix(base, "mmcblk"), strings.HasPrefix(base, "loop"):
		if idx := strings.LastIndexByte(base, 'p'); idx > len("loop") && idx+1 < len(base) && allDigits(base[idx+1:]) {
			return dir + base[:idx]
		}
		return filepath.Clean(path)
	case IsPartitionName(base):
		for len(base) > 0 && isDigit(base[len(base)-1]) {
			base = base[:len(base)-1]
		}
		return dir + base
	}
	return filepath.Clean(path)
}

// IsPartitionName reports whether a /dev entry name looks like a partition
// rather than a whole disk.
func IsPartitionName(name string) bool {
	switch {
	case (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd") || strings.HasPrefix(name, "hd")) && len(name) >= 4:
		return isDigit(name[len(name)-1])
	case strings.HasPrefix(name, "nvme"), strings.HasPrefix(name, "mmcblk"):
		idx := strings.LastIndexByte(name, 'p')
		return idx > 0 && idx+1 < len(name) && allDigits(name[idx+1:])
	case strings.HasPrefix(name, "disk"), strings.HasPrefix(name, "rdisk"):
		n := strings.TrimPrefix(strings.TrimPrefix(name, "r"), "disk")
		return strings.ContainsRune(n, 's')
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}

func resolve(path string) string {
	if p, err := filepath.EvalSymlinks(path); err == nil {
		return p
	}
	return filepath.Clean(path)
}

// Mounts returns the mount points of path and of every partition on it.
// Windows volumes reported by drive letter are mapped to their physical
// drive.
func Mounts(path string) ([]string, error) {
	parts, err := disk.Partitions(true)
	if err != nil {
		return nil, fmt.Errorf("list mounts: %w", err)
	}
	return mountsOn(parts, WholeDisk(Normalize(path)), Normalize), nil
}

func mountsOn(parts []disk.PartitionStat, target string, normalize func(string) string) []string {
	var out []string
	for _, p := range parts {
		if dev := mountDevice(p.Device, normalize); dev != "" && dev == target {
			out = append(out, p.Mountpoint)
		}
	}
	return out
}

// mountDevice maps a mount source to the whole disk behind it, or "" for
// sources that are not devices (tmpfs, proc, network shares).
func mountDevice(dev string, normalize func(string) string) string {
	switch {
	case strings.HasPrefix(dev, "/dev/"), strings.HasPrefix(dev, `\\.\`):
		return WholeDisk(normalize(dev))
	case len(dev) == 2 && dev[1] == ':':
		return normalize(dev)
	}
	return ""
}

// CheckUnmounted fails when path, or any partition on it, is mounted.
// Writing under a mounted filesystem corrupts it and lets the kernel race
// the probe for the same blocks.
func CheckUnmounted(path string) error {
	mounts, err := Mounts(path)
	if err != nil {
		return err
	}
	if len(mounts) > 0 {
		return fmt.Errorf("%w: %s (at %s); unmount it first", ErrMounted, path, strings.Join(mounts, ", "))
	}
	return nil
}
