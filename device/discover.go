package device

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
)

// Info describes a device node found by Discover.
type Info struct {
	Path string
	// Whole is true for whole-disk nodes, the only ones capcheck writes to.
	Whole  bool
	Reason string

	Size      int64 // -1 when unknown
	Removable bool
	Serial    string
	Model     string
	Mounts    []string
}

// Discover lists candidate devices. It only reads.
func Discover() ([]Info, error) {
	var (
		infos []Info
		err   error
	)
	switch runtime.GOOS {
	case "linux":
		infos, err = discoverDir("/dev", isWholeLinux)
	case "darwin":
		infos, err = discoverDir("/dev", isWholeDarwin)
	case "windows":
		infos = discoverWindows()
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].Whole {
			Describe(&infos[i])
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func isWholeLinux(name string) (whole bool, candidate bool, reason string) {
	switch {
	case len(name) == 3 && (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && name[2] >= 'a' && name[2] <= 'z':
		return true, true, ""
	case strings.HasPrefix(name, "nvme") && strings.Contains(name, "n") && !IsPartitionName(name) && strings.Count(name, "n") == 2:
		return true, true, ""
	case strings.HasPrefix(name, "mmcblk") && !IsPartitionName(name) && allDigits(strings.TrimPrefix(name, "mmcblk")):
		return true, true, ""
	case IsPartitionName(name):
		return false, true, "partition"
	case strings.HasPrefix(name, "loop") && allDigits(strings.TrimPrefix(name, "loop")):
		return false, true, "loop device"
	}
	return false, false, ""
}

func isWholeDarwin(name string) (whole bool, candidate bool, reason string) {
	if !strings.HasPrefix(name, "disk") && !strings.HasPrefix(name, "rdisk") {
		return false, false, ""
	}
	if IsPartitionName(name) {
		return false, true, "partition"
	}
	return true, true, ""
}

func discoverDir(dir string, classify func(string) (bool, bool, string)) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var infos []Info
	for _, e := range entries {
		whole, candidate, reason := classify(e.Name())
		if !candidate {
			continue
		}
		infos = append(infos, Info{Path: filepath.Join(dir, e.Name()), Whole: whole, Reason: reason, Size: -1})
	}
	return infos, nil
}

func discoverWindows() []Info {
	var infos []Info
	for i := 0; i < 32; i++ {
		path := fmt.Sprintf(`\\.\PhysicalDrive%d`, i)
		f, err := os.Open(path)
		if err != nil {
			if i < 8 {
				infos = append(infos, Info{Path: path, Reason: "not accessible", Size: -1})
			}
			continue
		}
		_ = f.Close()
		infos = append(infos, Info{Path: path, Whole: true, Size: -1})
	}
	return infos
}

// Describe fills size, removable flag, model, serial and mounts for info.Path
// on a best-effort basis.
func Describe(info *Info) {
	info.Size = -1
	if f, err := os.Open(info.Path); err == nil {
		if sz, err := Size(f); err == nil {
			info.Size = sz
		}
		_ = f.Close()
	}
	if runtime.GOOS == "linux" {
		name := filepath.Base(info.Path)
		sysPath := filepath.Join("/sys/block", name)
		if _, err := os.Stat(sysPath); err != nil {
			sysPath = filepath.Join("/sys/class/block", name)
		}
		if b, err := os.ReadFile(filepath.Join(sysPath, "removable")); err == nil {
			info.Removable = strings.TrimSpace(string(b)) == "1"
		}
		if b, err := os.ReadFile(filepath.Join(sysPath, "device", "serial")); err == nil {
			info.Serial = strings.TrimSpace(string(b))
		}
		if b, err := os.ReadFile(filepath.Join(sysPath, "device", "model")); err == nil {
			info.Model = strings.TrimSpace(string(b))
		}
	}
	if r, ok := removable(info.Path); ok {
		info.Removable = r
	}
	if mounts, err := Mounts(info.Path); err == nil {
		info.Mounts = mounts
	}
}

// Resolve maps a mount point to the device mounted there. Any other path is
// returned unchanged with an empty mountpoint.
func Resolve(path string) (dev, mountpoint string, err error) {
	if !isRawPath(path) {
		if _, err := os.Stat(path); err != nil {
			return "", "", err
		}
	}
	parts, err := disk.Partitions(true)
	if err != nil {
		return "", "", fmt.Errorf("list mounts: %w", err)
	}
	clean := filepath.Clean(path)
	for _, p := range parts {
		if p.Mountpoint != "" && filepath.Clean(p.Mountpoint) == clean {
			return p.Device, p.Mountpoint, nil
		}
	}
	return path, "", nil
}
