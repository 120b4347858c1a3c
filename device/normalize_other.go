//go:build !windows

package device

// Normalize resolves symlinks such as /dev/disk/by-id/... to the device node.
func Normalize(path string) string { return resolve(path) }

func removable(string) (bool, bool) { return false, false }
