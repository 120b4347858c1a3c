package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"capcheck/device"
)

func sizeString(n int64) string {
	if n < 0 {
		return "?"
	}
	return humanize.IBytes(uint64(n))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printDeviceList(w io.Writer, infos []device.Info, all bool) {
	fmt.Fprintf(w, "OS: %s\n", runtime.GOOS)
	fmt.Fprintln(w, "This is a SAFE, read-only listing. Nothing is written.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Whole-disk devices (usable with verify):")
	fmt.Fprintf(w, "  %-18s  %-10s  %-9s  %-20s  %s\n", "Path", "Size", "Removable", "Serial", "Mounted at")
	printed := false
	for _, d := range infos {
		if !d.Whole {
			continue
		}
		mounts := strings.Join(d.Mounts, ",")
		if mounts == "" {
			mounts = "-"
		}
		fmt.Fprintf(w, "  %-18s  %-10s  %-9s  %-20s  %s\n", d.Path, sizeString(d.Size), yesNo(d.Removable), d.Serial, mounts)
		printed = true
	}
	if !printed {
		fmt.Fprintln(w, "  <none detected>")
	}
	fmt.Fprintln(w)
	if all {
		fmt.Fprintln(w, "Not usable (partitions and other nodes):")
		for _, d := range infos {
			if d.Whole {
				continue
			}
			reason := d.Reason
			if strings.TrimSpace(reason) == "" {
				reason = "not a whole-disk device"
			}
			fmt.Fprintf(w, "  %s  (%s)\n", d.Path, reason)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "Notes:")
	switch runtime.GOOS {
	case "darwin":
		fmt.Fprintln(w, "  - Whole disks are /dev/diskN (or /dev/rdiskN). Unmount with `diskutil unmountDisk` first.")
	case "linux":
		fmt.Fprintln(w, "  - Whole disks: /dev/sdX, /dev/vdX, /dev/nvmeXnY, /dev/mmcblkX. Unmount every partition first.")
	case "windows":
		fmt.Fprintln(w, `  - Use \\.\PhysicalDriveN. Run from an elevated prompt; volumes on the disk are locked while writing.`)
	}
}

func newDeviceCmd() *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Device related utilities (safe, read-only)",
	}

	var listAll bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List devices capcheck can verify (read-only)",
		RunE: func(_ *cobra.Command, _ []string) error {
			infos, err := device.Discover()
			if err != nil {
				return err
			}
			printDeviceList(os.Stdout, infos, listAll)
			return nil
		},
	}
	listCmd.Flags().BoolVar(&listAll, "all", false, "include partitions and other unusable nodes")
	deviceCmd.AddCommand(listCmd)

	var infoPath string
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show details about a mount point or device (read-only)",
		RunE: func(_ *cobra.Command, _ []string) error {
			if strings.TrimSpace(infoPath) == "" {
				return fmt.Errorf("--path is required")
			}
			dev, mnt, err := device.Resolve(infoPath)
			if err != nil {
				return err
			}
			info := device.Info{Path: device.WholeDisk(device.Normalize(dev))}
			device.Describe(&info)

			fmt.Println("Path info")
			fmt.Printf("  Input:     %s\n", infoPath)
			fmt.Printf("  Device:    %s\n", dev)
			if mnt != "" {
				fmt.Printf("  Mounted:   %s\n", mnt)
			}
			fmt.Printf("  Whole:     %s\n", info.Path)
			fmt.Printf("  Size:      %s\n", sizeString(info.Size))
			fmt.Printf("  Removable: %s\n", yesNo(info.Removable))
			if info.Model != "" {
				fmt.Printf("  Model:     %s\n", info.Model)
			}
			if info.Serial != "" {
				fmt.Printf("  Serial:    %s\n", info.Serial)
			}
			if len(info.Mounts) > 0 {
				fmt.Printf("  Mounts:    %s (unmount before verify)\n", strings.Join(info.Mounts, ", "))
			}
			return nil
		},
	}
	infoCmd.Flags().StringVar(&infoPath, "path", "", "mount point (e.g. /media/usb) or device path (e.g. /dev/sdb)")
	_ = infoCmd.MarkFlagRequired("path")
	deviceCmd.AddCommand(infoCmd)

	return deviceCmd
}
