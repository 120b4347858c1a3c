// capcheck.go
// Capacity and integrity checker for USB sticks, SD cards and other raw
// block devices. Writes deterministic blocks until the device refuses more,
// reads them back and reports how much of the advertised space is real.
// Cobra CLI + tcell fullscreen block map or a plain progress bar.
//
// Build:
//
//	go build -o capcheck .
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"capcheck/config"
)

/* ===================== Exit codes ===================== */

const (
	exitOK          = 0
	exitFailed      = 1 // anomaly, no capacity or interrupted
	exitRunError    = 2
	exitInterrupted = 130
)

// exitError carries a process exit code through cobra without printing.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitRunError)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "capcheck",
		Short:         "Verify the real capacity and integrity of a storage device",
		Long:          "Write deterministic data across a raw device until it is full, read it back and report counterfeit capacity, wraparound and corruption.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newVerifyCmd(cfg))
	root.AddCommand(newDeviceCmd())
	return root
}

func main() {
	cfg, err := config.Parse()
	must(err)

	err = newRootCmd(cfg).Execute()
	var ee exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	must(err)
}
