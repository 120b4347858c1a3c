// Package probe implements the write-then-verify engine: a write phase that
// fills a device with generated blocks until the device refuses a write, and a
// verify phase that reads every committed block back and compares it against
// regenerated reference data.
//
// The package performs no confirmation, privilege handling or rendering. Hosts
// supply an Opener, a Config and an optional Sink for progress events.
package probe

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"capcheck/blockgen"
)

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 1 << 20

// SectorSize is the alignment every block size must honor.
const SectorSize = 512

var (
	// ErrWriteExhausted marks the end of the write phase: a write or its
	// durability barrier failed. It is how real capacity is discovered.
	ErrWriteExhausted = errors.New("write exhausted")
	// ErrVerifyIO is a failed seek or read during verification, as opposed to
	// a block that was read but differs from its reference.
	ErrVerifyIO = errors.New("verify read failed")
	// ErrDeviceUnavailable means a phase could not open the device at all.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrAccessDenied accompanies ErrDeviceUnavailable on permission failures.
	ErrAccessDenied = errors.New("access denied")
	// ErrIllegalTransition is returned when the run state machine is driven
	// along an edge it does not have.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid config")
)

// WriteDevice is the handle used by the write phase. Writes are sequential
// from offset 0; Sync must not return before written data is on stable storage.
type WriteDevice interface {
	io.Writer
	Sync() error
	io.Closer
}

// ReadDevice is the handle used by the verify phase.
type ReadDevice interface {
	io.ReadSeeker
	io.Closer
}

// Opener opens fresh handles on the device under test, one per phase.
type Opener interface {
	OpenWrite() (WriteDevice, error)
	OpenRead() (ReadDevice, error)
}

// Config fixes the parameters of one run.
type Config struct {
	// BlockSize in bytes; a positive multiple of SectorSize.
	BlockSize int
	// Seed selects the block content sequence. Both phases of a run must use
	// the same seed.
	Seed uint64
	// Logger receives phase-level diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BlockSize < SectorSize || c.BlockSize < blockgen.MinSize {
		return fmt.Errorf("%w: block size %d is smaller than %d bytes", ErrInvalidConfig, c.BlockSize, SectorSize)
	}
	if c.BlockSize%SectorSize != 0 {
		return fmt.Errorf("%w: block size %d is not a multiple of %d", ErrInvalidConfig, c.BlockSize, SectorSize)
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
