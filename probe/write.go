package probe

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"capcheck/blockgen"
)

// WriteResult is the outcome of a write phase.
type WriteResult struct {
	// BlocksWritten counts blocks that were written and synced.
	BlocksWritten int64
	// Err is the condition that ended the phase. It wraps ErrWriteExhausted
	// when the device refused a write or a sync, or the context error when
	// the run was interrupted. It is never nil.
	Err      error
	Duration time.Duration
}

// Write fills dev with consecutive blocks starting at index 0 until a write or
// its sync fails. There is no upper bound; the device's refusal marks
// its capacity. A block is only counted, and only reported to
// sink, once it has been synced. ctx is consulted before each block is
// started, never while one is in flight.
func Write(ctx context.Context, dev WriteDevice, cfg Config, sink Sink) WriteResult {
	if sink == nil {
		sink = NopSink{}
	}
	log := cfg.logger()
	gen := blockgen.New(cfg.Seed, cfg.BlockSize)
	start := time.Now()

	var res WriteResult
	for index := int64(0); ; index++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		block := gen.Block(index)
		n, err := dev.Write(block)
		if err == nil && n < len(block) {
			err = io.ErrShortWrite
		}
		if err != nil {
			res.Err = fmt.Errorf("%w: block %d: %w", ErrWriteExhausted, index, err)
			break
		}
		if err := dev.Sync(); err != nil {
			res.Err = fmt.Errorf("%w: sync block %d: %w", ErrWriteExhausted, index, err)
			break
		}

		res.BlocksWritten++
		sink.BlockWritten(index)
	}
	res.Duration = time.Since(start)

	log.Info("write phase finished",
		zap.Int64("blocks_written", res.BlocksWritten),
		zap.Duration("duration", res.Duration),
		zap.NamedError("reason", res.Err),
	)
	return res
}
