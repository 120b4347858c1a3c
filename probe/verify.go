package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"capcheck/blockgen"
)

// VerifyResult is the outcome of a verify phase.
type VerifyResult struct {
	BlocksToVerify int64
	// Evaluated counts blocks that were read and compared. It is less than
	// BlocksToVerify only when Err is set.
	Evaluated  int64
	Matched    int64
	Mismatched int64
	// Err wraps ErrVerifyIO when a seek or read failed, or carries the context
	// error when the run was interrupted. Mismatches are not errors.
	Err      error
	Duration time.Duration
}

// Verify reads blocks 0..n-1 from dev and compares each against the block
// regenerated from cfg.Seed. It stops at the first seek or read failure and
// never reads past block n-1. It never writes.
func Verify(ctx context.Context, dev ReadDevice, cfg Config, n int64, sink Sink) VerifyResult {
	if sink == nil {
		sink = NopSink{}
	}
	log := cfg.logger()
	gen := blockgen.New(cfg.Seed, cfg.BlockSize)
	buf := make([]byte, cfg.BlockSize)
	bs := int64(cfg.BlockSize)
	start := time.Now()

	res := VerifyResult{BlocksToVerify: n}
	for index := int64(0); index < n; index++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		if _, err := dev.Seek(index*bs, io.SeekStart); err != nil {
			res.Err = fmt.Errorf("%w: seek block %d: %w", ErrVerifyIO, index, err)
			break
		}
		if _, err := io.ReadFull(dev, buf); err != nil {
			res.Err = fmt.Errorf("%w: read block %d: %w", ErrVerifyIO, index, err)
			break
		}

		r := BlockResult{Index: index, Matched: bytes.Equal(buf, gen.Block(index)), AliasOf: -1}
		res.Evaluated++
		if r.Matched {
			res.Matched++
		} else {
			res.Mismatched++
			if alias, ok := gen.Identify(buf); ok {
				r.AliasOf = alias
			}
			log.Debug("block mismatch", zap.Int64("index", index), zap.Int64("alias_of", r.AliasOf))
		}
		sink.BlockVerified(r)
	}
	res.Duration = time.Since(start)

	log.Info("verify phase finished",
		zap.Int64("blocks_to_verify", n),
		zap.Int64("evaluated", res.Evaluated),
		zap.Int64("matched", res.Matched),
		zap.Int64("mismatched", res.Mismatched),
		zap.Duration("duration", res.Duration),
		zap.Error(res.Err),
	)
	return res
}
