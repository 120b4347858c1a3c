package probe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"
)

// Run executes both phases against the device behind opener and returns the
// classified summary.
//
// Failing to open the device for the write phase returns a nil summary and an
// error wrapping ErrDeviceUnavailable. Failing to open it for the verify phase
// returns the write counts gathered so far together with that error; the run
// stops in Exhausted and that is the summary's Verdict. Everything
// else, including write exhaustion, read failures and mismatches, is part of
// the summary rather than the error.
func Run(ctx context.Context, opener Opener, cfg Config, sink Sink) (*Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.logger().With(zap.Uint64("seed", cfg.Seed), zap.Int("block_size", cfg.BlockSize))
	cfg.Logger = log

	rep := NewReporter(sink)
	m := newMachine(rep, log)

	w, err := opener.OpenWrite()
	if err != nil {
		return nil, unavailable("write", err)
	}
	if err := m.advance(Writing); err != nil {
		_ = w.Close()
		return nil, err
	}
	wres := Write(ctx, w, cfg, rep)
	if err := w.Close(); err != nil {
		log.Warn("closing write handle", zap.Error(err))
	}
	rep.recordWrite(wres)

	if interrupted(wres.Err) {
		return finish(rep, m, cfg, true)
	}
	if err := m.advance(Exhausted); err != nil {
		return nil, err
	}
	if wres.BlocksWritten == 0 {
		return finish(rep, m, cfg, false)
	}

	r, err := opener.OpenRead()
	if err != nil {
		s := rep.Summary(cfg)
		s.Verdict = Exhausted
		return s, unavailable("verify", err)
	}
	if err := m.advance(Verifying); err != nil {
		_ = r.Close()
		return nil, err
	}
	vres := Verify(ctx, r, cfg, wres.BlocksWritten, rep)
	if err := r.Close(); err != nil {
		log.Warn("closing verify handle", zap.Error(err))
	}
	rep.recordVerify(vres)

	return finish(rep, m, cfg, interrupted(vres.Err))
}

func finish(rep *Reporter, m *machine, cfg Config, stopped bool) (*Summary, error) {
	if stopped {
		rep.markInterrupted()
	}
	s := rep.Summary(cfg)
	if err := m.advance(s.Verdict); err != nil {
		return nil, err
	}
	return s, nil
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func unavailable(phase string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w: open for %s: %w", ErrDeviceUnavailable, ErrAccessDenied, phase, err)
	}
	return fmt.Errorf("%w: open for %s: %w", ErrDeviceUnavailable, phase, err)
}
