package probe

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capcheck/blockgen"
)

const testBlock = 4096

func testConfig() Config {
	return Config{BlockSize: testBlock, Seed: 0xC0FFEE}
}

func TestRunFiveMiBDevice(t *testing.T) {
	store := newMemStore(DefaultBlockSize, 5)
	sink := &recordSink{}

	s, err := Run(context.Background(), &memOpener{s: store}, Config{BlockSize: DefaultBlockSize, Seed: 1}, sink)
	require.NoError(t, err)

	assert.Equal(t, int64(5), s.BlocksWritten)
	assert.Equal(t, int64(5), s.BlocksVerifiedOK)
	assert.Equal(t, int64(0), s.BlocksMismatched)
	assert.Equal(t, Clean, s.Verdict)
	assert.True(t, s.Clean())
	assert.ErrorIs(t, s.WriteErr, ErrWriteExhausted)
	assert.ErrorIs(t, s.WriteErr, syscall.ENOSPC)
	assert.NoError(t, s.VerifyErr)
	assert.Equal(t, int64(5*DefaultBlockSize), s.VerifiedBytes())
	assert.Equal(t, []State{Writing, Exhausted, Verifying, Clean}, sink.states)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, sink.written)
	assert.Len(t, sink.verified, 5)
}

func TestRunTruncatedBackendAgreement(t *testing.T) {
	for _, k := range []int64{1, 2, 17} {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			store := newMemStore(testBlock, k)
			s, err := Run(context.Background(), &memOpener{s: store}, testConfig(), nil)
			require.NoError(t, err)
			assert.Equal(t, k, s.BlocksWritten)
			assert.Equal(t, k, s.BlocksVerifiedOK)
			assert.Equal(t, k, s.BlocksEvaluated)
			assert.Zero(t, s.BlocksMismatched)
			assert.Equal(t, Clean, s.Verdict)
		})
	}
}

func TestRunDetectsSingleCorruption(t *testing.T) {
	store := newMemStore(testBlock, 8)
	opener := &memOpener{s: store, beforeRead: func(s *memStore) {
		s.data[3*testBlock+100] ^= 0x01
	}}

	s, err := Run(context.Background(), opener, testConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(8), s.BlocksWritten)
	assert.Equal(t, int64(7), s.BlocksVerifiedOK)
	assert.Equal(t, int64(1), s.BlocksMismatched)
	assert.Equal(t, []int64{3}, s.Mismatches(0))
	assert.Empty(t, s.Aliases)
	assert.Equal(t, Anomaly, s.Verdict)
}

func TestRunEarlyReadFailure(t *testing.T) {
	store := newMemStore(testBlock, 10)
	store.badRead = 4

	s, err := Run(context.Background(), &memOpener{s: store}, testConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(10), s.BlocksWritten)
	assert.Equal(t, int64(4), s.BlocksEvaluated)
	assert.Equal(t, int64(4), s.BlocksVerifiedOK)
	assert.Zero(t, s.BlocksMismatched)
	assert.ErrorIs(t, s.VerifyErr, ErrVerifyIO)
	assert.ErrorIs(t, s.VerifyErr, syscall.EIO)
	assert.Equal(t, Anomaly, s.Verdict)
}

func TestRunNoCapacity(t *testing.T) {
	store := newMemStore(testBlock, 0)
	sink := &recordSink{}

	s, err := Run(context.Background(), &memOpener{s: store}, testConfig(), sink)
	require.NoError(t, err)

	assert.Zero(t, s.BlocksWritten)
	assert.Zero(t, s.BlocksEvaluated)
	assert.NoError(t, s.VerifyErr)
	assert.Equal(t, NoCapacity, s.Verdict)
	assert.Zero(t, store.readOpens, "verify phase must not run")
	assert.Equal(t, []State{Writing, Exhausted, NoCapacity}, sink.states)
}

func TestRunWraparoundReportsAliases(t *testing.T) {
	store := newMemStore(testBlock, 8).withPhysical(4)

	s, err := Run(context.Background(), &memOpener{s: store}, testConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(8), s.BlocksWritten)
	assert.Equal(t, int64(4), s.BlocksVerifiedOK)
	assert.Equal(t, int64(4), s.BlocksMismatched)
	assert.Equal(t, []int64{0, 1, 2, 3}, s.Mismatches(0))
	assert.Equal(t, []int64{0, 1}, s.Mismatches(2))
	assert.Equal(t, map[int64]int64{0: 4, 1: 5, 2: 6, 3: 7}, s.Aliases)
	assert.Equal(t, Anomaly, s.Verdict)
}

func TestRunOpenFailure(t *testing.T) {
	s, err := Run(context.Background(), &memOpener{openErr: fs.ErrNotExist}, testConfig(), nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.NotErrorIs(t, err, ErrAccessDenied)

	s, err = Run(context.Background(), &memOpener{openErr: &fs.PathError{Op: "open", Path: "/dev/sdz", Err: syscall.EACCES}}, testConfig(), nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestRunVerifyOpenFailureKeepsWriteCount(t *testing.T) {
	store := newMemStore(testBlock, 3)
	sink := &recordSink{}
	s, err := Run(context.Background(), &memOpener{s: store, readErr: syscall.EBUSY}, testConfig(), sink)
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	require.NotNil(t, s)
	assert.Equal(t, int64(3), s.BlocksWritten)
	assert.Zero(t, s.BlocksEvaluated)
	assert.Equal(t, Exhausted, s.Verdict)
	assert.False(t, s.Clean())
	assert.Equal(t, []State{Writing, Exhausted}, sink.states)
}

func TestRunInvalidConfig(t *testing.T) {
	_, err := Run(context.Background(), &memOpener{s: newMemStore(testBlock, 1)}, Config{BlockSize: 1000}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunInterruptedDuringWrite(t *testing.T) {
	store := newMemStore(testBlock, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordSink{onWrite: func(index int64) {
		if index == 2 {
			cancel()
		}
	}}

	s, err := Run(ctx, &memOpener{s: store}, testConfig(), sink)
	require.NoError(t, err)

	assert.Equal(t, int64(3), s.BlocksWritten)
	assert.ErrorIs(t, s.WriteErr, context.Canceled)
	assert.Equal(t, Interrupted, s.Verdict)
	assert.Zero(t, store.readOpens)
	assert.Equal(t, []State{Writing, Interrupted}, sink.states)
}

func TestRunInterruptedDuringVerify(t *testing.T) {
	store := newMemStore(testBlock, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordSink{onVerify: func(r BlockResult) {
		if r.Index == 3 {
			cancel()
		}
	}}
	rep := NewReporter(sink)

	// Poll the reporter while the run is in flight; counters only grow.
	done := make(chan struct{})
	regressed := make(chan bool, 1)
	go func() {
		var last Progress
		bad := false
		for {
			select {
			case <-done:
				regressed <- bad
				return
			default:
			}
			p := rep.Snapshot()
			if p.Written < last.Written || p.Evaluated < last.Evaluated {
				bad = true
			}
			last = p
			runtime.Gosched()
		}
	}()

	s, err := Run(ctx, &memOpener{s: store}, testConfig(), rep)
	close(done)
	require.NoError(t, err)
	assert.False(t, <-regressed)

	assert.Equal(t, int64(10), s.BlocksWritten)
	assert.Equal(t, int64(4), s.BlocksEvaluated)
	assert.Equal(t, int64(4), s.BlocksVerifiedOK)
	assert.Zero(t, s.BlocksMismatched)
	assert.ErrorIs(t, s.VerifyErr, context.Canceled)
	assert.Equal(t, Interrupted, s.Verdict)
	assert.Equal(t, []State{Writing, Exhausted, Verifying, Interrupted}, sink.states)

	p := rep.Snapshot()
	assert.Equal(t, Interrupted, p.State)
	assert.Equal(t, int64(10), p.Written)
	assert.Equal(t, int64(4), p.Evaluated)
}

func TestWriteStopsOnSyncFailure(t *testing.T) {
	store := newMemStore(testBlock, 100)
	store.syncFails = 6

	res := Write(context.Background(), &memHandle{s: store}, testConfig(), nil)
	assert.Equal(t, int64(6), res.BlocksWritten)
	assert.ErrorIs(t, res.Err, ErrWriteExhausted)
	assert.ErrorIs(t, res.Err, syscall.EIO)
}

func TestWriteShortWriteIsExhaustion(t *testing.T) {
	store := newMemStore(testBlock, 100)
	store.shortOnce = true

	res := Write(context.Background(), &memHandle{s: store}, testConfig(), nil)
	assert.Zero(t, res.BlocksWritten)
	assert.ErrorIs(t, res.Err, io.ErrShortWrite)
}

func TestWriteProducesGeneratedBlocks(t *testing.T) {
	store := newMemStore(testBlock, 3)
	cfg := testConfig()

	res := Write(context.Background(), &memHandle{s: store}, cfg, nil)
	require.Equal(t, int64(3), res.BlocksWritten)
	for i := int64(0); i < 3; i++ {
		assert.Equal(t, blockgen.Generate(cfg.Seed, i, testBlock), store.data[i*testBlock:(i+1)*testBlock])
	}
}

func TestVerifyDifferentSeedMismatchesEverything(t *testing.T) {
	store := newMemStore(testBlock, 4)
	cfg := testConfig()
	Write(context.Background(), &memHandle{s: store}, cfg, nil)

	cfg.Seed++
	res := Verify(context.Background(), &memHandle{s: store}, cfg, 4, nil)
	assert.Equal(t, int64(4), res.Evaluated)
	assert.Equal(t, int64(4), res.Mismatched)
	assert.NoError(t, res.Err)
}

func TestVerifyNeverReadsPastCount(t *testing.T) {
	store := newMemStore(testBlock, 6)
	cfg := testConfig()
	Write(context.Background(), &memHandle{s: store}, cfg, nil)
	store.badRead = 5

	res := Verify(context.Background(), &memHandle{s: store}, cfg, 5, nil)
	assert.NoError(t, res.Err)
	assert.Equal(t, int64(5), res.Matched)
}

func TestVerifyZeroBlocks(t *testing.T) {
	res := Verify(context.Background(), &memHandle{s: newMemStore(testBlock, 1)}, testConfig(), 0, nil)
	assert.Zero(t, res.Evaluated)
	assert.NoError(t, res.Err)
}
