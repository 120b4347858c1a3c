package device

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capcheck/blockgen"
	"capcheck/probe"
)

const testBlock = 4096

func newTestFake(t *testing.T, cfg FakeConfig) *Fake {
	t.Helper()
	if cfg.BlockSize == 0 {
		cfg.BlockSize = testBlock
	}
	f, err := NewFake(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func runFake(t *testing.T, f *Fake, bs int) *probe.Summary {
	t.Helper()
	s, err := probe.Run(context.Background(), f, probe.Config{BlockSize: bs, Seed: 42}, nil)
	require.NoError(t, err)
	return s
}

func TestFakeWriteStopsAtAdvertised(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: 3 * testBlock})
	w, err := f.OpenWrite()
	require.NoError(t, err)
	defer w.Close()

	block := bytes.Repeat([]byte{0xAB}, testBlock)
	for i := 0; i < 3; i++ {
		n, err := w.Write(block)
		require.NoError(t, err)
		require.Equal(t, testBlock, n)
		require.NoError(t, w.Sync())
	}
	n, err := w.Write(block)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, syscall.ENOSPC)
	assert.Equal(t, uint(3), f.WrittenBlocks())
}

func TestFakePartialWriteAtBoundary(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: testBlock + 100})
	w, err := f.OpenWrite()
	require.NoError(t, err)

	n, err := w.Write(make([]byte, 2*testBlock))
	assert.Equal(t, testBlock+100, n)
	assert.ErrorIs(t, err, syscall.ENOSPC)
}

func TestFakeReadPastAdvertisedIsEOF(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: testBlock})
	r, err := f.OpenRead()
	require.NoError(t, err)

	_, err = r.Seek(testBlock, io.SeekStart)
	require.NoError(t, err)
	_, err = r.Read(make([]byte, 10))
	assert.ErrorIs(t, err, io.EOF)
}

func TestFakeWrapsAtPhysical(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: 4 * testBlock, Physical: 2 * testBlock})
	w, err := f.OpenWrite()
	require.NoError(t, err)
	for i := byte(0); i < 4; i++ {
		_, err := w.Write(bytes.Repeat([]byte{i}, testBlock))
		require.NoError(t, err)
	}

	r, err := f.OpenRead()
	require.NoError(t, err)
	buf := make([]byte, testBlock)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(2), buf[0], "block 0 was overwritten by block 2")
}

func TestFakeBadBlockFailsRead(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: 4 * testBlock, BadBlocks: []int64{2}})
	r, err := f.OpenRead()
	require.NoError(t, err)

	buf := make([]byte, 3*testBlock)
	n, err := io.ReadFull(r, buf)
	assert.Equal(t, 2*testBlock, n)
	assert.ErrorIs(t, err, syscall.EIO)
}

func TestFakeCorrupt(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: testBlock})
	require.NoError(t, f.Corrupt(7))

	r, err := f.OpenRead()
	require.NoError(t, err)
	buf := make([]byte, 8)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), buf[7])

	assert.Error(t, f.Corrupt(testBlock))
	assert.Error(t, f.Corrupt(-1))
}

func TestFakeClosedRejectsIO(t *testing.T) {
	f, err := NewFake(FakeConfig{Advertised: testBlock})
	require.NoError(t, err)
	w, err := f.OpenWrite()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = w.Write([]byte{1})
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestFakeRejectsNegativeSize(t *testing.T) {
	_, err := NewFake(FakeConfig{Advertised: -1})
	assert.Error(t, err)
}

func TestRunOnHonestFake(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: 5 * probe.DefaultBlockSize, BlockSize: probe.DefaultBlockSize})
	s := runFake(t, f, probe.DefaultBlockSize)

	assert.Equal(t, int64(5), s.BlocksWritten)
	assert.Equal(t, int64(5), s.BlocksVerifiedOK)
	assert.Equal(t, probe.Clean, s.Verdict)
	assert.ErrorIs(t, s.WriteErr, syscall.ENOSPC)
	assert.Equal(t, uint(5), f.WrittenBlocks())
}

func TestRunOnWrappingFake(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: 8 * testBlock, Physical: 4 * testBlock})
	s := runFake(t, f, testBlock)

	assert.Equal(t, int64(8), s.BlocksWritten)
	assert.Equal(t, int64(4), s.BlocksVerifiedOK)
	assert.Equal(t, int64(4), s.BlocksMismatched)
	assert.Equal(t, []int64{0, 1, 2, 3}, s.Mismatches(0))
	assert.Equal(t, map[int64]int64{0: 4, 1: 5, 2: 6, 3: 7}, s.Aliases)
	assert.Equal(t, probe.Anomaly, s.Verdict)
}

func TestRunOnFakeWithBadBlock(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: 10 * testBlock, BadBlocks: []int64{4}})
	s := runFake(t, f, testBlock)

	assert.Equal(t, int64(10), s.BlocksWritten)
	assert.Equal(t, int64(4), s.BlocksEvaluated)
	assert.Equal(t, int64(4), s.BlocksVerifiedOK)
	assert.ErrorIs(t, s.VerifyErr, probe.ErrVerifyIO)
	assert.ErrorIs(t, s.VerifyErr, syscall.EIO)
	assert.Equal(t, probe.Anomaly, s.Verdict)
}

func TestRunOnEmptyFake(t *testing.T) {
	f := newTestFake(t, FakeConfig{Advertised: 0})
	s := runFake(t, f, testBlock)

	assert.Zero(t, s.BlocksWritten)
	assert.Equal(t, probe.NoCapacity, s.Verdict)
}

func TestRunOnImageBackedFake(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card.img")
	f, err := NewFake(FakeConfig{Advertised: 6 * testBlock, BlockSize: testBlock, ImagePath: path})
	require.NoError(t, err)

	s, err := probe.Run(context.Background(), f, probe.Config{BlockSize: testBlock, Seed: 9}, nil)
	require.NoError(t, err)
	assert.Equal(t, probe.Clean, s.Verdict)
	require.NoError(t, f.Close())

	img, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, img, 6*testBlock)
	assert.Equal(t, blockgen.Generate(9, 5, testBlock), img[5*testBlock:])
}

func TestFakeImageMustMatchPhysicalSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 3*testBlock), 0o644))

	_, err := NewFake(FakeConfig{Advertised: 6 * testBlock, BlockSize: testBlock, ImagePath: path})
	require.ErrorIs(t, err, ErrImageSize)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3*testBlock), fi.Size(), "mismatched image must be left alone")

	f, err := NewFake(FakeConfig{Advertised: 6 * testBlock, Physical: 3 * testBlock, BlockSize: testBlock, ImagePath: path})
	require.NoError(t, err)
	assert.Equal(t, int64(6*testBlock), f.Size())
	require.NoError(t, f.Close())
}
