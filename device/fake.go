package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"syscall"

	"github.com/bits-and-blooms/bitset"
	"github.com/edsrzf/mmap-go"

	"capcheck/probe"
)

// ErrImageSize is returned when an existing image file does not match the
// synthetic device's physical size.
var ErrImageSize = errors.New("image size mismatch")

// FakeConfig describes a synthetic device.
type FakeConfig struct {
	// Advertised is the capacity the device claims. Writes past it fail with
	// ENOSPC and reads past it return io.EOF.
	Advertised int64
	// Physical is the storage actually backing the device. Offsets at or past
	// it wrap around to the start, the way counterfeit flash behaves. Zero
	// means the same as Advertised.
	Physical int64
	// BlockSize is the granularity of written-block tracking and BadBlocks.
	// Zero means probe.DefaultBlockSize.
	BlockSize int64
	// BadBlocks lists block indices whose reads fail with EIO.
	BadBlocks []int64
	// ImagePath, when set, backs the device with an mmap'ed file of Physical
	// bytes instead of memory. The file is created if missing. An existing
	// non-empty file must already be exactly Physical bytes.
	ImagePath string
}

func (c FakeConfig) physical() int64 {
	if c.Physical <= 0 || c.Physical > c.Advertised {
		return c.Advertised
	}
	return c.Physical
}

func (c FakeConfig) blockSize() int64 {
	if c.BlockSize <= 0 {
		return probe.DefaultBlockSize
	}
	return c.BlockSize
}

// Fake is an in-process device implementing probe.Opener.
type Fake struct {
	cfg  FakeConfig
	name string

	mu      sync.Mutex
	closed  bool
	data    []byte
	mm      mmap.MMap
	written *bitset.BitSet
}

// NewFake builds a synthetic device. Close releases its backing store.
func NewFake(cfg FakeConfig) (*Fake, error) {
	if cfg.Advertised < 0 {
		return nil, fmt.Errorf("advertised size must not be negative: %d", cfg.Advertised)
	}
	phys := cfg.physical()
	blocks := (cfg.Advertised + cfg.blockSize() - 1) / cfg.blockSize()
	f := &Fake{
		cfg:     cfg,
		name:    "fake",
		written: bitset.New(uint(blocks)),
	}
	if cfg.ImagePath == "" {
		f.data = make([]byte, phys)
		return f, nil
	}

	f.name = cfg.ImagePath
	if phys == 0 {
		return f, nil
	}
	file, err := os.OpenFile(cfg.ImagePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error opening image: %w", err)
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("error reading image: %w", err)
	}
	if sz := fi.Size(); sz != 0 && sz != phys {
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrImageSize, cfg.ImagePath, sz, phys)
	}
	// Sparse on most filesystems.
	if err := file.Truncate(phys); err != nil {
		return nil, fmt.Errorf("error allocating image: %w", err)
	}
	mm, err := mmap.MapRegion(file, int(phys), mmap.RDWR, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("error mapping image: %w", err)
	}
	f.mm = mm
	f.data = mm
	return f, nil
}

// Size returns the advertised capacity.
func (f *Fake) Size() int64 { return f.cfg.Advertised }

// WrittenBlocks returns how many distinct blocks have received data.
func (f *Fake) WrittenBlocks() uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Count()
}

// Corrupt flips every bit of the byte at logical offset off.
func (f *Fake) Corrupt(off int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off >= f.cfg.Advertised || len(f.data) == 0 {
		return fmt.Errorf("corrupt offset %d out of range", off)
	}
	f.data[off%int64(len(f.data))] ^= 0xff
	return nil
}

// Close flushes and unmaps an image-backed device.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.mm == nil {
		f.data = nil
		return nil
	}
	err := errors.Join(f.mm.Flush(), f.mm.Unmap())
	f.mm = nil
	f.data = nil
	return err
}

func (f *Fake) OpenWrite() (probe.WriteDevice, error) {
	return &fakeHandle{f: f}, nil
}

func (f *Fake) OpenRead() (probe.ReadDevice, error) {
	return &fakeHandle{f: f}, nil
}

func (f *Fake) pathErr(op string, err error) error {
	return &os.PathError{Op: op, Path: f.name, Err: err}
}

// copyAt moves bytes between p and the backing store starting at logical
// offset off, wrapping at the physical size. Callers hold f.mu.
func (f *Fake) copyAt(p []byte, off int64, write bool) {
	phys := int64(len(f.data))
	for len(p) > 0 {
		at := off % phys
		var n int
		if write {
			n = copy(f.data[at:], p)
		} else {
			n = copy(p, f.data[at:])
		}
		p = p[n:]
		off += int64(n)
	}
}

type fakeHandle struct {
	f      *Fake
	pos    int64
	closed bool
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	f := h.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.closed || f.closed {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	room := f.cfg.Advertised - h.pos
	if room <= 0 {
		return 0, f.pathErr("write", syscall.ENOSPC)
	}
	n := int64(len(p))
	if n > room {
		n = room
	}
	f.copyAt(p[:n], h.pos, true)
	bs := f.cfg.blockSize()
	for b := h.pos / bs; b <= (h.pos+n-1)/bs; b++ {
		f.written.Set(uint(b))
	}
	h.pos += n
	if int(n) < len(p) {
		return int(n), f.pathErr("write", syscall.ENOSPC)
	}
	return int(n), nil
}

func (h *fakeHandle) Sync() error {
	f := h.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.closed || f.closed {
		return os.ErrClosed
	}
	if f.mm != nil {
		if err := f.mm.Flush(); err != nil {
			return f.pathErr("sync", err)
		}
	}
	return nil
}

func (h *fakeHandle) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = h.pos + offset
	case io.SeekEnd:
		abs = h.f.cfg.Advertised + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek: negative position %d", abs)
	}
	h.pos = abs
	return abs, nil
}

func (h *fakeHandle) Read(p []byte) (int, error) {
	f := h.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.closed || f.closed {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if h.pos >= f.cfg.Advertised {
		return 0, io.EOF
	}
	bs := f.cfg.blockSize()
	if slices.Contains(f.cfg.BadBlocks, h.pos/bs) {
		return 0, f.pathErr("read", syscall.EIO)
	}
	n := int64(len(p))
	if room := f.cfg.Advertised - h.pos; n > room {
		n = room
	}
	// Stop short of a bad block so the failure surfaces on the next call.
	for _, b := range f.cfg.BadBlocks {
		if start := b * bs; start > h.pos && start < h.pos+n {
			n = start - h.pos
		}
	}
	f.copyAt(p[:n], h.pos, false)
	h.pos += n
	return int(n), nil
}

func (h *fakeHandle) Close() error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	h.closed = true
	return nil
}
