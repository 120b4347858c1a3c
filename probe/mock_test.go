package probe

import (
	"errors"
	"io"
	"sync"
	"syscall"
)

var errNoSpace = syscall.ENOSPC

// memStore is a device that accepts capacity blocks and then refuses writes.
// When physical is smaller than capacity, offsets wrap modulo physical blocks
// the way counterfeit flash does.
type memStore struct {
	mu        sync.Mutex
	blockSize int64
	capacity  int64
	physical  int64
	data      []byte

	badRead   int64 // block whose read fails, -1 for none
	syncFails int64 // number of successful syncs before Sync fails, -1 for never
	syncs     int64
	shortOnce bool // next write reports a short count without error

	opens     int
	readOpens int
}

func newMemStore(blockSize, capacity int64) *memStore {
	return &memStore{
		blockSize: blockSize,
		capacity:  capacity,
		physical:  capacity,
		data:      make([]byte, blockSize*capacity),
		badRead:   -1,
		syncFails: -1,
	}
}

func (s *memStore) withPhysical(blocks int64) *memStore {
	s.physical = blocks
	s.data = make([]byte, s.blockSize*blocks)
	return s
}

func (s *memStore) physOffset(off int64) int64 {
	if s.physical == 0 {
		return off
	}
	return off % (s.physical * s.blockSize)
}

type memHandle struct {
	s   *memStore
	pos int64
}

func (h *memHandle) Write(p []byte) (int, error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shortOnce {
		s.shortOnce = false
		return len(p) / 2, nil
	}
	if h.pos+int64(len(p)) > s.capacity*s.blockSize {
		return 0, errNoSpace
	}
	off := s.physOffset(h.pos)
	copy(s.data[off:], p)
	h.pos += int64(len(p))
	return len(p), nil
}

func (h *memHandle) Sync() error {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncFails >= 0 && s.syncs >= s.syncFails {
		return syscall.EIO
	}
	s.syncs++
	return nil
}

func (h *memHandle) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart || offset < 0 {
		return 0, errors.New("unsupported seek")
	}
	h.pos = offset
	return offset, nil
}

func (h *memHandle) Read(p []byte) (int, error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.badRead >= 0 && h.pos/s.blockSize == s.badRead {
		return 0, syscall.EIO
	}
	if h.pos >= s.capacity*s.blockSize {
		return 0, io.EOF
	}
	off := s.physOffset(h.pos)
	n := copy(p, s.data[off:off+s.blockSize-off%s.blockSize])
	h.pos += int64(n)
	return n, nil
}

func (h *memHandle) Close() error { return nil }

type memOpener struct {
	s          *memStore
	openErr    error
	readErr    error
	beforeRead func(s *memStore)
}

func (o *memOpener) OpenWrite() (WriteDevice, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.s.opens++
	return &memHandle{s: o.s}, nil
}

func (o *memOpener) OpenRead() (ReadDevice, error) {
	if o.readErr != nil {
		return nil, o.readErr
	}
	o.s.readOpens++
	if o.beforeRead != nil {
		o.beforeRead(o.s)
	}
	return &memHandle{s: o.s}, nil
}

// recordSink keeps every event for inspection.
type recordSink struct {
	states   []State
	written  []int64
	verified []BlockResult
	onWrite  func(index int64)
	onVerify func(res BlockResult)
}

func (r *recordSink) StateChanged(s State) { r.states = append(r.states, s) }

func (r *recordSink) BlockWritten(index int64) {
	r.written = append(r.written, index)
	if r.onWrite != nil {
		r.onWrite(index)
	}
}

func (r *recordSink) BlockVerified(res BlockResult) {
	r.verified = append(r.verified, res)
	if r.onVerify != nil {
		r.onVerify(res)
	}
}
