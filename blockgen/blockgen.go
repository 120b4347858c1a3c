// Package blockgen produces the reference content written to and read back from
// a device under test. A block is a pure function of (seed, index, size): the
// verify phase regenerates it instead of keeping a copy of what was written.
package blockgen

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/exp/rand"
)

// HeaderSize is the number of leading bytes that carry the block index and seed.
const HeaderSize = 16

// MinSize is the smallest block Fill accepts.
const MinSize = HeaderSize

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// blockSeed derives the PRNG seed of a single block.
func blockSeed(seed uint64, index int64) uint64 {
	return splitmix64(seed ^ splitmix64(uint64(index)))
}

// Fill writes block index of the given seed into dst. The block size is len(dst).
// It panics if len(dst) < MinSize.
func Fill(dst []byte, seed uint64, index int64) {
	if len(dst) < MinSize {
		panic("blockgen: block smaller than header")
	}
	binary.LittleEndian.PutUint64(dst[0:], uint64(index))
	binary.LittleEndian.PutUint64(dst[8:], seed)

	var src rand.PCGSource
	src.Seed(blockSeed(seed, index))

	body := dst[HeaderSize:]
	i := 0
	for ; i+8 <= len(body); i += 8 {
		binary.LittleEndian.PutUint64(body[i:], src.Uint64())
	}
	if i < len(body) {
		var tail [8]byte
		binary.LittleEndian.PutUint64(tail[:], src.Uint64())
		copy(body[i:], tail[:])
	}
}

// Generate returns a newly allocated block.
func Generate(seed uint64, index int64, size int) []byte {
	b := make([]byte, size)
	Fill(b, seed, index)
	return b
}

// Identify reports which block of this seed data holds, if any. It is used to
// tell "wrong data" apart from "data of another block", the signature of
// address wraparound on counterfeit media.
func Identify(seed uint64, data []byte) (int64, bool) {
	return identify(seed, data, nil)
}

// identify regenerates the candidate block into scratch when it is large
// enough, and into a new buffer otherwise.
func identify(seed uint64, data, scratch []byte) (int64, bool) {
	if len(data) < MinSize {
		return 0, false
	}
	if binary.LittleEndian.Uint64(data[8:]) != seed {
		return 0, false
	}
	index := int64(binary.LittleEndian.Uint64(data[0:]))
	if index < 0 {
		return 0, false
	}
	if len(scratch) < len(data) {
		scratch = make([]byte, len(data))
	}
	ref := scratch[:len(data)]
	Fill(ref, seed, index)
	if !bytes.Equal(data, ref) {
		return 0, false
	}
	return index, true
}

// Generator fills blocks of a fixed size for one seed, reusing its buffer.
// The slice returned by Block is only valid until the next call.
type Generator struct {
	seed uint64
	buf  []byte
}

// New returns a Generator for blocks of size bytes.
func New(seed uint64, size int) *Generator {
	return &Generator{seed: seed, buf: make([]byte, size)}
}

// Seed returns the run seed.
func (g *Generator) Seed() uint64 { return g.seed }

// Size returns the block size.
func (g *Generator) Size() int { return len(g.buf) }

// Block returns the content of block index.
func (g *Generator) Block(index int64) []byte {
	Fill(g.buf, g.seed, index)
	return g.buf
}

// Identify is Identify for the generator's seed. It regenerates into the
// generator's buffer, so a slice previously returned by Block is overwritten.
func (g *Generator) Identify(data []byte) (int64, bool) {
	return identify(g.seed, data, g.buf)
}
