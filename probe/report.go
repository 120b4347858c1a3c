package probe

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
)

// maxAliases bounds how many wraparound aliases a summary keeps.
const maxAliases = 1024

// Progress is a point-in-time view of a run.
type Progress struct {
	State      State
	Written    int64
	Evaluated  int64
	Matched    int64
	Mismatched int64
}

// Summary is the final report of a run.
type Summary struct {
	BlockSize int
	Seed      uint64

	BlocksWritten    int64
	BlocksEvaluated  int64
	BlocksVerifiedOK int64
	BlocksMismatched int64

	WriteErr  error
	VerifyErr error

	WriteDuration  time.Duration
	VerifyDuration time.Duration

	// Aliases maps a mismatched index to the index whose content was found
	// there. At most maxAliases entries are kept.
	Aliases map[int64]int64

	// Verdict is a terminal state, or Exhausted when the device could not be
	// reopened for the verify phase.
	Verdict State

	mismatches *bitset.BitSet
}

// WrittenBytes is the capacity the device accepted and synced.
func (s *Summary) WrittenBytes() int64 { return s.BlocksWritten * int64(s.BlockSize) }

// VerifiedBytes is the capacity that read back intact.
func (s *Summary) VerifiedBytes() int64 { return s.BlocksVerifiedOK * int64(s.BlockSize) }

// Mismatches returns up to limit mismatched block indices in ascending order.
// A limit <= 0 returns all of them.
func (s *Summary) Mismatches(limit int) []int64 {
	if s.mismatches == nil {
		return nil
	}
	var out []int64
	for i, ok := s.mismatches.NextSet(0); ok; i, ok = s.mismatches.NextSet(i + 1) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, int64(i))
	}
	return out
}

// Clean reports whether the run verified the whole written span.
func (s *Summary) Clean() bool { return s.Verdict == Clean }

func (s *Summary) classify(interrupted bool) State {
	switch {
	case interrupted:
		return Interrupted
	case s.BlocksWritten == 0:
		return NoCapacity
	case s.BlocksVerifiedOK == s.BlocksWritten && s.BlocksMismatched == 0 && s.VerifyErr == nil:
		return Clean
	default:
		return Anomaly
	}
}

// Reporter tallies the events of a run and forwards them to a presentation
// sink. It is safe to call Snapshot from another goroutine while a run is in
// progress.
type Reporter struct {
	mu   sync.Mutex
	next Sink

	state       State
	written     int64
	evaluated   int64
	matched     int64
	mismatched  int64
	mismatches  *bitset.BitSet
	aliases     map[int64]int64
	writeRes    WriteResult
	verifyRes   VerifyResult
	interrupted bool
}

// NewReporter returns a Reporter forwarding to next, which may be nil.
func NewReporter(next Sink) *Reporter {
	if next == nil {
		next = NopSink{}
	}
	return &Reporter{
		next:       next,
		mismatches: bitset.New(0),
		aliases:    make(map[int64]int64),
	}
}

func (r *Reporter) StateChanged(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.next.StateChanged(s)
}

func (r *Reporter) BlockWritten(index int64) {
	r.mu.Lock()
	r.written++
	r.mu.Unlock()
	r.next.BlockWritten(index)
}

func (r *Reporter) BlockVerified(res BlockResult) {
	r.mu.Lock()
	r.evaluated++
	if res.Matched {
		r.matched++
	} else {
		r.mismatched++
		r.mismatches.Set(uint(res.Index))
		if res.AliasOf >= 0 && len(r.aliases) < maxAliases {
			r.aliases[res.Index] = res.AliasOf
		}
	}
	r.mu.Unlock()
	r.next.BlockVerified(res)
}

func (r *Reporter) recordWrite(res WriteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeRes = res
}

func (r *Reporter) recordVerify(res VerifyResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifyRes = res
}

func (r *Reporter) markInterrupted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupted = true
}

// Snapshot returns the counters as of now.
func (r *Reporter) Snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Progress{
		State:      r.state,
		Written:    r.written,
		Evaluated:  r.evaluated,
		Matched:    r.matched,
		Mismatched: r.mismatched,
	}
}

// Summary builds the final report from the events seen so far and classifies it.
func (r *Reporter) Summary(cfg Config) *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	aliases := make(map[int64]int64, len(r.aliases))
	for k, v := range r.aliases {
		aliases[k] = v
	}
	s := &Summary{
		BlockSize:        cfg.BlockSize,
		Seed:             cfg.Seed,
		BlocksWritten:    r.written,
		BlocksEvaluated:  r.evaluated,
		BlocksVerifiedOK: r.matched,
		BlocksMismatched: r.mismatched,
		WriteErr:         r.writeRes.Err,
		VerifyErr:        r.verifyRes.Err,
		WriteDuration:    r.writeRes.Duration,
		VerifyDuration:   r.verifyRes.Duration,
		Aliases:          aliases,
		mismatches:       r.mismatches.Clone(),
	}
	s.Verdict = s.classify(r.interrupted)
	return s
}
