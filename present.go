package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/cheggaaa/pb.v1"

	"capcheck/probe"
	"capcheck/retrodfrg"
)

/* ===================== Plain progress ===================== */

// barSink draws one byte-counting bar per phase.
type barSink struct {
	out       io.Writer
	blockSize int64
	total     int64 // advertised bytes, 0 when unknown

	bar     *pb.ProgressBar
	written int64
}

func newBarSink(out io.Writer, blockSize, total int64) *barSink {
	return &barSink{out: out, blockSize: blockSize, total: total}
}

func (b *barSink) start(prefix string, total int64) {
	b.stop()
	bar := pb.New64(total).SetUnits(pb.U_BYTES)
	bar.Output = b.out
	bar.ShowSpeed = true
	bar.ShowPercent = total > 0
	bar.ShowTimeLeft = total > 0
	bar.Prefix(prefix)
	b.bar = bar.Start()
}

func (b *barSink) stop() {
	if b.bar != nil {
		b.bar.Finish()
		b.bar = nil
	}
}

func (b *barSink) StateChanged(s probe.State) {
	switch s {
	case probe.Writing:
		b.start("Write  ", b.total)
	case probe.Verifying:
		b.start("Verify ", b.written*b.blockSize)
	default:
		b.stop()
	}
}

func (b *barSink) BlockWritten(int64) {
	b.written++
	if b.bar != nil {
		b.bar.Add64(b.blockSize)
	}
}

func (b *barSink) BlockVerified(probe.BlockResult) {
	if b.bar != nil {
		b.bar.Add64(b.blockSize)
	}
}

/* ===================== TUI ===================== */

// tuiSink mirrors probe events onto a block map and remembers which phases
// have finished. The draw loop reads it from another goroutine.
type tuiSink struct {
	blocks *retrodfrg.BlockMap

	mu    sync.Mutex
	state probe.State
	done  []string
}

func (t *tuiSink) StateChanged(s probe.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch s {
	case probe.Exhausted:
		t.done = append(t.done, "Write")
	case probe.Clean, probe.Anomaly:
		t.done = append(t.done, "Verify")
	}
	t.state = s
}

func (t *tuiSink) BlockWritten(index int64) { t.blocks.Mark(index, retrodfrg.CellWritten) }

func (t *tuiSink) BlockVerified(r probe.BlockResult) {
	if r.Matched {
		t.blocks.Mark(r.Index, retrodfrg.CellVerified)
		return
	}
	t.blocks.Mark(r.Index, retrodfrg.CellMismatch)
}

func (t *tuiSink) phase() (probe.State, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, append([]string(nil), t.done...)
}

// drawTUI refreshes the screen from the sink and reporter snapshot.
func drawTUI(ui *retrodfrg.UI, t *tuiSink, rep *probe.Reporter, blockSize int64, started time.Time) {
	state, done := t.phase()
	for _, p := range done {
		ui.SetPhaseDone(p)
	}

	w, rows := ui.MapSize()
	ui.SetProgressMap(t.blocks.Lines(w, rows))

	snap := rep.Snapshot()
	elapsed := time.Since(started).Truncate(time.Second)
	var moved int64
	switch state {
	case probe.Verifying, probe.Clean, probe.Anomaly:
		moved = snap.Evaluated
	default:
		moved = snap.Written
	}
	speed := "—"
	if secs := elapsed.Seconds(); secs > 0 {
		speed = humanize.IBytes(uint64(float64(moved*blockSize)/secs)) + "/s"
	}
	ui.SetStatusLines([]string{
		fmt.Sprintf("State: %s", state),
		fmt.Sprintf("Written: %d blocks (%s)", snap.Written, humanize.IBytes(uint64(snap.Written*blockSize))),
		fmt.Sprintf("Verified: %d ok  %d mismatched  of %d", snap.Matched, snap.Mismatched, snap.Written),
		fmt.Sprintf("Elapsed: %s   Rate: %s", elapsed, speed),
	})
	ui.LayoutAndDraw()
}

/* ===================== Summary ===================== */

const maxListed = 16

func rate(bytes int64, d time.Duration) string {
	if d <= 0 {
		return "—"
	}
	return humanize.IBytes(uint64(float64(bytes)/d.Seconds())) + "/s"
}

func verdictLine(s *probe.Summary) string {
	switch s.Verdict {
	case probe.Clean:
		return fmt.Sprintf("OK: all %s written were read back intact.", humanize.IBytes(uint64(s.WrittenBytes())))
	case probe.NoCapacity:
		return "FAIL: the device accepted no data at all."
	case probe.Exhausted:
		return fmt.Sprintf("INCOMPLETE: %s written, but the device could not be reopened to verify it.",
			humanize.IBytes(uint64(s.WrittenBytes())))
	case probe.Interrupted:
		return "INTERRUPTED: results cover only the blocks processed before the stop."
	case probe.Anomaly:
		if len(s.Aliases) > 0 {
			return fmt.Sprintf("FAIL: the device wraps around; only about %s is real storage.",
				humanize.IBytes(uint64(s.VerifiedBytes())))
		}
		return fmt.Sprintf("FAIL: %s of %s verified; data was lost or corrupted.",
			humanize.IBytes(uint64(s.VerifiedBytes())), humanize.IBytes(uint64(s.WrittenBytes())))
	}
	return "UNKNOWN: " + s.Verdict.String()
}

// printSummary writes the final report for target.
func printSummary(w io.Writer, target string, runID string, s *probe.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Device:       %s\n", target)
	fmt.Fprintf(w, "Run:          %s  (seed %d, block %s)\n", runID, s.Seed, humanize.IBytes(uint64(s.BlockSize)))
	fmt.Fprintf(w, "Written:      %d blocks, %s in %s (%s)\n",
		s.BlocksWritten, humanize.IBytes(uint64(s.WrittenBytes())), s.WriteDuration.Truncate(time.Millisecond), rate(s.WrittenBytes(), s.WriteDuration))
	if s.WriteErr != nil {
		fmt.Fprintf(w, "Write ended:  %v\n", s.WriteErr)
	}
	fmt.Fprintf(w, "Verified:     %d of %d evaluated ok, %d mismatched in %s (%s)\n",
		s.BlocksVerifiedOK, s.BlocksEvaluated, s.BlocksMismatched, s.VerifyDuration.Truncate(time.Millisecond),
		rate(s.BlocksEvaluated*int64(s.BlockSize), s.VerifyDuration))
	if s.VerifyErr != nil {
		fmt.Fprintf(w, "Verify ended: %v\n", s.VerifyErr)
	}

	if bad := s.Mismatches(maxListed + 1); len(bad) > 0 {
		strs := make([]string, 0, len(bad))
		for i, idx := range bad {
			if i == maxListed {
				strs = append(strs, "…")
				break
			}
			strs = append(strs, fmt.Sprint(idx))
		}
		fmt.Fprintf(w, "Bad blocks:   %s\n", strings.Join(strs, " "))
	}
	if len(s.Aliases) > 0 {
		idx := make([]int64, 0, len(s.Aliases))
		for k := range s.Aliases {
			idx = append(idx, k)
		}
		sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
		if len(idx) > maxListed {
			idx = idx[:maxListed]
		}
		pairs := make([]string, 0, len(idx))
		for _, k := range idx {
			pairs = append(pairs, fmt.Sprintf("%d←%d", k, s.Aliases[k]))
		}
		fmt.Fprintf(w, "Overwritten:  %s\n", strings.Join(pairs, " "))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, verdictLine(s))
}

func exitCodeFor(s *probe.Summary) int {
	if s.Clean() {
		return exitOK
	}
	return exitFailed
}
