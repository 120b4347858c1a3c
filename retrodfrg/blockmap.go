package retrodfrg

import (
	"strings"
	"sync"
	"time"
)

// Cell is the display state of one unit in a BlockMap.
type Cell uint8

const (
	CellPending Cell = iota
	CellWritten
	CellVerified
	CellMismatch
)

var cellGlyphs = [...]rune{
	CellPending:  '░',
	CellWritten:  '█',
	CellVerified: '▓',
	CellMismatch: '✗',
}

func (c Cell) Glyph() rune {
	if int(c) < len(cellGlyphs) {
		return cellGlyphs[c]
	}
	return '?'
}

// BlockMap tracks per-unit display state. It is safe for concurrent use:
// the worker marks cells while the draw loop renders them.
type BlockMap struct {
	mu      sync.Mutex
	cells   []Cell
	total   int64 // expected units, 0 when unknown
	current int64
}

// NewBlockMap returns a map sized for total units. With total 0 the map grows
// as cells are marked.
func NewBlockMap(total int64) *BlockMap {
	m := &BlockMap{total: total}
	if total > 0 {
		m.cells = make([]Cell, total)
	}
	return m
}

// Mark sets the state of unit i and makes it the position the view follows.
func (m *BlockMap) Mark(i int64, c Cell) {
	if i < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= int64(len(m.cells)) {
		m.cells = append(m.cells, make([]Cell, i+1-int64(len(m.cells)))...)
	}
	m.cells[i] = c
	m.current = i
}

// Count returns how many units are in state c.
func (m *BlockMap) Count(c Cell) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, v := range m.cells {
		if v == c {
			n++
		}
	}
	return n
}

// Lines renders rows of width cells each, scrolled so the last marked unit
// stays in view.
func (m *BlockMap) Lines(width, rows int) []string {
	if width <= 0 || rows <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.total
	if n := int64(len(m.cells)); n > total {
		total = n
	}
	if total == 0 {
		return nil
	}
	visible := int64(width * rows)

	start := int64(0)
	if total > visible {
		if m.current >= visible-1 {
			start = m.current - (visible - 1)
		}
		if start+visible > total {
			start = total - visible
		}
		// Keep rows aligned so cells don't shift sideways while scrolling.
		start -= start % int64(width)
	}

	lines := make([]string, 0, rows)
	for row := 0; row < rows; row++ {
		var b strings.Builder
		b.Grow(width * 3)
		for col := 0; col < width; col++ {
			abs := start + int64(row*width+col)
			if abs >= total {
				break
			}
			c := CellPending
			if abs < int64(len(m.cells)) {
				c = m.cells[abs]
			}
			b.WriteRune(c.Glyph())
		}
		if b.Len() == 0 {
			break
		}
		lines = append(lines, b.String())
	}
	return lines
}

// Legend describes the glyphs for SetLegend.
func Legend() string {
	return string(CellWritten.Glyph()) + " written  " +
		string(CellVerified.Glyph()) + " verified  " +
		string(CellMismatch.Glyph()) + " mismatch  " +
		string(CellPending.Glyph()) + " pending"
}

// WaitWithStop waits for d, returning ErrInterrupted early if the user asks
// to stop.
func WaitWithStop(u *UI, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-u.stopChan:
		return ErrInterrupted
	case <-timer.C:
		return nil
	}
}
