// Package retrodfrg provides a generic terminal UI for displaying progress and status information.
// It is designed to be completely agnostic of the underlying task being performed.
package retrodfrg

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
)

// ErrInterrupted is returned when the user requests to stop the operation.
var ErrInterrupted = errors.New("interrupted")

// reservedRows is what the phase and status blocks need below the map.
const reservedRows = 7

// UI provides a terminal-based user interface for displaying customizable information.
// It supports title, summary lines, legend, a block map, phases, and status lines.
type UI struct {
	s        tcell.Screen
	closed   bool
	stopChan chan struct{}
	once     sync.Once

	title        string
	phases       []string
	phaseDoneMap map[string]bool
	summaryLines []string
	legendLines  []string
	statusLines  []string

	progressMapLines []string
}

// NewUI creates and initializes a new UI on the controlling terminal.
func NewUI() (*UI, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return NewUIWithScreen(s)
}

// NewUIWithScreen initializes s and starts the input loop on it.
func NewUIWithScreen(s tcell.Screen) (*UI, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	u := &UI{
		s:            s,
		stopChan:     make(chan struct{}),
		phaseDoneMap: make(map[string]bool),
	}
	go u.eventLoop()
	return u, nil
}

// Close closes the UI and restores the terminal to its original state.
func (u *UI) Close() {
	if u.closed {
		return
	}
	u.s.Fini()
	u.closed = true
	fmt.Print("\033[?1049l\033[?25h")
}

// RequestStop signals that the user has requested to stop the current operation.
// It can be called multiple times safely.
func (u *UI) RequestStop() {
	u.once.Do(func() {
		close(u.stopChan)
		_ = u.s.PostEvent(tcell.NewEventInterrupt(nil))
	})
}

// IsStopped returns true if the user has requested to stop the operation.
func (u *UI) IsStopped() bool {
	select {
	case <-u.stopChan:
		return true
	default:
		return false
	}
}

// Stopped is closed once a stop has been requested.
func (u *UI) Stopped() <-chan struct{} { return u.stopChan }

// Size returns the current screen width and height.
func (u *UI) Size() (width, height int) {
	if u.closed {
		return 0, 0
	}
	return u.s.Size()
}

// MapSize returns the cells available to the progress map given the lines
// already set for the title, summary and legend.
func (u *UI) MapSize() (width, rows int) {
	w, h := u.Size()
	used := len(u.summaryLines) + len(u.legendLines)
	if u.title != "" {
		used++
	}
	rows = h - used - reservedRows
	if rows < 1 {
		rows = 1
	}
	return w, rows
}

func putStr(s tcell.Screen, x, y int, str string, style tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		pos := x + i
		if pos >= w {
			break
		}
		s.SetContent(pos, y, r, nil, style)
	}
}

// LayoutAndDraw redraws the entire UI with the current state.
// It should be called whenever the displayed information needs to be updated.
func (u *UI) LayoutAndDraw() {
	if u.closed {
		return
	}
	u.s.Clear()
	w, h := u.s.Size()

	y := 0

	if u.title != "" {
		putStr(u.s, 0, y, strings.Repeat("═", w), tcell.StyleDefault)
		putStr(u.s, (w-len([]rune(u.title)))/2, y, u.title, tcell.StyleDefault.Bold(true))
		y++
	}

	for _, line := range append(append([]string(nil), u.summaryLines...), u.legendLines...) {
		if y >= h {
			break
		}
		putStr(u.s, 0, y, line, tcell.StyleDefault)
		y++
	}

	if len(u.progressMapLines) > 0 {
		avail := h - y - reservedRows
		if avail < 1 {
			avail = 1
		}
		for i := 0; i < avail && i < len(u.progressMapLines) && y < h; i++ {
			drawMapLine(u.s, y, u.progressMapLines[i])
			y++
		}
	}

	if len(u.phases) > 0 && y < h {
		putStr(u.s, 0, y, strings.Repeat("─", w), tcell.StyleDefault)
		putStr(u.s, 2, y, " Phase ", tcell.StyleDefault)
		y++
		b := strings.Builder{}
		for i, p := range u.phases {
			if i > 0 {
				b.WriteByte(' ')
			}
			mark := ' '
			if u.phaseDoneMap[strings.ToLower(p)] {
				mark = '✓'
			}
			fmt.Fprintf(&b, "[%c]%s", mark, p)
		}
		putStr(u.s, 0, y, b.String(), tcell.StyleDefault)
		y++
	}

	if len(u.statusLines) > 0 && y < h {
		putStr(u.s, 0, y, strings.Repeat("─", w), tcell.StyleDefault)
		putStr(u.s, 2, y, " Status ", tcell.StyleDefault)
		y++
		for _, line := range u.statusLines {
			if y >= h {
				break
			}
			putStr(u.s, 0, y, line, tcell.StyleDefault)
			y++
		}
	}

	u.s.Show()
}

// drawMapLine colors mismatch cells so they stand out from the rest of the map.
func drawMapLine(s tcell.Screen, y int, line string) {
	w, _ := s.Size()
	for x, r := range []rune(line) {
		if x >= w {
			break
		}
		style := tcell.StyleDefault
		switch r {
		case CellMismatch.Glyph():
			style = style.Foreground(tcell.ColorRed)
		case CellVerified.Glyph():
			style = style.Foreground(tcell.ColorGreen)
		}
		s.SetContent(x, y, r, nil, style)
	}
}

// SetPhaseDone marks the specified phase as completed.
// The phase name is case-insensitive.
func (u *UI) SetPhaseDone(p string) {
	if u.phaseDoneMap == nil {
		u.phaseDoneMap = make(map[string]bool)
	}
	u.phaseDoneMap[strings.ToLower(p)] = true
}

// SetPhases sets the list of phases to display.
func (u *UI) SetPhases(labels []string) {
	u.phases = append([]string(nil), labels...)
}

func (u *UI) SetTitle(t string) {
	u.title = t
}

func (u *UI) SetSummaryLines(lines []string) {
	u.summaryLines = append([]string(nil), lines...)
}

func (u *UI) SetLegend(lines []string) {
	u.legendLines = append([]string(nil), lines...)
}

func (u *UI) SetStatusLines(lines []string) {
	u.statusLines = append([]string(nil), lines...)
}

// SetProgressMap sets the map rows to display. The UI only renders them.
func (u *UI) SetProgressMap(lines []string) {
	u.progressMapLines = append([]string(nil), lines...)
}

func (u *UI) eventLoop() {
	s := u.s
	for {
		select {
		case <-u.stopChan:
			return
		default:
		}
		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC,
				ev.Key() == tcell.KeyEscape,
				ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
				u.RequestStop()
			}
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventInterrupt:
			return
		case nil:
			return
		}
	}
}
