package term

import (
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// Model wraps a charmbracelet/x/vt emulator with the scrollback capture,
// notification scanning, and run-length snapshot building the engine's
// contract requires: reading cells back out via CellAt/Render/
// CursorPosition, and capturing scrolled-off rows via a ScrollOut
// callback as they leave the visible grid.
type Model struct {
	emu *vt.Emulator

	cols, rows int

	scrollbackCap int
	scrollback    []string

	cursorVisible bool

	// pending is not used: Feed returns the notifications it detects
	// directly to its caller.
	pending []Notification

	mu sync.Mutex // guards scrollback/cursorVisible against the emulator's own callback goroutine, if any
}

// New creates a Model for the given geometry with the default scrollback
// cap. Use NewWithScrollback to override it.
func New(cols, rows int) *Model {
	return NewWithScrollback(cols, rows, 20000)
}

// NewWithScrollback creates a Model whose scrollback buffer never grows
// past scrollbackCap lines (oldest evicted first).
func NewWithScrollback(cols, rows, scrollbackCap int) *Model {
	m := &Model{
		cols:          cols,
		rows:          rows,
		scrollbackCap: scrollbackCap,
		cursorVisible: true,
	}
	m.emu = vt.NewEmulator(cols, rows)
	m.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			m.mu.Lock()
			for _, l := range lines {
				m.pushScrollback(l.Render())
			}
			m.mu.Unlock()
		},
		CursorVisibility: func(visible bool) {
			m.mu.Lock()
			m.cursorVisible = visible
			m.mu.Unlock()
		},
	})
	return m
}

func (m *Model) pushScrollback(line string) {
	m.scrollback = append(m.scrollback, strings.TrimRight(line, " "))
	if over := len(m.scrollback) - m.scrollbackCap; over > 0 {
		m.scrollback = m.scrollback[over:]
	}
}

// Feed advances the VT state machine with a chunk of raw output. It
// never fails: malformed sequences are silently dropped by the embedded
// emulator, per the VT standard. It also returns any OSC 9 / OSC 777
// desktop notifications found in the chunk.
func (m *Model) Feed(data []byte) []Notification {
	m.emu.Write(data)
	notifications := detectNotifications(data)
	return notifications
}

// Resize changes the grid dimensions. Content is truncated or padded per
// the emulator's own resize semantics; the cursor is clamped into
// bounds; scrollback is preserved.
func (m *Model) Resize(cols, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols, m.rows = cols, rows
	m.emu.Resize(cols, rows)
}

// Size returns the current grid dimensions.
func (m *Model) Size() (cols, rows int) {
	return m.cols, m.rows
}

// Cursor reports the cursor's row, column, and visibility.
func (m *Model) Cursor() (row, col int, visible bool) {
	pos := m.emu.CursorPosition()
	m.mu.Lock()
	v := m.cursorVisible
	m.mu.Unlock()
	return pos.Y, pos.X, v
}

// Scrollback returns the evicted rows, oldest first.
func (m *Model) Scrollback() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.scrollback))
	copy(out, m.scrollback)
	return out
}

// ScrollbackLen returns the number of scrollback rows currently held.
func (m *Model) ScrollbackLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scrollback)
}

// Snapshot produces the plain-text and styled-run renderings of the
// current screen.
func (m *Model) Snapshot() Snapshot {
	rows := make([][]cellGlyph, m.rows)
	var textRows []string

	for y := 0; y < m.rows; y++ {
		rowCells := make([]cellGlyph, m.cols)
		var sb strings.Builder
		for x := 0; x < m.cols; x++ {
			cell := m.emu.CellAt(x, y)
			r := rune(' ')
			style := Style{}
			if cell != nil {
				if cell.Content != "" {
					for _, rr := range cell.Content {
						r = rr
						break
					}
				}
				style = cellStyle(cell.Style)
			}
			rowCells[x] = cellGlyph{r: r, style: style}
			sb.WriteRune(r)
		}
		rows[y] = rowCells
		textRows = append(textRows, sb.String())
	}

	return Snapshot{
		Text: strings.Join(textRows, "\n"),
		Runs: buildRuns(rows),
		Seq:  m.emu.Render(),
	}
}

// Close releases the emulator's resources.
func (m *Model) Close() error {
	return m.emu.Close()
}
