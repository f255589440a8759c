package term

import (
	"fmt"
	"image/color"
	"strings"

	uv "github.com/charmbracelet/ultraviolet"
)

// cellStyle converts a charmbracelet/x/vt cell's style into this
// package's Style by reading the attribute bits off cell.Style.Attrs.
func cellStyle(s uv.Style) Style {
	return Style{
		FG:        colorToHex(s.Fg),
		BG:        colorToHex(s.Bg),
		Bold:      s.Attrs&uv.AttrBold != 0,
		Italic:    s.Attrs&uv.AttrItalic != 0,
		Underline: s.Attrs&uv.AttrUnderline != 0,
		Inverse:   s.Attrs&uv.AttrReverse != 0,
		Blink:     s.Attrs&uv.AttrBlink != 0,
	}
}

// colorToHex renders a color.Color as "#rrggbb", or "" for the terminal
// default (nil) color.
func colorToHex(c color.Color) string {
	if c == nil {
		return ""
	}
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

// buildRuns collapses a row-major grid of (rune, Style) cells into
// maximal same-style horizontal runs.
func buildRuns(rows [][]cellGlyph) []Run {
	var runs []Run
	for row, cells := range rows {
		var sb strings.Builder
		runStart := -1
		var runStyle Style

		flush := func(endCol int) {
			if runStart < 0 {
				return
			}
			runs = append(runs, Run{Row: row, Col: runStart, Text: sb.String(), Style: runStyle})
			sb.Reset()
			runStart = -1
		}

		for col, c := range cells {
			if runStart < 0 {
				runStart = col
				runStyle = c.style
			} else if c.style != runStyle {
				flush(col)
				runStart = col
				runStyle = c.style
			}
			if c.r == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteRune(c.r)
			}
		}
		flush(len(cells))
	}
	return runs
}

// cellGlyph is the minimal per-cell data buildRuns needs.
type cellGlyph struct {
	r     rune
	style Style
}
