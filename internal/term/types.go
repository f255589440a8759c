// Package term maintains the in-memory screen state a conforming VT/ANSI
// terminal of a given geometry would have, and produces snapshots of it.
//
// A Model is owned exclusively by the Session Broker; every method here
// assumes single-threaded access. No mutable terminal-model state is
// touched from more than one goroutine.
package term

// Style describes the SGR attributes of a single cell or run of cells.
type Style struct {
	FG        string // "#rrggbb", empty for the terminal's default foreground
	BG        string // "#rrggbb", empty for the terminal's default background
	Bold      bool
	Italic    bool
	Underline bool
	Inverse   bool
	Blink     bool
}

// Run is a maximal horizontal span of cells sharing one Style.
type Run struct {
	Row   int
	Col   int
	Text  string
	Style Style
}

// Snapshot is an immutable rendering of the Model at one instant.
type Snapshot struct {
	// Text is the plain-text rendering: rows×cols cells, each row padded
	// with spaces to the configured width, rows joined by "\n".
	Text string

	// Runs is the styled-run decomposition of the screen, row-major,
	// left to right.
	Runs []Run

	// Seq is a sequence of SGR-annotated bytes that reproduces Text (and
	// its styling) when fed into a fresh Model of the same geometry.
	Seq string
}

// Notification is a decoded OSC 9 / OSC 777 desktop-notification request
// observed in the output stream.
type Notification struct {
	Tag     string // "notification:osc9" or "notification:osc777"
	Title   string
	Message string
}
