package layout

import "sync"

// Breakpoint is the width, in logical pixels, below which the narrow shell is used.
const Breakpoint = 768

// DefaultCellWidth is the number of logical pixels a terminal column stands for.
const DefaultCellWidth = 8

// Mode is the active presentation shell.
type Mode int

const (
	// Wide uses the desktop three-pane shell.
	Wide Mode = iota
	// Narrow uses the mobile full-screen shell.
	Narrow
)

func (m Mode) String() string {
	if m == Narrow {
		return "mobile"
	}
	return "desktop"
}

// IsNarrow reports whether a viewport of widthPx selects the narrow shell.
func IsNarrow(widthPx int) bool {
	return widthPx < Breakpoint
}

// ColumnsToPixels converts a terminal width to logical pixels.
func ColumnsToPixels(columns, cellWidth int) int {
	if cellWidth <= 0 {
		cellWidth = DefaultCellWidth
	}
	return columns * cellWidth
}

// Selector tracks the viewport and the shell it selects.
type Selector struct {
	mu          sync.Mutex
	mode        Mode
	widthPx     int
	subscribers []func(Mode)
}

// NewSelector returns a selector for an initial viewport of widthPx.
func NewSelector(widthPx int) *Selector {
	s := &Selector{widthPx: widthPx}
	s.mode = modeFor(widthPx)
	return s
}

// Mode returns the active shell.
func (s *Selector) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Width returns the last viewport width in logical pixels.
func (s *Selector) Width() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.widthPx
}

// Resize records a new viewport width. Subscribers are called synchronously,
// and only when the active shell changes. It returns the active shell.
func (s *Selector) Resize(widthPx int) Mode {
	s.mu.Lock()
	s.widthPx = widthPx
	mode := modeFor(widthPx)
	if mode == s.mode {
		s.mu.Unlock()
		return mode
	}
	s.mode = mode
	subscribers := append([]func(Mode){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(mode)
	}
	return mode
}

// OnChange registers fn to be called on every shell transition.
func (s *Selector) OnChange(fn func(Mode)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func modeFor(widthPx int) Mode {
	if IsNarrow(widthPx) {
		return Narrow
	}
	return Wide
}
