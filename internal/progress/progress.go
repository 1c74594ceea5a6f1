package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Bar draws a single-line progress bar. It is safe for concurrent use.
type Bar struct {
	total      int64
	current    int64
	width      int
	writer     io.Writer
	label      string
	mu         sync.Mutex
	lastUpdate time.Time
}

func New(total int64, w io.Writer) *Bar {
	return &Bar{
		total:  total,
		width:  40,
		writer: w,
	}
}

// SetLabel shows s after the counter, e.g. the item being worked on.
func (b *Bar) SetLabel(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.label = s
	b.render()
}

func (b *Bar) Increment() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++

	// Update at most every 100ms to reduce flickering
	now := time.Now()
	if now.Sub(b.lastUpdate) > 100*time.Millisecond || b.current == b.total {
		b.lastUpdate = now
		b.render()
	}
}

// render must be called with mu already locked
func (b *Bar) render() {
	if b.total == 0 {
		return
	}

	filledWidth := int(float64(b.width) * float64(b.current) / float64(b.total))
	if filledWidth > b.width {
		filledWidth = b.width
	}
	bar := strings.Repeat("█", filledWidth) + strings.Repeat("░", b.width-filledWidth)

	var label string
	if b.label != "" {
		label = " | " + b.label
	}

	// Clear the line and write progress
	fmt.Fprintf(b.writer, "\r\033[K[%s] %3d%% (%d/%d)%s",
		bar, int(float64(b.current)/float64(b.total)*100), b.current, b.total, label)
}

func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.total
	b.label = ""
	b.render()
	fmt.Fprintf(b.writer, "\n")
}
