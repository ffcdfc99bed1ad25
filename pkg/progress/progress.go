// Package progress renders per-stage progress on an interactive terminal and a
// final summary line for every stage.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

// Count is one named counter shown in the stage summary
type Count struct {
	Name  string
	Value int
}

// Display tracks the items of one stage
type Display struct {
	mu        sync.Mutex
	stage     string
	total     int
	processed int
	failed    int
	bytes     int64
	current   string
	startTime time.Time

	out   io.Writer
	live  bool
	quiet bool
}

// New creates a display for stage. The live line is drawn only when out is a
// terminal; quiet suppresses all output including the summary.
func New(stage string, total int, out io.Writer, quiet bool) *Display {
	if out == nil {
		out = os.Stdout
	}
	return &Display{
		stage:     stage,
		total:     total,
		startTime: time.Now(),
		out:       out,
		live:      !quiet && IsTerminal(out),
		quiet:     quiet,
	}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SetTotal updates the expected item count
func (p *Display) SetTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
}

// Start marks id as the item in flight
func (p *Display) Start(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = id
	p.draw()
}

// Done records a finished item and the bytes it produced
func (p *Display) Done(id string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	p.bytes += size
	p.current = id
	p.draw()
}

// Fail records a failed item
func (p *Display) Fail(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	p.failed++
	p.current = id
	p.draw()
}

// Processed returns how many items were recorded as done or failed
func (p *Display) Processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

func (p *Display) draw() {
	if !p.live {
		return
	}

	line := fmt.Sprintf("%s %d", Cyan(p.stage), p.processed)
	if p.total > 0 {
		const barWidth = 20
		ratio := float64(p.processed) / float64(p.total)
		if ratio > 1 {
			ratio = 1
		}
		filled := int(ratio * barWidth)
		bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)
		line = fmt.Sprintf("%s [%s] %d/%d", Cyan(p.stage), bar, p.processed, p.total)
	}
	if p.bytes > 0 {
		line += " • " + FormatBytes(p.bytes)
	}
	if p.current != "" {
		line += " • " + p.current
	}
	if p.failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", p.failed))
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// Finish prints the stage summary
func (p *Display) Finish(counts ...Count) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.quiet {
		return
	}
	if p.live {
		fmt.Fprintln(p.out)
	}

	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", c.Name, c.Value))
	}

	mark := "✓"
	if p.live {
		mark = Green(mark)
	}
	fmt.Fprintf(p.out, "%s %s finished in %s: %s\n",
		mark, p.stage, FormatDuration(time.Since(p.startTime)), strings.Join(parts, " "))
	if p.bytes > 0 {
		fmt.Fprintf(p.out, "  • %s written\n", FormatBytes(p.bytes))
	}
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// FormatBytes formats bytes in a human-readable way
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
