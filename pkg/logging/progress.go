package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressBar tracks how many hosts of a run have reached a terminal outcome.
type ProgressBar struct {
	mu        sync.Mutex
	writer    io.Writer
	total     int
	done      int
	leaked    int
	failed    int
	startTime time.Time
	width     int
	color     bool
	enabled   bool
	lastLen   int
}

// NewProgressBar creates a progress bar for total hosts. A disabled bar
// accepts updates but never renders.
func NewProgressBar(writer io.Writer, total int, color bool, enabled bool) *ProgressBar {
	return &ProgressBar{
		writer:    writer,
		total:     total,
		startTime: time.Now(),
		width:     30,
		color:     color,
		enabled:   enabled,
	}
}

// HostDone records one finished host.
func (p *ProgressBar) HostDone(leaked, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done < p.total {
		p.done++
	}
	if leaked {
		p.leaked++
	}
	if failed {
		p.failed++
	}
	p.render()
}

// Finish completes the progress bar.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render()
	if p.enabled {
		fmt.Fprintln(p.writer)
	}
}

// Counts returns finished, leaked and failed host counts.
func (p *ProgressBar) Counts() (done, leaked, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.leaked, p.failed
}

func (p *ProgressBar) render() {
	if !p.enabled {
		return
	}
	if p.lastLen > 0 {
		fmt.Fprintf(p.writer, "\r%s\r", strings.Repeat(" ", p.lastLen))
	}

	filled := 0
	percentage := 0.0
	if p.total > 0 {
		filled = p.width * p.done / p.total
		percentage = float64(p.done) / float64(p.total) * 100
	}

	green, red, reset := "", "", ""
	if p.color {
		green, red, reset = "\033[32m", "\033[31m", "\033[0m"
	}

	line := fmt.Sprintf("hosts [%s%s] %5.1f%% %d/%d | loot %s%d%s | failed %s%d%s | %s",
		strings.Repeat("#", filled), strings.Repeat("-", p.width-filled),
		percentage, p.done, p.total,
		green, p.leaked, reset,
		red, p.failed, reset,
		formatDuration(time.Since(p.startTime)),
	)
	p.lastLen = len(line)
	fmt.Fprint(p.writer, line)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
