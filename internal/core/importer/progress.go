package importer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ProgressCallback defines the interface for progress reporting
type ProgressCallback interface {
	// SetTotal is called once before streaming; 0 means indeterminate.
	SetTotal(total int64)
	Update(current int64)
	Finish()
}

// ProgressReporter draws a single-line progress bar
type ProgressReporter struct {
	writer    io.Writer
	bytes     bool
	total     int64
	current   int64
	startTime time.Time
	lastDraw  time.Time
	interval  time.Duration
}

// NewProgressReporter creates a new progress reporter. With bytes set the bar
// counts input bytes instead of elements.
func NewProgressReporter(w io.Writer, bytes bool) *ProgressReporter {
	return &ProgressReporter{
		writer:    w,
		bytes:     bytes,
		startTime: time.Now(),
		interval:  100 * time.Millisecond,
	}
}

func (p *ProgressReporter) SetTotal(total int64) {
	p.total = total
	p.startTime = time.Now()
}

// Update records progress and redraws at most once per interval
func (p *ProgressReporter) Update(current int64) {
	p.current = current
	if time.Since(p.lastDraw) < p.interval && current != p.total {
		return
	}
	p.lastDraw = time.Now()
	p.draw()
}

func (p *ProgressReporter) amount(n int64) string {
	if p.bytes {
		return humanize.Bytes(uint64(n))
	}
	return humanize.Comma(n)
}

func (p *ProgressReporter) draw() {
	elapsed := time.Since(p.startTime)

	if p.total <= 0 {
		_, _ = fmt.Fprintf(p.writer, "\rProcessed %s (%s)", p.amount(p.current), elapsed.Round(time.Second))
		return
	}

	current := p.current
	if current > p.total {
		current = p.total
	}
	pct := float64(current) / float64(p.total) * 100

	// Draw progress bar (50 chars wide)
	barWidth := 50
	filled := int(float64(barWidth) * float64(current) / float64(p.total))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	var eta time.Duration
	if current > 0 && elapsed > 0 {
		rate := float64(current) / elapsed.Seconds()
		eta = time.Duration(float64(p.total-current)/rate) * time.Second
	}

	_, _ = fmt.Fprintf(p.writer, "\r[%s] %3.0f%% (%s/%s) ETA: %s",
		bar, pct, p.amount(current), p.amount(p.total), eta.Round(time.Second))
}

// Finish completes the progress display
func (p *ProgressReporter) Finish() {
	p.draw()
	elapsed := time.Since(p.startTime)
	_, _ = fmt.Fprintf(p.writer, "\nProcessed %s in %s\n", p.amount(p.current), elapsed.Round(time.Millisecond))
}

type noProgress struct{}

func (noProgress) SetTotal(int64) {}
func (noProgress) Update(int64)   {}
func (noProgress) Finish()        {}
