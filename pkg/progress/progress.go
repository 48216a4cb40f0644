// Package progress renders in-place file-transfer progress for the
// demo binaries. The transport itself never imports this package:
// it is purely a cmd/ concern.
package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apoorvam/goterminal"
	"golang.org/x/term"
)

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Meter tracks one transfer's progress and redraws an in-place bar
// via goterminal, silently no-op'ing when stdout is not a terminal.
type Meter struct {
	writer     *goterminal.Writer
	isTerm     bool
	filename   string
	total      int64
	lastUpdate time.Time
	lastBytes  int64
	emaSpeed   float64
}

func NewMeter(path string, total int64) *Meter {
	return &Meter{
		writer:     goterminal.New(os.Stdout),
		isTerm:     isTerminal(),
		filename:   filepath.Base(path),
		total:      total,
		lastUpdate: time.Now(),
	}
}

// Update redraws the bar for the given cumulative byte count.
func (m *Meter) Update(current int64) {
	if !m.isTerm {
		return
	}

	now := time.Now()
	duration := now.Sub(m.lastUpdate).Seconds()
	delta := current - m.lastBytes
	if duration > 0 {
		speed := float64(delta) / duration
		if m.emaSpeed == 0 {
			m.emaSpeed = speed
		} else {
			m.emaSpeed = 0.1*speed + 0.9*m.emaSpeed
		}
	}
	m.lastUpdate = now
	m.lastBytes = current

	const width = 40
	pct := float64(current) / float64(m.total)
	done := int(pct * float64(width))

	var bar strings.Builder
	bar.WriteByte('[')
	for i := 0; i < width; i++ {
		switch {
		case i < done:
			bar.WriteByte('=')
		case i == done:
			bar.WriteByte('>')
		default:
			bar.WriteByte(' ')
		}
	}
	bar.WriteByte(']')

	speedStr := formatBytes(m.emaSpeed) + "/s"
	if delta == 0 {
		speedStr = "-stalled-"
	}

	line := fmt.Sprintf("%-24s %s %6.2f%% %12s\n", m.filename, bar.String(), pct*100, speedStr)
	m.writer.Clear()
	m.writer.Write([]byte(line))
	m.writer.Print()
}

// Done redraws one final time at 100% and leaves the completed bar in
// place with a trailing newline.
func (m *Meter) Done() {
	if !m.isTerm {
		return
	}
	m.Update(m.total)
	fmt.Println()
}

func formatBytes(n float64) string {
	const unit = 1024.0
	if n < unit {
		return fmt.Sprintf("%.0f B", n)
	}
	div, exp := unit, 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := "KMGTPE"
	return fmt.Sprintf("%.1f %ciB", n/div, units[exp])
}
