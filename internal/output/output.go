package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) RecordingStarted(to string) {
	fmt.Fprintf(f.w, "🎙️  Recording for %s (Ctrl+C to send)\n", to)
}

func (f *Formatter) RecordingStopped(duration time.Duration) {
	fmt.Fprintf(f.w, "\n⏹️  Recording stopped (%s)\n", formatDuration(duration))
}

func (f *Formatter) Notice(msg string) {
	fmt.Fprintf(f.w, "💬 %s\n", msg)
}

func (f *Formatter) Sent(to, mode string) {
	fmt.Fprintf(f.w, "✅ Sent to %s (%s)\n", to, mode)
}

func (f *Formatter) Level(level int) {
	const width = 30
	n := level * width / 32768
	if n > width {
		n = width
	}
	fmt.Fprintf(f.w, "\r🔊 [%s%s]", strings.Repeat("#", n), strings.Repeat(" ", width-n))
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) MessageListHeader() {
	fmt.Fprintf(f.w, "📁 Messages:\n\n")
}

func (f *Formatter) MessageListItem(id, to, mimeType string, size int, at time.Time) {
	icon := "📎"
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		icon = "🎤"
	case strings.HasPrefix(mimeType, "image/"):
		icon = "🖼️ "
	}
	fmt.Fprintf(f.w, "  %s %s  to %-12s %8s  %s\n", icon, id, to, formatSize(size), at.Local().Format("2006-01-02 15:04"))
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

// ProgressBar draws playback progress on one terminal line.
type ProgressBar struct {
	mu   sync.Mutex
	w    io.Writer
	last int
}

func (f *Formatter) ProgressBar() *ProgressBar {
	return &ProgressBar{w: f.w, last: -1}
}

func (p *ProgressBar) SetProgress(percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent == p.last {
		return
	}
	p.last = percent
	const width = 30
	n := percent * width / 100
	fmt.Fprintf(p.w, "\r▶️  [%s%s] %3d%%", strings.Repeat("=", n), strings.Repeat(" ", width-n), percent)
	if percent >= 100 {
		fmt.Fprintln(p.w)
	}
}

func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
