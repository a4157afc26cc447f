package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/tanq16/splitfetch/internal/bridge"
	"golang.org/x/term"
)

// FormatBytes converts bytes to human-readable format
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytes int64, elapsed time.Duration) string {
	if elapsed <= 0 || bytes <= 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed.Seconds()
	return FormatBytes(uint64(bps)) + "/s"
}

func newBar() progress.Model {
	return progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)
}

// progressLine renders one transfer as bar, percentage, byte counts and speed.
// Unknown totals get no bar.
func progressLine(bar progress.Model, p bridge.Progress, elapsed time.Duration) string {
	speed := FormatSpeed(p.Transferred, elapsed)
	if p.Total < 0 {
		return fmt.Sprintf("%s %s %s", FormatBytes(uint64(max(p.Transferred, 0))), StyleSymbols["bullet"], speed)
	}
	return fmt.Sprintf("%s %5.1f%% %s %s / %s %s %s",
		bar.ViewAs(p.Fraction()),
		p.Fraction()*100,
		StyleSymbols["bullet"],
		FormatBytes(uint64(max(p.Transferred, 0))),
		FormatBytes(uint64(p.Total)),
		StyleSymbols["bullet"],
		speed,
	)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalHeight(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if _, height, err := term.GetSize(int(f.Fd())); err == nil && height > 0 {
			return height
		}
	}
	return 24
}

func indent(n int) string {
	return strings.Repeat(" ", n)
}
