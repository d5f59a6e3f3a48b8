package transfer

import (
	"time"

	"github.com/schollz/progressbar/v3"
)

// ConsoleProgress renders transfer progress as a terminal bar. When the
// total length is unknown the bar runs in spinner mode until the server
// discloses it.
type ConsoleProgress struct {
	bar *progressbar.ProgressBar
}

// NewConsoleProgress creates a progress bar for one transfer.
// total <= 0 means the length is not yet known.
func NewConsoleProgress(description string, total int64) *ConsoleProgress {
	if total <= 0 {
		total = -1
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	return &ConsoleProgress{bar: bar}
}

// Progress implements Observer
func (p *ConsoleProgress) Progress(done, total int64) {
	if total > 0 && p.bar.GetMax64() != total {
		p.bar.ChangeMax64(total)
	}
	_ = p.bar.Set64(done)
}

// Close finishes and clears the bar
func (p *ConsoleProgress) Close() {
	_ = p.bar.Finish()
}
