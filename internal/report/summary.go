package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Summary accumulates per-run counters across all processed episodes
type Summary struct {
	Processed       int
	SkippedInLedger int
	SkippedOnDisk   int
	NoMedia         int
	Marked          int
	Downloaded      int
	Failed          int
	BytesWritten    int64
	Duration        time.Duration
}

// Render writes the end-of-run summary table
func (s *Summary) Render(w io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)

	tw.AppendHeader(table.Row{"Result", "Count"})
	tw.AppendRows([]table.Row{
		{"Episodes processed", s.Processed},
		{"Skipped (in ledger)", s.SkippedInLedger},
		{"Skipped (file on disk)", s.SkippedOnDisk},
		{"No media URL", s.NoMedia},
		{"Marked without download", s.Marked},
		{"Downloaded", s.Downloaded},
		{"Failed", s.Failed},
	})
	tw.AppendFooter(table.Row{
		"Written",
		fmt.Sprintf("%s in %s", humanize.Bytes(uint64(s.BytesWritten)), s.Duration.Round(time.Second)),
	})

	tw.Render()
}
