// Package process orchestrates one run: for each episode the feed
// yields, decide whether any work is needed, invoke the transfer, and
// commit the completion to the ledger.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mainmeister/dlclubtwit/internal/feed"
	"github.com/mainmeister/dlclubtwit/internal/ledger"
	"github.com/mainmeister/dlclubtwit/internal/report"
	"github.com/mainmeister/dlclubtwit/internal/transfer"
	"github.com/mainmeister/dlclubtwit/internal/util"
)

// ProgressFactory builds a per-transfer progress observer. May be nil.
type ProgressFactory func(description string, total int64) transfer.Observer

// Processor resolves episodes one at a time, in feed order
type Processor struct {
	Ledger     *ledger.Ledger
	Downloader *transfer.Downloader
	Dest       string

	// SkipDownloads marks every unhandled episode complete without
	// transferring bytes, letting an operator fence off a backlog
	SkipDownloads bool

	Events   *report.EventLogger
	Progress ProgressFactory
}

// Run consumes the feed and processes every episode. Episode-local
// failures are counted and logged but never abort the batch; only
// cancellation or a feed failure stops the run early.
func (p *Processor) Run(ctx context.Context, src *feed.Source) (*report.Summary, error) {
	summary := &report.Summary{}
	start := time.Now()

	err := src.Each(ctx, func(ep feed.Episode) error {
		summary.Processed++
		return p.episode(ctx, ep, summary)
	})

	summary.Duration = time.Since(start)
	return summary, err
}

// episode resolves a single episode. The returned error is non-nil only
// for conditions that should stop the whole batch.
func (p *Processor) episode(ctx context.Context, ep feed.Episode, summary *report.Summary) error {
	filename := ep.Filename()
	finalPath := filepath.Join(p.Dest, filename)
	tempPath := filepath.Join(p.Dest, "."+filename+".part")

	// The ledger is authoritative: no disk or network work needed
	inLedger, err := p.Ledger.Contains(filename)
	if err != nil {
		return fmt.Errorf("ledger lookup for %s: %w", filename, err)
	}
	if inLedger {
		util.DebugLog("Skipping %s: already in ledger", filename)
		p.Events.LogSkipLedger(filename)
		summary.SkippedInLedger++
		return nil
	}

	// File already at its final path, e.g. a prior run crashed after
	// the move but before the ledger commit: backfill the ledger.
	if _, err := os.Stat(finalPath); err == nil {
		util.InfoLog("Found %s on disk, recording as complete", filename)
		if err := p.record(filename); err != nil {
			return err
		}
		p.Events.LogSkipExists(filename)
		summary.SkippedOnDisk++
		return nil
	}

	// Nothing to download; record it so the episode is not
	// re-evaluated on every run
	if ep.MediaURL == "" {
		util.InfoLog("No media URL for %s, recording as handled", filename)
		if err := p.record(filename); err != nil {
			return err
		}
		p.Events.LogNoMedia(filename)
		summary.NoMedia++
		return nil
	}

	if p.SkipDownloads {
		util.InfoLog("Skip mode: marking %s as downloaded", filename)
		if err := p.record(filename); err != nil {
			return err
		}
		p.Events.LogMarked(filename)
		summary.Marked++
		return nil
	}

	return p.download(ctx, ep, filename, tempPath, finalPath, summary)
}

func (p *Processor) download(ctx context.Context, ep feed.Episode, filename, tempPath, finalPath string, summary *report.Summary) error {
	declared := ep.DeclaredLength()

	util.InfoLog("title: %s %s", ep.Title, ep.PubDate)
	util.InfoLog("description: %s", ep.Description)
	util.InfoLog("url: %s length: %s type: %s",
		ep.MediaURL, humanize.Bytes(uint64(declared)), ep.MediaType)
	p.Events.LogDownloadStart(filename, ep.MediaURL, declared)

	req := transfer.Request{
		URL:            ep.MediaURL,
		TempPath:       tempPath,
		FinalPath:      finalPath,
		DeclaredLength: declared,
	}

	var written int64
	if p.Progress != nil {
		obs := p.Progress(filename, declared)
		req.Observer = transfer.ObserverFunc(func(done, total int64) {
			written = done
			obs.Progress(done, total)
		})
		if closer, ok := obs.(interface{ Close() }); ok {
			defer closer.Close()
		}
	} else {
		req.Observer = transfer.ObserverFunc(func(done, total int64) {
			written = done
		})
	}

	start := time.Now()
	err := p.Downloader.Transfer(ctx, req)
	elapsed := time.Since(start)
	p.Events.LogDownloadResult(filename, ep.MediaURL, written, elapsed, err)

	switch {
	case err == nil:
		summary.Downloaded++
		summary.BytesWritten += written
		util.SuccessLog("Downloaded %s (%s)", filename, humanize.Bytes(uint64(written)))
		return p.record(filename)

	case errors.Is(err, util.ErrCancelled):
		// Partial file stays on disk for resumption; stop the batch
		util.WarnLog("Download of %s interrupted, partial file kept for resume", filename)
		return err

	default:
		// Failure stays local to this episode: no ledger entry, so
		// it is retried on the next run
		util.ErrorLog("Failed to download %s: %v", filename, err)
		summary.Failed++
		return nil
	}
}

// record commits a completion to the ledger, tolerating duplicates:
// a concurrent or prior partial commit may have beaten us to it.
func (p *Processor) record(filename string) error {
	err := p.Ledger.Record(filename)
	if err != nil && !errors.Is(err, util.ErrDuplicate) {
		return fmt.Errorf("ledger record for %s: %w", filename, err)
	}
	return nil
}
