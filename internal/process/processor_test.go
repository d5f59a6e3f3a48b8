package process

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/mainmeister/dlclubtwit/internal/feed"
	"github.com/mainmeister/dlclubtwit/internal/ledger"
	"github.com/mainmeister/dlclubtwit/internal/transfer"
)

func newTestProcessor(t *testing.T) (*Processor, string) {
	t.Helper()

	dest := t.TempDir()
	led, err := ledger.Open(filepath.Join(dest, "test.db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	return &Processor{
		Ledger: led,
		Downloader: &transfer.Downloader{
			BlockSize:   64,
			BackoffUnit: time.Millisecond,
		},
		Dest: dest,
	}, dest
}

func feedServer(t *testing.T, items string) *feed.Source {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel>%s</channel></rss>`, items)
	}))
	t.Cleanup(srv.Close)

	return feed.NewSource(srv.URL)
}

func mediaServer(t *testing.T, content []byte) (*httptest.Server, *int) {
	t.Helper()

	requests := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*requests++
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.Write(content)
	}))
	t.Cleanup(srv.Close)

	return srv, requests
}

func TestEndToEndRun(t *testing.T) {
	content := bytes.Repeat([]byte("m"), 1000)
	media, _ := mediaServer(t, content)

	items := fmt.Sprintf(
		`<item><title>Ep: One/Two</title><enclosure url="%s/ep1.mp4" length="1000" type="video/mp4"/></item>`,
		media.URL)

	proc, dest := newTestProcessor(t)
	summary, err := proc.Run(context.Background(), feedServer(t, items))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.Processed != 1 || summary.Downloaded != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	// The identifier sanitizes to a filename with no ':' or '/'
	ok, err := proc.Ledger.Contains("Ep OneTwo.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected ledger to contain the sanitized filename")
	}

	info, err := os.Stat(filepath.Join(dest, "Ep OneTwo.mp4"))
	if err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	if info.Size() != 1000 {
		t.Errorf("final file has %d bytes, want 1000", info.Size())
	}

	if _, err := os.Stat(filepath.Join(dest, ".Ep OneTwo.mp4.part")); !os.IsNotExist(err) {
		t.Error("expected temp file to be gone")
	}
}

func TestNoMediaURLRecordedWithoutFiles(t *testing.T) {
	items := `<item><title>Talk Only</title></item>`

	proc, dest := newTestProcessor(t)
	summary, err := proc.Run(context.Background(), feedServer(t, items))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.NoMedia != 1 {
		t.Errorf("expected 1 no-media episode, got %d", summary.NoMedia)
	}

	ok, _ := proc.Ledger.Contains("Talk Only.mp4")
	if !ok {
		t.Error("expected URL-less episode to be recorded as handled")
	}

	matches, _ := filepath.Glob(filepath.Join(dest, "*.mp4*"))
	if len(matches) != 0 {
		t.Errorf("expected no media files on disk, found %v", matches)
	}
}

func TestLedgerSkipAvoidsAllWork(t *testing.T) {
	media, requests := mediaServer(t, []byte("data"))

	items := fmt.Sprintf(
		`<item><title>Done Already</title><enclosure url="%s/done.mp4" length="4" type="video/mp4"/></item>`,
		media.URL)

	proc, _ := newTestProcessor(t)
	if err := proc.Ledger.Record("Done Already.mp4"); err != nil {
		t.Fatal(err)
	}

	summary, err := proc.Run(context.Background(), feedServer(t, items))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.SkippedInLedger != 1 {
		t.Errorf("expected 1 ledger skip, got %d", summary.SkippedInLedger)
	}
	if *requests != 0 {
		t.Errorf("expected no media requests, got %d", *requests)
	}
}

func TestExistingFileBackfillsLedger(t *testing.T) {
	media, requests := mediaServer(t, []byte("data"))

	items := fmt.Sprintf(
		`<item><title>On Disk</title><enclosure url="%s/od.mp4" length="4" type="video/mp4"/></item>`,
		media.URL)

	proc, dest := newTestProcessor(t)
	if err := os.WriteFile(filepath.Join(dest, "On Disk.mp4"), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	summary, err := proc.Run(context.Background(), feedServer(t, items))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.SkippedOnDisk != 1 {
		t.Errorf("expected 1 on-disk skip, got %d", summary.SkippedOnDisk)
	}
	if *requests != 0 {
		t.Errorf("expected no media requests, got %d", *requests)
	}

	ok, _ := proc.Ledger.Contains("On Disk.mp4")
	if !ok {
		t.Error("expected the on-disk file to be backfilled into the ledger")
	}
}

func TestSkipModeMarksWithoutTransfer(t *testing.T) {
	media, requests := mediaServer(t, []byte("data"))

	items := fmt.Sprintf(
		`<item><title>Backlog</title><enclosure url="%s/b.mp4" length="4" type="video/mp4"/></item>`,
		media.URL)

	proc, dest := newTestProcessor(t)
	proc.SkipDownloads = true

	summary, err := proc.Run(context.Background(), feedServer(t, items))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.Marked != 1 {
		t.Errorf("expected 1 marked episode, got %d", summary.Marked)
	}
	if *requests != 0 {
		t.Errorf("expected no media requests in skip mode, got %d", *requests)
	}

	ok, _ := proc.Ledger.Contains("Backlog.mp4")
	if !ok {
		t.Error("expected skip mode to record the episode")
	}
	if _, err := os.Stat(filepath.Join(dest, "Backlog.mp4")); !os.IsNotExist(err) {
		t.Error("expected no file on disk in skip mode")
	}
}

func TestFailedEpisodeDoesNotAbortBatch(t *testing.T) {
	content := []byte("second episode data")
	media, _ := mediaServer(t, content)

	items := fmt.Sprintf(
		`<item><title>Broken</title><enclosure url="bogus://nowhere/x.mp4" length="10" type="video/mp4"/></item>`+
			`<item><title>Working</title><enclosure url="%s/w.mp4" length="%d" type="video/mp4"/></item>`,
		media.URL, len(content))

	proc, dest := newTestProcessor(t)
	summary, err := proc.Run(context.Background(), feedServer(t, items))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.Failed != 1 {
		t.Errorf("expected 1 failed episode, got %d", summary.Failed)
	}
	if summary.Downloaded != 1 {
		t.Errorf("expected 1 downloaded episode, got %d", summary.Downloaded)
	}

	// The failed episode stays out of the ledger so the next run
	// retries it; the good one is committed
	if ok, _ := proc.Ledger.Contains("Broken.mp4"); ok {
		t.Error("failed episode must not be recorded")
	}
	if ok, _ := proc.Ledger.Contains("Working.mp4"); !ok {
		t.Error("expected the working episode to be recorded")
	}

	if _, err := os.Stat(filepath.Join(dest, "Working.mp4")); err != nil {
		t.Errorf("expected the working episode's file on disk: %v", err)
	}
}
