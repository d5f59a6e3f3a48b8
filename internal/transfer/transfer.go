// Package transfer downloads a remote resource to a local file,
// resuming from any previously written prefix and retrying transient
// network failures with capped exponential backoff. The final path is
// only ever populated by an atomic rename, so observers never see a
// partially written file.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mainmeister/dlclubtwit/internal/util"
)

// DefaultBlockSize is the chunk size for streaming writes
const DefaultBlockSize = 1 << 20

// Observer receives progress notifications during streaming.
// total is 0 while the length of the resource is still unknown.
type Observer interface {
	Progress(done, total int64)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(done, total int64)

// Progress implements Observer
func (f ObserverFunc) Progress(done, total int64) { f(done, total) }

// Downloader performs resumable transfers
type Downloader struct {
	Client    *http.Client
	BlockSize int

	// BackoffUnit scales the retry delays; it exists so tests do not
	// sleep for real. Zero means one second, the production unit.
	BackoffUnit time.Duration

	// ReadTimeout bounds how long a response may go without
	// delivering any data before the request is abandoned and
	// retried. Zero means 60 seconds.
	ReadTimeout time.Duration
}

// Request describes one transfer
type Request struct {
	URL       string
	TempPath  string
	FinalPath string

	// DeclaredLength is the length published in the feed, 0 when
	// unknown. When unknown, the total is learned from the response
	// headers instead.
	DeclaredLength int64

	Observer Observer
}

// state tracks one in-flight transfer across retries
type state struct {
	bytesDone int64 // confirmed written to the temp file
	total     int64 // 0 until the length is known
}

// statusError is a non-2xx response, always treated as transient
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// transientError marks a mid-stream failure as retryable
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transfer delivers the full content of req.URL to req.FinalPath.
//
// If the final file already exists the transfer succeeds without any
// network traffic. Otherwise the download appends to req.TempPath,
// resuming from its current size via an HTTP range request, and moves
// the temp file into place once complete. Transient network failures
// are retried indefinitely with capped exponential backoff; only
// cancellation or a local filesystem failure aborts the transfer.
// On any failure the temp file is left as written, ready for resume.
func (d *Downloader) Transfer(ctx context.Context, req Request) error {
	// Idempotent against external completion: no network call needed
	if _, err := os.Stat(req.FinalPath); err == nil {
		return nil
	}

	if dir := filepath.Dir(req.FinalPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create destination directory: %w", err)
		}
	}

	st := &state{total: req.DeclaredLength}
	if info, err := os.Stat(req.TempPath); err == nil {
		st.bytesDone = info.Size()
	}

	attempt := 0
	for {
		// Already have every byte: publish without another request
		if st.total > 0 && st.bytesDone >= st.total {
			return d.publish(req)
		}

		done, err := d.fetchOnce(ctx, req, st)
		switch {
		case err == nil:
			// A full request/response cycle succeeded
			attempt = 0
			if done {
				return d.publish(req)
			}

		case ctx.Err() != nil || errors.Is(err, util.ErrCancelled):
			// Keep the partial temp file as the resumption anchor
			return fmt.Errorf("transfer of %s: %w", req.URL, util.ErrCancelled)

		case isTransient(err):
			attempt++
			delay := d.backoffDelay(attempt)
			util.WarnLog("Network error: %v. Retrying in %s...", err, delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("transfer of %s: %w", req.URL, util.ErrCancelled)
			case <-time.After(delay):
			}

		default:
			// Filesystem failure or a request that can never succeed
			return err
		}
	}
}

// fetchOnce performs one request/stream cycle. It returns done=true
// when stream closure itself proves completion (no known total).
func (d *Downloader) fetchOnce(ctx context.Context, req Request, st *state) (bool, error) {
	// Watchdog: when the server stops sending data entirely, abandon
	// the request so the stall surfaces as a transient error and the
	// transfer re-enters the backoff loop instead of hanging forever.
	readCtx, abandon := context.WithCancel(ctx)
	defer abandon()

	var stalled atomic.Bool
	watchdog := time.AfterFunc(d.readTimeout(), func() {
		stalled.Store(true)
		abandon()
	})
	defer watchdog.Stop()

	httpReq, err := http.NewRequestWithContext(readCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resumed := st.bytesDone > 0
	if resumed {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", st.bytesDone))
	}

	resp, err := d.client().Do(httpReq)
	if err != nil {
		if ctx.Err() == nil && stalled.Load() {
			return false, &transientError{err: fmt.Errorf("no data received for %s", d.readTimeout())}
		}
		return false, err
	}
	defer resp.Body.Close()
	watchdog.Reset(d.readTimeout())

	if resumed && resp.StatusCode == http.StatusOK {
		// Server ignored the range request, so its resume support is
		// untrustworthy: discard the partial file and start over.
		util.WarnLog("Server ignored range request, restarting %s from scratch", req.URL)
		if err := os.Remove(req.TempPath); err != nil {
			return false, fmt.Errorf("failed to discard partial file: %w", err)
		}
		st.bytesDone = 0
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return false, &statusError{code: resp.StatusCode}
	}

	if st.total <= 0 {
		st.total = totalFromResponse(resp, st.bytesDone)
	}

	f, err := os.OpenFile(req.TempPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open temp file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, d.blockSize())
	for {
		select {
		case <-ctx.Done():
			return false, util.ErrCancelled
		default:
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(d.readTimeout())
			if _, werr := f.Write(buf[:n]); werr != nil {
				return false, fmt.Errorf("failed to write temp file: %w", werr)
			}
			st.bytesDone += int64(n)
			if req.Observer != nil {
				req.Observer.Progress(st.bytesDone, st.total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return false, util.ErrCancelled
			}
			if stalled.Load() {
				return false, &transientError{err: fmt.Errorf("no data received for %s", d.readTimeout())}
			}
			return false, &transientError{err: rerr}
		}
	}

	// Stream closed cleanly. If the server never disclosed a total,
	// closure is the only completion signal we get.
	return st.total <= 0, nil
}

// publish moves the finished temp file to the final path. Both live in
// the same directory, so the rename is atomic and observers of the
// final path never see partial content.
func (d *Downloader) publish(req Request) error {
	if err := os.Rename(req.TempPath, req.FinalPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

// totalFromResponse derives the resource's total length from response
// headers, preferring Content-Range. Returns 0 when the server did not
// disclose it.
func totalFromResponse(resp *http.Response, bytesDone int64) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if total, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil && total > 0 {
				return total
			}
		}
	}

	// Content-Length covers only the remainder when resuming
	if resp.ContentLength >= 0 {
		return bytesDone + resp.ContentLength
	}

	return 0
}

// backoffDelay implements min(60, 2^min(attempt, 6)) backoff units
func (d *Downloader) backoffDelay(attempt int) time.Duration {
	unit := d.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}

	exp := attempt
	if exp > 6 {
		exp = 6
	}

	units := int64(1) << uint(exp)
	if units > 60 {
		units = 60
	}
	return time.Duration(units) * unit
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return true
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	return util.IsRetryableError(err)
}

// defaultClient bounds connection setup and the wait for response
// headers. Mid-body stalls are covered by the per-request watchdog in
// fetchOnce, so no whole-request timeout is set: downloads legitimately
// run for hours.
var defaultClient = &http.Client{
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	},
}

func (d *Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return defaultClient
}

func (d *Downloader) readTimeout() time.Duration {
	if d.ReadTimeout > 0 {
		return d.ReadTimeout
	}
	return 60 * time.Second
}

func (d *Downloader) blockSize() int {
	if d.BlockSize > 0 {
		return d.BlockSize
	}
	return DefaultBlockSize
}
