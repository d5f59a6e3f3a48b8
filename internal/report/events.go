package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventSkipLedger EventType = "skip_ledger"
	EventSkipExists EventType = "skip_exists"
	EventNoMedia    EventType = "no_media"
	EventMarked     EventType = "marked"
	EventStart      EventType = "download_start"
	EventSuccess    EventType = "download_success"
	EventFailure    EventType = "download_failure"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single lifecycle event in a download run
type Event struct {
	Timestamp time.Time  `json:"ts"`
	RunID     string     `json:"run_id"`
	Level     EventLevel `json:"level"`
	Event     EventType  `json:"event"`
	Filename  string     `json:"filename,omitempty"`
	URL       string     `json:"url,omitempty"`
	Bytes     int64      `json:"bytes,omitempty"`
	Duration  int64      `json:"duration_ms,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// EventLogger writes events to a JSONL file. A nil logger discards
// everything, so callers never have to guard their Log* calls.
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level.
// Each run gets its own file and run ID.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		runID:    uuid.NewString(),
		minLevel: minLevel,
	}, nil
}

// Path returns the event log's file path
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close closes the underlying file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil // Skip events below minimum level
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.RunID = l.runID

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogSkipLedger logs an episode skipped because the ledger already has it
func (l *EventLogger) LogSkipLedger(filename string) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventSkipLedger,
		Filename: filename,
	})
}

// LogSkipExists logs an episode whose final file was found on disk and
// backfilled into the ledger without a download
func (l *EventLogger) LogSkipExists(filename string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventSkipExists,
		Filename: filename,
	})
}

// LogNoMedia logs an episode recorded as handled because its item
// carries no enclosure URL
func (l *EventLogger) LogNoMedia(filename string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventNoMedia,
		Filename: filename,
	})
}

// LogMarked logs an episode marked complete without a transfer (skip mode)
func (l *EventLogger) LogMarked(filename string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventMarked,
		Filename: filename,
	})
}

// LogDownloadStart logs the beginning of a transfer
func (l *EventLogger) LogDownloadStart(filename, url string, declaredLength int64) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventStart,
		Filename: filename,
		URL:      url,
		Bytes:    declaredLength,
	})
}

// LogDownloadResult logs the outcome of a transfer
func (l *EventLogger) LogDownloadResult(filename, url string, bytes int64, duration time.Duration, err error) error {
	level := LevelInfo
	event := EventSuccess
	errMsg := ""
	if err != nil {
		level = LevelError
		event = EventFailure
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:    level,
		Event:    event,
		Filename: filename,
		URL:      url,
		Bytes:    bytes,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}
