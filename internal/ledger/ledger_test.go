package ledger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mainmeister/dlclubtwit/internal/util"
)

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test-ledger.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	return l, path
}

func TestOpenAndMigrate(t *testing.T) {
	l, _ := openTestLedger(t)

	version, err := l.getSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	for _, table := range []string{"downloads", "schema_version"} {
		var count int
		err := l.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestContainsRecordRemove(t *testing.T) {
	l, _ := openTestLedger(t)

	const name = "Show Episode 1.mp4"

	ok, err := l.Contains(name)
	if err != nil {
		t.Fatalf("contains failed: %v", err)
	}
	if ok {
		t.Error("expected Contains to be false before Record")
	}

	if err := l.Record(name); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	ok, err = l.Contains(name)
	if err != nil {
		t.Fatalf("contains failed: %v", err)
	}
	if !ok {
		t.Error("expected Contains to be true after Record")
	}

	// A second insert reports a duplicate but leaves the entry intact
	err = l.Record(name)
	if !errors.Is(err, util.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate on second Record, got %v", err)
	}

	ok, _ = l.Contains(name)
	if !ok {
		t.Error("expected Contains to remain true after duplicate Record")
	}

	if err := l.Remove(name); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	ok, _ = l.Contains(name)
	if ok {
		t.Error("expected Contains to be false after Remove")
	}

	// Removing an absent entry is not an error
	if err := l.Remove(name); err != nil {
		t.Errorf("expected idempotent Remove, got %v", err)
	}
}

func TestEntriesOrdering(t *testing.T) {
	l, _ := openTestLedger(t)

	names := []string{"a.mp4", "b.mp4", "c.mp4"}
	for _, name := range names {
		if err := l.Record(name); err != nil {
			t.Fatalf("record %s failed: %v", name, err)
		}
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if len(entries) != len(names) {
		t.Fatalf("expected %d entries, got %d", len(names), len(entries))
	}
	for i, e := range entries {
		if e.Filename != names[i] {
			t.Errorf("entry %d: expected %s, got %s", i, names[i], e.Filename)
		}
		if e.RecordedAt.IsZero() {
			t.Errorf("entry %d: expected a recording timestamp", i)
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	if err := l.Record("persisted.mp4"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Reopening must not disturb existing data
	l, err = Open(path)
	if err != nil {
		t.Fatalf("failed to reopen ledger: %v", err)
	}
	defer l.Close()

	ok, err := l.Contains("persisted.mp4")
	if err != nil {
		t.Fatalf("contains failed: %v", err)
	}
	if !ok {
		t.Error("expected entry to survive reopen")
	}
}
