package durable

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestWAL(t *testing.T) *SQLiteWAL {
	t.Helper()
	wal, err := OpenSQLiteWAL(filepath.Join(t.TempDir(), "wal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { wal.Close() })
	return wal
}

func TestSQLiteRecordAndLookup(t *testing.T) {
	wal := openTestWAL(t)
	ctx := context.Background()

	_, found, err := wal.LookupStep(ctx, "run-1", "think:0")
	if err != nil || found {
		t.Fatalf("empty lookup: found=%v err=%v", found, err)
	}

	if err := wal.RecordStep(ctx, "run-1", "think:0", []byte(`"plan"`)); err != nil {
		t.Fatal(err)
	}

	raw, found, err := wal.LookupStep(ctx, "run-1", "think:0")
	if err != nil || !found {
		t.Fatalf("lookup after record: found=%v err=%v", found, err)
	}
	if string(raw) != `"plan"` {
		t.Errorf("raw = %s", raw)
	}
}

func TestSQLiteDuplicateStep(t *testing.T) {
	wal := openTestWAL(t)
	ctx := context.Background()

	if err := wal.RecordStep(ctx, "run-1", "act:0", []byte("1")); err != nil {
		t.Fatal(err)
	}
	err := wal.RecordStep(ctx, "run-1", "act:0", []byte("2"))
	var dup *DuplicateStepError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateStepError", err)
	}
}

func TestSQLitePruneRun(t *testing.T) {
	wal := openTestWAL(t)
	ctx := context.Background()

	wal.RecordStep(ctx, "run-1", "a:0", []byte("1"))
	wal.RecordStep(ctx, "run-2", "a:0", []byte("2"))

	if err := wal.PruneRun(ctx, "run-1"); err != nil {
		t.Fatal(err)
	}

	_, found, _ := wal.LookupStep(ctx, "run-1", "a:0")
	if found {
		t.Error("run-1 not pruned")
	}
	_, found, _ = wal.LookupStep(ctx, "run-2", "a:0")
	if !found {
		t.Error("run-2 pruned unexpectedly")
	}
}

func TestSQLitePruneOlderThan(t *testing.T) {
	wal := openTestWAL(t)
	ctx := context.Background()

	wal.RecordStep(ctx, "stale", "a:0", []byte("1"))

	n, err := wal.PruneOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
}
