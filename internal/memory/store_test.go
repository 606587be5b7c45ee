package memory

import (
	"strings"
	"testing"
	"time"
)

func TestCuratedNeverSilentlyCreated(t *testing.T) {
	store := NewStore(t.TempDir())
	content, err := store.ReadCurated()
	if err != nil {
		t.Fatalf("ReadCurated: %v", err)
	}
	if content != "" {
		t.Errorf("got %q, want empty", content)
	}
}

func TestWriteAndReadCurated(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.WriteCurated("# Memory\n\n- fact one\n"); err != nil {
		t.Fatalf("WriteCurated: %v", err)
	}
	content, err := store.ReadCurated()
	if err != nil {
		t.Fatalf("ReadCurated: %v", err)
	}
	if !strings.Contains(content, "fact one") {
		t.Errorf("content = %q", content)
	}
}

func TestAppendDailyAddsTimestampHeader(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Date(2026, 8, 24, 9, 30, 15, 0, time.UTC)

	if err := store.AppendDaily("met a new user", now); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	if err := store.AppendDaily("second note", now.Add(time.Minute)); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}

	content, err := store.ReadDailyLog(now)
	if err != nil {
		t.Fatalf("ReadDailyLog: %v", err)
	}
	if !strings.Contains(content, "### 09:30:15") {
		t.Errorf("missing first header: %q", content)
	}
	if !strings.Contains(content, "### 09:31:15") {
		t.Errorf("missing second header: %q", content)
	}
	if strings.Index(content, "met a new user") > strings.Index(content, "second note") {
		t.Error("entries out of order")
	}
}

func TestHeartbeatMarkerRoundTrip(t *testing.T) {
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	curated := WithHeartbeatMarker("# Memory\n\n- a fact", at)

	parsed := ParseLastHeartbeat(curated)
	if !parsed.Equal(at) {
		t.Errorf("parsed %v, want %v", parsed, at)
	}

	stripped := StripHeartbeatMarker(curated)
	if strings.Contains(stripped, "last_heartbeat") {
		t.Errorf("marker not stripped: %q", stripped)
	}
	// Stripping must be idempotent.
	if StripHeartbeatMarker(stripped) != stripped {
		t.Error("StripHeartbeatMarker not idempotent")
	}
}

func TestParseLastHeartbeatAbsent(t *testing.T) {
	if !ParseLastHeartbeat("# Memory with no marker").IsZero() {
		t.Error("expected zero time for missing marker")
	}
	if !ParseLastHeartbeat("last_heartbeat: not-a-timestamp").IsZero() {
		t.Error("expected zero time for malformed marker")
	}
}

func TestWithHeartbeatMarkerReplacesExisting(t *testing.T) {
	first := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)
	second := first.Add(8 * time.Hour)

	curated := WithHeartbeatMarker("facts", first)
	curated = WithHeartbeatMarker(curated, second)

	if n := strings.Count(curated, "last_heartbeat:"); n != 1 {
		t.Errorf("marker count = %d, want 1", n)
	}
	if !ParseLastHeartbeat(curated).Equal(second) {
		t.Errorf("parsed %v, want %v", ParseLastHeartbeat(curated), second)
	}
}

func TestRecentLogsSkipsEmptyDays(t *testing.T) {
	store := NewStore(t.TempDir())
	today := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	if err := store.AppendDaily("today", today); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	if err := store.AppendDaily("three days ago", today.AddDate(0, 0, -3)); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}

	logs, err := store.RecentLogs(today, 7)
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
	if logs[0].Date != "2026-08-21" || logs[1].Date != "2026-08-24" {
		t.Errorf("dates = %s, %s", logs[0].Date, logs[1].Date)
	}
}

func TestPruneLogsRespectsRetention(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	if err := store.AppendDaily("recent", now.AddDate(0, 0, -5)); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	if err := store.AppendDaily("ancient", now.AddDate(0, 0, -45)); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}

	deleted, err := store.PruneLogs(now, 30)
	if err != nil {
		t.Fatalf("PruneLogs: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "2026-07-10.md" {
		t.Errorf("deleted = %v", deleted)
	}
	if store.DailyLogSize(now.AddDate(0, 0, -5)) == 0 {
		t.Error("recent log was deleted")
	}
}
