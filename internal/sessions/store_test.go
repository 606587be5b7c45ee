package sessions

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.Append("telegram-42", RoleUser, "hello", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append("telegram-42", RoleAssistant, "hi there", &Metadata{Iterations: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := store.Load("telegram-42", 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Role != RoleUser || records[0].Content != "hello" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].Metadata == nil || records[1].Metadata.Iterations != 1 {
		t.Errorf("metadata not preserved: %+v", records[1])
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())
	records, err := store.Load("no-such-session", 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestLoadMaxMessagesKeepsTail(t *testing.T) {
	store := NewStore(t.TempDir())
	for i := 0; i < 5; i++ {
		content := string(rune('a' + i))
		if err := store.Append("k", RoleUser, content, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := store.Load("k", 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Content != "d" || records[1].Content != "e" {
		t.Errorf("tail = [%s, %s], want [d, e]", records[0].Content, records[1].Content)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := store.Append("k", RoleUser, "first", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Inject a corrupt line between two valid records.
	path := filepath.Join(dir, "sessions", "k.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{not valid json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	if err := store.Append("k", RoleAssistant, "second", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := store.Load("k", 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (malformed line skipped)", len(records))
	}
	if records[0].Content != "first" || records[1].Content != "second" {
		t.Errorf("records = %+v", records)
	}
}

func TestRewriteReplacesAtomically(t *testing.T) {
	store := NewStore(t.TempDir())
	for i := 0; i < 4; i++ {
		if err := store.Append("k", RoleUser, "old", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	now := time.Now().UTC()
	if err := store.Rewrite("k", []Record{
		{Role: RoleUser, Content: "summary", Timestamp: now},
		{Role: RoleAssistant, Content: "kept", Timestamp: now},
	}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	records, err := store.Load("k", 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Content != "summary" || records[1].Content != "kept" {
		t.Errorf("records = %+v", records)
	}
}

func TestTimestampsMonotonic(t *testing.T) {
	store := NewStore(t.TempDir())
	for i := 0; i < 10; i++ {
		if err := store.Append("k", RoleUser, "m", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	records, err := store.Load("k", 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.Before(records[i-1].Timestamp) {
			t.Errorf("timestamp %d precedes %d", i, i-1)
		}
	}
}

func TestSessionKeys(t *testing.T) {
	if got := BuildKey("telegram", "12345"); got != "telegram-12345" {
		t.Errorf("BuildKey = %q", got)
	}
	if got := BuildThreadKey("discord", "guild/1", "77"); got != "discord-guild_1-77" {
		t.Errorf("BuildThreadKey = %q", got)
	}
	sub := BuildSubKey("telegram-12345", time.UnixMilli(1700000000000))
	if sub != "sub-telegram-12345-1700000000000" {
		t.Errorf("BuildSubKey = %q", sub)
	}
	if !IsSubSession(sub) {
		t.Error("IsSubSession(sub) = false")
	}
	if IsSubSession("telegram-12345") {
		t.Error("IsSubSession(main) = true")
	}
}
