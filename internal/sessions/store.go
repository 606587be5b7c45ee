// Package sessions persists conversation history as append-only JSONL files,
// one file per session key under {workspace}/sessions/.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Message roles as persisted on disk.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "toolResult"
)

// Metadata carries optional per-record annotations.
type Metadata struct {
	Iterations int    `json:"iterations,omitempty"`
	ToolCalls  int    `json:"toolCalls,omitempty"`
	Model      string `json:"model,omitempty"`
}

// Record is one persisted session entry.
type Record struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Store reads and writes session files. The singleton concurrency controller
// guarantees at most one writer per session key, so the store itself only
// relies on file-append atomicity.
type Store struct {
	dir string
}

// NewStore creates a session store rooted at {workspace}/sessions.
func NewStore(workspace string) *Store {
	return &Store{dir: filepath.Join(workspace, "sessions")}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".jsonl")
}

// Append adds one record to the session, creating the parent directory and
// file on first use. Timestamps are assigned here so ordering within a
// session follows insertion order.
func (s *Store) Append(key, role, content string, meta *Metadata) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	rec := Record{Role: role, Content: content, Timestamp: time.Now().UTC(), Metadata: meta}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	f, err := os.OpenFile(s.path(key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append session record: %w", err)
	}
	return nil
}

// Load returns the last maxMessages records in insertion order. A missing
// file yields an empty history, and a malformed line is skipped with a
// warning — one bad line must not abort loading.
func (s *Store) Load(key string, maxMessages int) ([]Record, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping malformed session line", "session", key, "line", lineNo, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	if maxMessages > 0 && len(records) > maxMessages {
		records = records[len(records)-maxMessages:]
	}
	return records, nil
}

// Rewrite atomically replaces the session contents. Used only by compaction:
// writes to a temp path in the same directory, then renames over the original.
func (s *Store) Rewrite(key string, records []Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".rewrite-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal session record: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp session file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Exists reports whether a session file is present on disk.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}
