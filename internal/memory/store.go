// Package memory manages the agent's long-term memory files: a curated
// MEMORY.md, optional SOUL.md / USER.md identity files, and append-only
// per-day logs under {workspace}/memory/.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Well-known workspace files.
const (
	CuratedFile = "MEMORY.md"
	SoulFile    = "SOUL.md"
	UserFile    = "USER.md"
)

const dailyDirName = "memory"

// heartbeatMarker matches the `last_heartbeat: <ISO instant>` line embedded
// in curated memory.
var heartbeatMarker = regexp.MustCompile(`(?m)^last_heartbeat:\s*(\S+)\s*$`)

// Store reads and writes memory artifacts under one workspace root.
type Store struct {
	workspace string
}

func NewStore(workspace string) *Store {
	return &Store{workspace: workspace}
}

func (s *Store) dailyDir() string {
	return filepath.Join(s.workspace, dailyDirName)
}

// DailyLogPath returns the path of the log file for a given day.
func (s *Store) DailyLogPath(day time.Time) string {
	return filepath.Join(s.dailyDir(), day.UTC().Format("2006-01-02")+".md")
}

// ReadCurated returns the curated memory contents, or "" when the file does
// not exist. Curated memory is never silently created.
func (s *Store) ReadCurated() (string, error) {
	return s.readOptional(filepath.Join(s.workspace, CuratedFile))
}

// ReadSoul returns SOUL.md contents, or "" when absent.
func (s *Store) ReadSoul() (string, error) {
	return s.readOptional(filepath.Join(s.workspace, SoulFile))
}

// ReadUser returns USER.md contents, or "" when absent.
func (s *Store) ReadUser() (string, error) {
	return s.readOptional(filepath.Join(s.workspace, UserFile))
}

func (s *Store) readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return string(data), nil
}

// WriteCurated atomically replaces curated memory. The heartbeat writes
// concurrently with agent runs, so write-temp-then-rename is required.
func (s *Store) WriteCurated(content string) error {
	if err := os.MkdirAll(s.workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	path := filepath.Join(s.workspace, CuratedFile)
	tmp, err := os.CreateTemp(s.workspace, CuratedFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp memory file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp memory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp memory file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace memory file: %w", err)
	}
	return nil
}

// ReadDailyLog returns the log for a given day, or "" when absent.
func (s *Store) ReadDailyLog(day time.Time) (string, error) {
	return s.readOptional(s.DailyLogPath(day))
}

// AppendDaily appends a timestamped entry to today's log. Daily logs are
// append-only within a day; appends rely on file-append atomicity.
func (s *Store) AppendDaily(note string, now time.Time) error {
	if err := os.MkdirAll(s.dailyDir(), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	entry := fmt.Sprintf("### %s\n%s\n\n", now.UTC().Format("15:04:05"), strings.TrimSpace(note))

	f, err := os.OpenFile(s.DailyLogPath(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open daily log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append daily log: %w", err)
	}
	return nil
}

// DailyLogSize returns the byte size of a day's log, 0 when absent.
func (s *Store) DailyLogSize(day time.Time) int64 {
	info, err := os.Stat(s.DailyLogPath(day))
	if err != nil {
		return 0
	}
	return info.Size()
}

// RecentLogs returns (date, content) pairs for the last n days with non-empty
// logs, oldest first, ending at the given day.
func (s *Store) RecentLogs(endDay time.Time, n int) ([]DatedLog, error) {
	var logs []DatedLog
	for i := n - 1; i >= 0; i-- {
		day := endDay.AddDate(0, 0, -i)
		content, err := s.ReadDailyLog(day)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		logs = append(logs, DatedLog{Date: day.UTC().Format("2006-01-02"), Content: content})
	}
	return logs, nil
}

// DatedLog pairs a day's date string with its log content.
type DatedLog struct {
	Date    string
	Content string
}

// PruneLogs deletes daily log files older than the retention window.
// Returns the names of deleted files.
func (s *Store) PruneLogs(now time.Time, retentionDays int) ([]string, error) {
	entries, err := os.ReadDir(s.dailyDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memory dir: %w", err)
	}

	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	var deleted []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ".md"))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dailyDir(), name)); err != nil {
				return deleted, fmt.Errorf("remove old log %s: %w", name, err)
			}
			deleted = append(deleted, name)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// ParseLastHeartbeat extracts the last_heartbeat marker from curated memory.
// Returns the zero time when the marker is absent or malformed.
func ParseLastHeartbeat(curated string) time.Time {
	m := heartbeatMarker.FindStringSubmatch(curated)
	if m == nil {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return time.Time{}
	}
	return ts
}

// StripHeartbeatMarker removes any last_heartbeat lines. Idempotent.
func StripHeartbeatMarker(curated string) string {
	stripped := heartbeatMarker.ReplaceAllString(curated, "")
	return strings.TrimRight(stripped, "\n")
}

// WithHeartbeatMarker appends a fresh marker to curated memory content.
func WithHeartbeatMarker(curated string, at time.Time) string {
	body := StripHeartbeatMarker(curated)
	if body != "" {
		body += "\n\n"
	}
	return body + "last_heartbeat: " + at.UTC().Format(time.RFC3339) + "\n"
}
