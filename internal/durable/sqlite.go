package durable

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS wal_steps (
	run_id      TEXT NOT NULL,
	step        TEXT NOT NULL,
	result      BLOB NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, step)
);
`

// SQLiteWAL persists substep results in a single SQLite database file.
// The database runs in WAL journal mode so step writes survive crashes
// without blocking concurrent lookups.
type SQLiteWAL struct {
	db *sql.DB
}

func OpenSQLiteWAL(path string) (*SQLiteWAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open wal db: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init wal schema: %w", err)
	}
	return &SQLiteWAL{db: db}, nil
}

func (w *SQLiteWAL) LookupStep(ctx context.Context, runID, step string) ([]byte, bool, error) {
	var result []byte
	err := w.db.QueryRowContext(ctx,
		`SELECT result FROM wal_steps WHERE run_id = ? AND step = ?`, runID, step,
	).Scan(&result)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup step %s: %w", step, err)
	}
	return result, true, nil
}

func (w *SQLiteWAL) RecordStep(ctx context.Context, runID, step string, result []byte) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO wal_steps (run_id, step, result, recorded_at) VALUES (?, ?, ?, ?)`,
		runID, step, result, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &DuplicateStepError{RunID: runID, Step: step}
		}
		return fmt.Errorf("record step %s: %w", step, err)
	}
	return nil
}

func (w *SQLiteWAL) PruneRun(ctx context.Context, runID string) error {
	if _, err := w.db.ExecContext(ctx, `DELETE FROM wal_steps WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("prune run %s: %w", runID, err)
	}
	return nil
}

// PruneOlderThan drops records from runs abandoned before the cutoff. Called
// at startup so crashed runs do not accumulate forever.
func (w *SQLiteWAL) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		`DELETE FROM wal_steps WHERE recorded_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune old steps: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (w *SQLiteWAL) Close() error { return w.db.Close() }

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
