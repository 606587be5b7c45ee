package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Execution tracks one run through its substeps. Step names auto-index per
// run ("think" becomes think:0, think:1, ...) so loops can reuse a name and
// replay still lines up deterministically. An Execution is confined to one
// goroutine; the supervisor guarantees that.
type Execution struct {
	runID   string
	wal     WAL
	indexes map[string]int
}

func NewExecution(runID string, wal WAL) *Execution {
	return &Execution{runID: runID, wal: wal, indexes: make(map[string]int)}
}

func (ex *Execution) RunID() string { return ex.runID }

// WAL exposes the backing log so a run can hand child executions (sub-agent
// spawns) their own step records in the same store.
func (ex *Execution) WAL() WAL { return ex.wal }

// nextKey reserves the next indexed key for a step name.
func (ex *Execution) nextKey(name string) string {
	i := ex.indexes[name]
	ex.indexes[name] = i + 1
	return fmt.Sprintf("%s:%d", name, i)
}

// Reset rewinds the replay cursor. Called between attempts of the same run
// so the retried pass walks the same step sequence from the top.
func (ex *Execution) Reset() {
	ex.indexes = make(map[string]int)
}

// Step executes fn once per run. If the step already has a recorded result
// (a prior attempt got this far), the result is returned without calling fn.
// Cancellation is honored at the step boundary: a canceled context stops the
// run before the step executes, never mid-flight within recorded state.
func Step[T any](ctx context.Context, ex *Execution, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	key := ex.nextKey(name)

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	recorded, found, err := ex.wal.LookupStep(ctx, ex.runID, key)
	if err != nil {
		return zero, fmt.Errorf("wal lookup %s: %w", key, err)
	}
	if found {
		var out T
		if err := json.Unmarshal(recorded, &out); err != nil {
			return zero, fmt.Errorf("wal replay %s: %w", key, err)
		}
		slog.Debug("step replayed", "run", ex.runID, "step", key)
		return out, nil
	}

	out, err := fn(ctx)
	if err != nil {
		// Failed steps are not recorded; the next attempt re-executes.
		return zero, err
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("wal encode %s: %w", key, err)
	}
	if err := ex.wal.RecordStep(ctx, ex.runID, key, raw); err != nil {
		return zero, err
	}
	return out, nil
}

// Effect runs a side-effecting step with no meaningful return value.
func Effect(ctx context.Context, ex *Execution, name string, fn func(context.Context) error) error {
	_, err := Step(ctx, ex, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry policy for failed runs. Cancellation never retries; everything else
// backs off and replays from the WAL.
const (
	DefaultMaxRetries = 3
	retryBaseDelay    = 2 * time.Second
)

// RunWithRetries drives fn to completion, replaying recorded steps on each
// attempt. fn receives the same Execution every time, with a rewound cursor.
func RunWithRetries(ctx context.Context, ex *Execution, maxRetries int, fn func(context.Context, *Execution) error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			ex.Reset()
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			slog.Warn("run attempt failed, retrying",
				"run", ex.runID, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx, ex)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("run %s failed after %d attempts: %w", ex.runID, maxRetries, lastErr)
}
