// Package durable provides the write-ahead substrate for agent runs: named
// substeps whose results are recorded before use, so a retried run replays
// completed work instead of repeating it, and a per-session supervisor that
// enforces the one-run-per-session rule with cancel-on-new-message.
package durable

import (
	"context"
	"sync"
)

// WAL records substep results keyed by (runID, step). Implementations must
// make RecordStep durable before returning; a step whose result was never
// recorded is re-executed on replay, which is safe, while a recorded step is
// never executed twice.
type WAL interface {
	// LookupStep returns the recorded result for a step, if any.
	LookupStep(ctx context.Context, runID, step string) ([]byte, bool, error)
	// RecordStep persists a step result. Recording the same step twice is an
	// error; it indicates a broken replay cursor.
	RecordStep(ctx context.Context, runID, step string, result []byte) error
	// PruneRun drops all records for a completed run.
	PruneRun(ctx context.Context, runID string) error
	Close() error
}

// MemoryWAL is an in-process WAL used by tests and the ephemeral chat
// command, where durability across process restarts is not needed.
type MemoryWAL struct {
	mu    sync.Mutex
	steps map[string]map[string][]byte
}

func NewMemoryWAL() *MemoryWAL {
	return &MemoryWAL{steps: make(map[string]map[string][]byte)}
}

func (w *MemoryWAL) LookupStep(ctx context.Context, runID, step string) ([]byte, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	result, ok := w.steps[runID][step]
	return result, ok, nil
}

func (w *MemoryWAL) RecordStep(ctx context.Context, runID, step string, result []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	run, ok := w.steps[runID]
	if !ok {
		run = make(map[string][]byte)
		w.steps[runID] = run
	}
	if _, exists := run[step]; exists {
		return &DuplicateStepError{RunID: runID, Step: step}
	}
	run[step] = result
	return nil
}

func (w *MemoryWAL) PruneRun(ctx context.Context, runID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.steps, runID)
	return nil
}

func (w *MemoryWAL) Close() error { return nil }

// DuplicateStepError reports a step recorded twice within one run.
type DuplicateStepError struct {
	RunID string
	Step  string
}

func (e *DuplicateStepError) Error() string {
	return "durable: step " + e.Step + " already recorded for run " + e.RunID
}
