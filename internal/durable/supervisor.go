package durable

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Supervisor enforces the singleton rule: at most one run per session key.
// Starting a run for a key with an in-flight run cancels the old run; the
// old run observes cancellation at its next step boundary and unwinds.
type Supervisor struct {
	mu     sync.Mutex
	active map[string]*Run
	wal    WAL
}

func NewSupervisor(wal WAL) *Supervisor {
	return &Supervisor{active: make(map[string]*Run), wal: wal}
}

// Run is one supervised execution slot for a session.
type Run struct {
	sessionKey string
	ex         *Execution
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	sup        *Supervisor
}

func (r *Run) Context() context.Context { return r.ctx }
func (r *Run) Execution() *Execution    { return r.ex }
func (r *Run) ID() string               { return r.ex.runID }

// Start claims the session slot for a new run, canceling any run currently
// holding it. The displaced run keeps its WAL records until it unwinds, so
// work it completed is never lost mid-step.
func (s *Supervisor) Start(ctx context.Context, sessionKey string) *Run {
	runID := uuid.NewString()

	s.mu.Lock()
	if prev, ok := s.active[sessionKey]; ok && prev.ID() != runID {
		slog.Info("canceling superseded run", "session", sessionKey, "run", prev.ID())
		prev.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		sessionKey: sessionKey,
		ex:         NewExecution(runID, s.wal),
		ctx:        runCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		sup:        s,
	}
	s.active[sessionKey] = run
	s.mu.Unlock()
	return run
}

// Finish releases the session slot and prunes the run's WAL records. The
// run-ID guard keeps a displaced run from releasing the slot its successor
// now owns.
func (r *Run) Finish() {
	r.cancel()
	close(r.done)

	r.sup.mu.Lock()
	if cur, ok := r.sup.active[r.sessionKey]; ok && cur.ID() == r.ID() {
		delete(r.sup.active, r.sessionKey)
	}
	r.sup.mu.Unlock()

	if err := r.sup.wal.PruneRun(context.Background(), r.ID()); err != nil {
		slog.Warn("wal prune failed", "run", r.ID(), "error", err)
	}
}

// Active reports whether a run currently holds the session slot.
func (s *Supervisor) Active(sessionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionKey]
	return ok
}

// CancelAll cancels every in-flight run. Used during shutdown.
func (s *Supervisor) CancelAll() {
	s.mu.Lock()
	runs := make([]*Run, 0, len(s.active))
	for _, r := range s.active {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
}
