package durable

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestStepExecutesOncePerKey(t *testing.T) {
	wal := NewMemoryWAL()
	ctx := context.Background()

	var calls int32
	run := func(ex *Execution) (string, error) {
		return Step(ctx, ex, "think", func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "answer", nil
		})
	}

	ex := NewExecution("run-1", wal)
	out, err := run(ex)
	if err != nil || out != "answer" {
		t.Fatalf("first pass: %q %v", out, err)
	}

	// Second attempt of the same run replays from the WAL.
	ex.Reset()
	out, err = run(ex)
	if err != nil || out != "answer" {
		t.Fatalf("replay: %q %v", out, err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestStepAutoIndexing(t *testing.T) {
	wal := NewMemoryWAL()
	ctx := context.Background()
	ex := NewExecution("run-1", wal)

	for i, want := range []string{"first", "second", "third"} {
		out, err := Step(ctx, ex, "think", func(context.Context) (string, error) {
			return want, nil
		})
		if err != nil || out != want {
			t.Fatalf("iteration %d: %q %v", i, out, err)
		}
	}

	// Each call got its own key.
	for i, want := range []string{"first", "second", "third"} {
		raw, found, err := wal.LookupStep(ctx, "run-1", "think:"+string(rune('0'+i)))
		if err != nil || !found {
			t.Fatalf("think:%d not recorded: %v", i, err)
		}
		if !strings.Contains(string(raw), want) {
			t.Errorf("think:%d = %s, want %s", i, raw, want)
		}
	}
}

func TestStepFailedNotRecorded(t *testing.T) {
	wal := NewMemoryWAL()
	ctx := context.Background()
	ex := NewExecution("run-1", wal)

	boom := errors.New("provider down")
	var calls int

	attempt := func() (string, error) {
		return Step(ctx, ex, "think", func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", boom
			}
			return "recovered", nil
		})
	}

	if _, err := attempt(); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	ex.Reset()
	out, err := attempt()
	if err != nil || out != "recovered" {
		t.Fatalf("retry: %q %v", out, err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestStepHonorsCancellationAtBoundary(t *testing.T) {
	wal := NewMemoryWAL()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := NewExecution("run-1", wal)
	_, err := Step(ctx, ex, "think", func(context.Context) (string, error) {
		t.Fatal("step body must not run after cancellation")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRunWithRetriesReplaysCompletedSteps(t *testing.T) {
	wal := NewMemoryWAL()
	ex := NewExecution("run-1", wal)

	var thinkCalls, actCalls, attempts int

	err := RunWithRetries(context.Background(), ex, 3, func(ctx context.Context, ex *Execution) error {
		attempts++
		if _, err := Step(ctx, ex, "think", func(context.Context) (string, error) {
			thinkCalls++
			return "plan", nil
		}); err != nil {
			return err
		}
		_, err := Step(ctx, ex, "act", func(context.Context) (string, error) {
			actCalls++
			if actCalls == 1 {
				return "", errors.New("transient")
			}
			return "done", nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if thinkCalls != 1 {
		t.Errorf("think executed %d times, want 1 (replayed on retry)", thinkCalls)
	}
	if actCalls != 2 {
		t.Errorf("act executed %d times, want 2", actCalls)
	}
}

func TestRunWithRetriesGivesUp(t *testing.T) {
	wal := NewMemoryWAL()
	ex := NewExecution("run-1", wal)

	err := RunWithRetries(context.Background(), ex, 2, func(ctx context.Context, ex *Execution) error {
		return errors.New("always fails")
	})
	if err == nil || !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("err = %v", err)
	}
}

func TestSupervisorCancelsSupersededRun(t *testing.T) {
	sup := NewSupervisor(NewMemoryWAL())
	ctx := context.Background()

	first := sup.Start(ctx, "telegram:42")
	second := sup.Start(ctx, "telegram:42")

	select {
	case <-first.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("first run not canceled by second")
	}
	if second.Context().Err() != nil {
		t.Fatal("second run must not be canceled")
	}

	// The displaced run finishing must not release the new run's slot.
	first.Finish()
	if !sup.Active("telegram:42") {
		t.Fatal("slot released by displaced run")
	}

	second.Finish()
	if sup.Active("telegram:42") {
		t.Fatal("slot still held after owner finished")
	}
}

func TestSupervisorIsolatesSessions(t *testing.T) {
	sup := NewSupervisor(NewMemoryWAL())
	ctx := context.Background()

	a := sup.Start(ctx, "telegram:1")
	b := sup.Start(ctx, "telegram:2")
	defer a.Finish()
	defer b.Finish()

	if a.Context().Err() != nil || b.Context().Err() != nil {
		t.Fatal("runs in different sessions must not cancel each other")
	}
}

func TestFinishPrunesWAL(t *testing.T) {
	wal := NewMemoryWAL()
	sup := NewSupervisor(wal)
	ctx := context.Background()

	run := sup.Start(ctx, "s1")
	if err := Effect(ctx, run.Execution(), "persist", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	run.Finish()

	_, found, _ := wal.LookupStep(ctx, run.ID(), "persist:0")
	if found {
		t.Error("WAL records not pruned after Finish")
	}
}

func TestDuplicateStepRejected(t *testing.T) {
	wal := NewMemoryWAL()
	ctx := context.Background()
	if err := wal.RecordStep(ctx, "r", "s:0", []byte("1")); err != nil {
		t.Fatal(err)
	}
	err := wal.RecordStep(ctx, "r", "s:0", []byte("2"))
	var dup *DuplicateStepError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateStepError", err)
	}
}
