// Package heartbeat runs the memory maintenance cron: an adaptive job that
// distills append-only daily logs into curated long-term memory, then prunes
// logs past retention.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/lodestarhq/lodestar/internal/config"
	"github.com/lodestarhq/lodestar/internal/durable"
	"github.com/lodestarhq/lodestar/internal/memory"
	"github.com/lodestarhq/lodestar/internal/providers"
)

const distillWindowDays = 7

const distillSystemPrompt = `You maintain an agent's long-term memory file. Merge the existing memory with the recent daily notes into one updated memory document. Keep durable facts, preferences, and ongoing threads; drop ephemera and resolved items. Output only the memory document in markdown.`

const distillTemplate = `## Existing memory

%s

## Recent daily notes

%s`

// Heartbeat distills daily logs into curated memory on a cron schedule.
type Heartbeat struct {
	cfg      config.HeartbeatConfig
	provider providers.Provider
	memory   *memory.Store
	wal      durable.WAL
	model    string
	gron     *gronx.Gronx
}

func New(cfg config.HeartbeatConfig, provider providers.Provider, mem *memory.Store, wal durable.WAL, model string) *Heartbeat {
	return &Heartbeat{
		cfg:      cfg,
		provider: provider,
		memory:   mem,
		wal:      wal,
		model:    model,
		gron:     gronx.New(),
	}
}

// Start runs the cron check loop until ctx is done. The expression is
// evaluated once per minute; a due tick triggers one beat.
func (h *Heartbeat) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				due, err := h.gron.IsDue(h.cfg.Cron, now)
				if err != nil {
					slog.Error("bad heartbeat cron expression", "cron", h.cfg.Cron, "error", err)
					return
				}
				if !due {
					continue
				}
				if err := h.Beat(ctx, now); err != nil {
					slog.Error("heartbeat failed", "error", err)
				}
			}
		}
	}()
}

// Beat performs one heartbeat as a durable run: check, load, distill, write,
// prune, each its own substep.
func (h *Heartbeat) Beat(ctx context.Context, now time.Time) error {
	ex := durable.NewExecution(uuid.NewString(), h.wal)
	defer func() {
		if err := h.wal.PruneRun(context.Background(), ex.RunID()); err != nil {
			slog.Warn("heartbeat wal prune failed", "error", err)
		}
	}()
	return h.beat(ctx, ex, now)
}

// beatCheck is the recorded output of the adaptive check.
type beatCheck struct {
	Distill bool   `json:"distill"`
	Curated string `json:"curated"`
}

func (h *Heartbeat) beat(ctx context.Context, ex *durable.Execution, now time.Time) error {
	check, err := durable.Step(ctx, ex, "check", func(context.Context) (beatCheck, error) {
		return h.check(now)
	})
	if err != nil {
		return err
	}
	if !check.Distill {
		slog.Debug("heartbeat skipped", "reason", "below thresholds")
		return nil
	}

	logs, err := durable.Step(ctx, ex, "load-logs", func(context.Context) ([]memory.DatedLog, error) {
		return h.memory.RecentLogs(now, distillWindowDays)
	})
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		slog.Debug("heartbeat skipped", "reason", "no daily logs")
		return nil
	}

	distilled, err := durable.Step(ctx, ex, "distill", func(ctx context.Context) (string, error) {
		return h.distill(ctx, check.Curated, logs)
	})
	if err != nil {
		return err
	}

	if err := durable.Effect(ctx, ex, "write-memory", func(context.Context) error {
		return h.memory.WriteCurated(memory.WithHeartbeatMarker(distilled, now))
	}); err != nil {
		return err
	}

	pruned, err := durable.Step(ctx, ex, "prune-logs", func(context.Context) ([]string, error) {
		return h.memory.PruneLogs(now, h.cfg.RetentionDays)
	})
	if err != nil {
		return err
	}

	slog.Info("heartbeat distilled memory", "logs", len(logs), "pruned", len(pruned))
	return nil
}

// check decides whether to distill without touching the LLM: only when
// today's log has grown past the size threshold, or too many hours passed
// since the last distillation.
func (h *Heartbeat) check(now time.Time) (beatCheck, error) {
	curated, err := h.memory.ReadCurated()
	if err != nil {
		return beatCheck{}, err
	}

	if h.memory.DailyLogSize(now) > int64(h.cfg.LogSizeThreshold) {
		return beatCheck{Distill: true, Curated: curated}, nil
	}

	last := memory.ParseLastHeartbeat(curated)
	if last.IsZero() || now.Sub(last) > time.Duration(h.cfg.MaxHoursBetween)*time.Hour {
		return beatCheck{Distill: true, Curated: curated}, nil
	}
	return beatCheck{Curated: curated}, nil
}

func (h *Heartbeat) distill(ctx context.Context, curated string, logs []memory.DatedLog) (string, error) {
	var notes strings.Builder
	for _, l := range logs {
		fmt.Fprintf(&notes, "### %s\n%s\n\n", l.Date, strings.TrimSpace(l.Content))
	}

	existing := strings.TrimSpace(memory.StripHeartbeatMarker(curated))
	if existing == "" {
		existing = "(empty)"
	}

	reply, err := h.provider.Complete(ctx, providers.Request{
		System:    distillSystemPrompt,
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: fmt.Sprintf(distillTemplate, existing, notes.String())}},
		Model:     h.model,
		MaxTokens: 4096,
	})
	if err != nil {
		return "", fmt.Errorf("distill memory: %w", err)
	}
	if reply.StopReason == providers.StopError {
		return "", fmt.Errorf("distill memory: %s", reply.ErrorText)
	}
	return reply.Text(), nil
}
