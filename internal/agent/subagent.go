package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lodestarhq/lodestar/internal/durable"
	"github.com/lodestarhq/lodestar/internal/sessions"
	"github.com/lodestarhq/lodestar/internal/tools"
)

const subAgentPrompt = `## Sub-Agent Context
You are a sub-agent spawned by the main agent to complete one delegated task.
You run in an isolated context window: the parent sees only your final text
reply, so make it a complete, self-contained summary of what you did and
found. You cannot delegate further.

## Your Task
%s`

// Spawn runs a delegated task as an isolated child agent. The child gets a
// fresh session key, the restricted tool set, and its own step records; the
// parent receives only the child's final response. Child failures come back
// as an error tool-result, not a parent-run failure.
func (a *Agent) Spawn(ctx context.Context, ex *durable.Execution, parentKey, task string) *tools.Result {
	if task == "" {
		return tools.ErrorResult("Error: delegate_task requires a task")
	}

	subKey := sessions.BuildSubKey(parentKey, time.Now())
	slog.Info("spawning sub-agent", "parent", parentKey, "session", subKey)

	childEx := durable.NewExecution(uuid.NewString(), ex.WAL())
	result, err := a.run(ctx, childEx, subKey, fmt.Sprintf(subAgentPrompt, task), true)
	if pruneErr := ex.WAL().PruneRun(context.Background(), childEx.RunID()); pruneErr != nil {
		slog.Warn("sub-agent wal prune failed", "run", childEx.RunID(), "error", pruneErr)
	}
	if err != nil {
		slog.Error("sub-agent failed", "session", subKey, "error", err)
		return tools.ErrorResult("Error: sub-agent failed: %v", err)
	}

	slog.Info("sub-agent finished",
		"session", subKey, "iterations", result.Iterations, "tool_calls", result.ToolCalls)
	return tools.NewResult(result.Response)
}
