package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/lodestarhq/lodestar/internal/config"
	"github.com/lodestarhq/lodestar/internal/durable"
	"github.com/lodestarhq/lodestar/internal/memory"
	"github.com/lodestarhq/lodestar/internal/providers"
	"github.com/lodestarhq/lodestar/internal/sessions"
	"github.com/lodestarhq/lodestar/internal/telemetry"
	"github.com/lodestarhq/lodestar/internal/tools"
)

// overflowPattern classifies provider error text as a context overflow.
var overflowPattern = regexp.MustCompile(`(?i)context.?overflow|prompt.?too.?large|too many tokens|maximum context|token limit`)

// RunResult is the outcome of one agent run.
type RunResult struct {
	Response   string `json:"response"`
	Iterations int    `json:"iterations"`
	ToolCalls  int    `json:"tool_calls"`
	Model      string `json:"model"`
}

// Agent drives the think/act/observe loop. One Agent serves all sessions;
// per-run state lives on the stack of Run.
type Agent struct {
	cfg       config.AgentConfig
	provider  providers.Provider
	sessions  *sessions.Store
	memory    *memory.Store
	context   *ContextBuilder
	compactor *Compactor
	pruner    *Pruner
	mainTools *tools.Registry
	subTools  *tools.Registry
}

func New(cfg config.AgentConfig, provider providers.Provider, sess *sessions.Store, mem *memory.Store) *Agent {
	if cfg.Model == "" {
		cfg.Model = provider.DefaultModel()
	}
	return &Agent{
		cfg:       cfg,
		provider:  provider,
		sessions:  sess,
		memory:    mem,
		context:   NewContextBuilder(cfg.Name, mem, sess),
		compactor: NewCompactor(provider, sess, cfg.Model, cfg.Compaction),
		pruner:    NewPruner(cfg.Pruning),
		mainTools: tools.MainSet(cfg.Workspace, mem),
		subTools:  tools.SubAgentSet(cfg.Workspace, mem),
	}
}

// Model returns the resolved model identifier used for runs.
func (a *Agent) Model() string { return a.cfg.Model }

// Run executes one full turn for a session. Every LLM call, tool execution,
// sub-agent spawn, and session write is a named durable substep: a retried
// run replays completed substeps and resumes where the previous attempt
// stopped. Cancellation lands at substep boundaries only.
func (a *Agent) Run(ctx context.Context, ex *durable.Execution, sessionKey, incoming string) (*RunResult, error) {
	return a.run(ctx, ex, sessionKey, incoming, false)
}

func (a *Agent) run(ctx context.Context, ex *durable.Execution, sessionKey, incoming string, isSubAgent bool) (*RunResult, error) {
	if err := os.MkdirAll(a.cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}

	registry := a.mainTools
	if isSubAgent {
		registry = a.subTools
	}

	boot, err := durable.Step(ctx, ex, "assemble-context", func(ctx context.Context) (runContext, error) {
		return a.assembleContext(ctx, sessionKey)
	})
	if err != nil {
		return nil, err
	}

	if err := durable.Effect(ctx, ex, "persist-user", func(context.Context) error {
		return a.sessions.Append(sessionKey, sessions.RoleUser, incoming, nil)
	}); err != nil {
		return nil, err
	}

	messages := append(boot.History, providers.Message{Role: providers.RoleUser, Content: incoming})

	var (
		iterations    int
		totalCalls    int
		finalResponse string
		done          bool
		hasCompacted  bool
	)

	for !done && iterations < a.cfg.MaxIterations {
		iterations++
		if iterations > a.cfg.Pruning.KeepLastAssistantTurns {
			a.pruner.Prune(messages)
		}
		if warn := iterationWarning(iterations, a.cfg.MaxIterations); warn != "" {
			messages = append(messages, providers.Message{Role: providers.RoleUser, Content: warn})
		}

		thinkCtx, span := telemetry.StartStep(ctx, "think", a.cfg.Model)
		reply, err := durable.Step(thinkCtx, ex, "think", func(ctx context.Context) (*providers.AssistantMessage, error) {
			return a.think(ctx, boot.System, messages, registry)
		})
		telemetry.EndStep(span, err)
		if err != nil {
			return nil, err
		}

		if reply.StopReason == providers.StopError {
			// think only records StopError replies classified as overflow.
			if hasCompacted {
				return nil, fmt.Errorf("context overflow persists after emergency compaction: %s", reply.ErrorText)
			}
			slog.Warn("context overflow, compacting in place", "session", sessionKey)
			messages = emergencyCompact(messages)
			hasCompacted = true
			iterations--
			continue
		}

		calls := reply.ToolCalls()
		if len(calls) == 0 && reply.Text() != "" {
			finalResponse = reply.Text()
			done = true
			continue
		}

		messages = append(messages, reply.AsMessage())
		for _, tc := range calls {
			result, err := a.executeCall(ctx, ex, sessionKey, registry, tc, isSubAgent)
			if err != nil {
				return nil, err
			}
			messages = append(messages, providers.Message{
				Role:       providers.RoleTool,
				Content:    result.Text,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				IsError:    result.IsError,
			})
			totalCalls++
		}
	}

	if !done {
		finalResponse = fmt.Sprintf("(Reached max iterations: %d)", a.cfg.MaxIterations)
	}

	if err := durable.Effect(ctx, ex, "persist-reply", func(context.Context) error {
		return a.sessions.Append(sessionKey, sessions.RoleAssistant, finalResponse, &sessions.Metadata{
			Iterations: iterations,
			ToolCalls:  totalCalls,
			Model:      a.cfg.Model,
		})
	}); err != nil {
		return nil, err
	}

	return &RunResult{
		Response:   finalResponse,
		Iterations: iterations,
		ToolCalls:  totalCalls,
		Model:      a.cfg.Model,
	}, nil
}

// runContext is the recorded output of the assemble-context substep.
type runContext struct {
	System  string              `json:"system"`
	History []providers.Message `json:"history"`
}

func (a *Agent) assembleContext(ctx context.Context, sessionKey string) (runContext, error) {
	system, err := a.context.BuildSystemPrompt(time.Now())
	if err != nil {
		return runContext{}, err
	}
	history, err := a.context.BuildConversationHistory(sessionKey, a.cfg.HistoryLimit)
	if err != nil {
		return runContext{}, err
	}
	if a.compactor.ShouldCompact(history) {
		history, err = a.compactor.Compact(ctx, sessionKey, history)
		if err != nil {
			return runContext{}, err
		}
	}
	return runContext{System: system, History: history}, nil
}

// think performs one Complete call. Transport failures and non-overflow
// structural errors return as Go errors so the substep is retried instead of
// replaying a dead reply; overflow errors are recorded for the loop to trap.
func (a *Agent) think(ctx context.Context, system string, messages []providers.Message, registry *tools.Registry) (*providers.AssistantMessage, error) {
	reply, err := a.provider.Complete(ctx, providers.Request{
		System:      system,
		Messages:    messages,
		Tools:       registry.Definitions(),
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if reply.StopReason == providers.StopError && !overflowPattern.MatchString(reply.ErrorText) {
		return nil, fmt.Errorf("provider rejected request: %s", reply.ErrorText)
	}
	return reply, nil
}

// executeCall runs one tool call as its own substep. delegate_task routes to
// the sub-agent spawner; everything else goes through the registry.
func (a *Agent) executeCall(ctx context.Context, ex *durable.Execution, sessionKey string, registry *tools.Registry, tc providers.ToolCall, isSubAgent bool) (result *tools.Result, err error) {
	stepCtx, span := telemetry.StartStep(ctx, "act", tc.Name)
	defer func() { telemetry.EndStep(span, err) }()

	if tc.Name == tools.DelegateToolName && !isSubAgent {
		return durable.Step(stepCtx, ex, "delegate", func(ctx context.Context) (*tools.Result, error) {
			task, _ := tc.Arguments["task"].(string)
			return a.Spawn(ctx, ex, sessionKey, task), nil
		})
	}
	return durable.Step(stepCtx, ex, "act", func(ctx context.Context) (*tools.Result, error) {
		return registry.Execute(ctx, tc.ID, tc.Name, tc.Arguments), nil
	})
}

// iterationWarning produces the inline pressure messages near the iteration
// budget. The respond-NOW window takes precedence over wrap-up.
func iterationWarning(iteration, maxIterations int) string {
	switch {
	case iteration >= maxIterations-3:
		return fmt.Sprintf("[SYSTEM: iter %d/%d — respond NOW]", iteration, maxIterations)
	case iteration >= maxIterations-10:
		return "[SYSTEM: wrap up]"
	default:
		return ""
	}
}

// emergencyCompact is the in-place overflow fallback: keep the last
// min(6, len) messages, collapse the rest into one coarse synthetic user
// message with each old entry truncated to 200 characters.
func emergencyCompact(messages []providers.Message) []providers.Message {
	keep := 6
	if len(messages) < keep {
		keep = len(messages)
	}
	cut := len(messages) - keep
	if cut == 0 {
		return messages
	}

	summary := "Earlier conversation (truncated due to context overflow):\n"
	for _, m := range messages[:cut] {
		summary += fmt.Sprintf("[%s] %s\n", m.Role, headBytes(m.Content, 200))
	}

	out := make([]providers.Message, 0, keep+1)
	out = append(out, providers.Message{Role: providers.RoleUser, Content: summary})
	return append(out, messages[cut:]...)
}
