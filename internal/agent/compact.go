package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lodestarhq/lodestar/internal/config"
	"github.com/lodestarhq/lodestar/internal/providers"
	"github.com/lodestarhq/lodestar/internal/sessions"
)

const summarySystemPrompt = `You compress conversation history into a checkpoint another agent can resume from. Be factual and specific. Preserve file paths, decisions, and open items exactly. Output only the checkpoint.`

const summaryTemplate = `Summarize the conversation transcript below into this exact markdown template:

## Goal
## Constraints
## Progress
### Done
### In Progress
### Blocked
## Key Decisions
## Next Steps
## Critical Context

Transcript:

%s`

const compactedPreamble = "The conversation history before this point was compacted into the following summary: <summary>\n%s\n</summary>"

// Compactor condenses old conversation into a structured checkpoint when the
// estimated token count approaches the context window.
type Compactor struct {
	provider providers.Provider
	sessions *sessions.Store
	model    string
	cfg      config.CompactionConfig
}

func NewCompactor(provider providers.Provider, sess *sessions.Store, model string, cfg config.CompactionConfig) *Compactor {
	return &Compactor{provider: provider, sessions: sess, model: model, cfg: cfg}
}

// EstimateTokens approximates tokens as ceil(serializedBytes / 4).
func EstimateTokens(msg providers.Message) int {
	raw, err := json.Marshal(msg)
	if err != nil {
		return len(msg.Content)/4 + 1
	}
	return (len(raw) + 3) / 4
}

// TotalTokens sums the estimate over all messages.
func TotalTokens(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m)
	}
	return total
}

// ShouldCompact reports whether the history exceeds the compaction threshold.
func (c *Compactor) ShouldCompact(msgs []providers.Message) bool {
	return float64(TotalTokens(msgs)) > float64(c.cfg.MaxTokens)*c.cfg.Threshold
}

// Compact summarizes everything before the kept tail into one synthetic user
// message, rewrites the persisted session to match, and returns the compacted
// history. The kept tail is preserved verbatim, in order, after the summary.
func (c *Compactor) Compact(ctx context.Context, sessionKey string, msgs []providers.Message) ([]providers.Message, error) {
	cut := c.cutIndex(msgs)
	if cut <= 1 {
		return msgs, nil
	}
	older, tail := msgs[:cut], msgs[cut:]

	reply, err := c.provider.Complete(ctx, providers.Request{
		System:    summarySystemPrompt,
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: fmt.Sprintf(summaryTemplate, transcript(older))}},
		Model:     c.model,
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("compaction summary: %w", err)
	}
	if reply.StopReason == providers.StopError {
		return nil, fmt.Errorf("compaction summary: %s", reply.ErrorText)
	}

	synthetic := providers.Message{
		Role:    providers.RoleUser,
		Content: fmt.Sprintf(compactedPreamble, reply.Text()),
	}
	compacted := append([]providers.Message{synthetic}, tail...)

	if err := c.rewriteSession(sessionKey, compacted); err != nil {
		return nil, err
	}
	slog.Info("session compacted",
		"session", sessionKey, "summarized", len(older), "kept", len(tail))
	return compacted, nil
}

// cutIndex walks from the tail accumulating tokens until keepRecentTokens is
// reached; everything before the returned index gets summarized.
func (c *Compactor) cutIndex(msgs []providers.Message) int {
	kept := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		kept += EstimateTokens(msgs[i])
		if kept >= c.cfg.KeepRecentTokens {
			return i
		}
	}
	return 0
}

func (c *Compactor) rewriteSession(sessionKey string, msgs []providers.Message) error {
	now := time.Now().UTC()
	records := make([]sessions.Record, 0, len(msgs))
	for _, m := range msgs {
		role := sessions.RoleUser
		if m.Role == providers.RoleAssistant {
			role = sessions.RoleAssistant
		}
		records = append(records, sessions.Record{Role: role, Content: m.Content, Timestamp: now})
	}
	if err := c.sessions.Rewrite(sessionKey, records); err != nil {
		return fmt.Errorf("rewrite compacted session: %w", err)
	}
	return nil
}

// transcript renders messages as role-prefixed lines for the summarizer.
func transcript(msgs []providers.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString("[")
		sb.WriteString(m.Role)
		sb.WriteString("] ")
		sb.WriteString(m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&sb, "\n[tool call] %s", tc.Name)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
