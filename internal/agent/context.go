// Package agent implements the think/act/observe loop and its supporting
// machinery: context assembly, conversation compaction, tool-result pruning,
// and sub-agent delegation.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/lodestarhq/lodestar/internal/memory"
	"github.com/lodestarhq/lodestar/internal/providers"
	"github.com/lodestarhq/lodestar/internal/sessions"
)

// ContextBuilder assembles the system prompt and conversation history for a
// run from the workspace's identity and memory files.
type ContextBuilder struct {
	agentName string
	memory    *memory.Store
	sessions  *sessions.Store
}

func NewContextBuilder(agentName string, mem *memory.Store, sess *sessions.Store) *ContextBuilder {
	return &ContextBuilder{agentName: agentName, memory: mem, sessions: sess}
}

const behavioralGuidelines = `## Guidelines
- Use tools to inspect state before acting; do not guess file contents or command output.
- Prefer small, verifiable steps. After a tool result, decide the next action from what it actually says.
- Use the remember tool for durable facts worth keeping across conversations.
- Your text reply ends the turn. Only reply with text when the task is done or you need the user.`

// BuildSystemPrompt concatenates identity, user info, the memory block, and
// fixed behavioral guidelines. Absent optional files are skipped.
func (b *ContextBuilder) BuildSystemPrompt(now time.Time) (string, error) {
	var parts []string

	soul, err := b.memory.ReadSoul()
	if err != nil {
		return "", err
	}
	if soul != "" {
		parts = append(parts, strings.TrimSpace(soul))
	} else {
		parts = append(parts, fmt.Sprintf(
			"You are %s, a persistent personal agent. You keep long-term memory, use tools to act on a workspace, and reply concisely.",
			b.agentName))
	}

	user, err := b.memory.ReadUser()
	if err != nil {
		return "", err
	}
	if user != "" {
		parts = append(parts, "## User Information\n"+strings.TrimSpace(user))
	}

	if block, err := b.memoryBlock(now); err != nil {
		return "", err
	} else if block != "" {
		parts = append(parts, block)
	}

	parts = append(parts, behavioralGuidelines)
	return strings.Join(parts, "\n\n"), nil
}

// memoryBlock combines curated memory with yesterday's and today's daily
// logs, so recent notes are visible before the heartbeat distills them.
func (b *ContextBuilder) memoryBlock(now time.Time) (string, error) {
	var sections []string

	curated, err := b.memory.ReadCurated()
	if err != nil {
		return "", err
	}
	if curated = strings.TrimSpace(memory.StripHeartbeatMarker(curated)); curated != "" {
		sections = append(sections, curated)
	}

	for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
		log, err := b.memory.ReadDailyLog(day)
		if err != nil {
			return "", err
		}
		if log = strings.TrimSpace(log); log != "" {
			sections = append(sections, fmt.Sprintf("### Notes from %s\n%s", day.UTC().Format("2006-01-02"), log))
		}
	}

	if len(sections) == 0 {
		return "", nil
	}
	return "## Memory\n" + strings.Join(sections, "\n\n"), nil
}

// BuildConversationHistory loads the last maxMessages persisted records and
// converts user/assistant entries to runtime messages. Tool results are never
// replayed from persistence.
func (b *ContextBuilder) BuildConversationHistory(sessionKey string, maxMessages int) ([]providers.Message, error) {
	records, err := b.sessions.Load(sessionKey, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", sessionKey, err)
	}

	var msgs []providers.Message
	for _, rec := range records {
		switch rec.Role {
		case sessions.RoleUser:
			msgs = append(msgs, providers.Message{Role: providers.RoleUser, Content: rec.Content})
		case sessions.RoleAssistant:
			msgs = append(msgs, providers.Message{Role: providers.RoleAssistant, Content: rec.Content})
		}
	}
	return msgs, nil
}
