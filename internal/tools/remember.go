package tools

import (
	"context"
	"time"

	"github.com/lodestarhq/lodestar/internal/memory"
)

// RememberTool appends a note to today's daily memory log. The heartbeat
// later distills daily logs into curated long-term memory.
type RememberTool struct {
	memory *memory.Store
}

func NewRememberTool(mem *memory.Store) *RememberTool {
	return &RememberTool{memory: mem}
}

func (t *RememberTool) Name() string { return "remember" }
func (t *RememberTool) Description() string {
	return "Save a note to the agent's daily memory log for long-term retention"
}
func (t *RememberTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"note": map[string]interface{}{"type": "string", "description": "The note to remember"},
		},
		"required": []interface{}{"note"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	note := stringArg(args, "note")
	if note == "" {
		return ErrorResult("Error: note is required")
	}
	if err := t.memory.AppendDaily(note, time.Now()); err != nil {
		return ErrorResult("Error: failed to save note: %v", err)
	}
	return NewResult("Noted.")
}
