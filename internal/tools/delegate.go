package tools

import "context"

// DelegateTool is a descriptor-only tool: the agent loop intercepts calls to
// delegate_task and routes them to the sub-agent spawner instead of this
// registry. Execute exists only as a guard against misrouted calls.
type DelegateTool struct{}

func NewDelegateTool() *DelegateTool { return &DelegateTool{} }

func (t *DelegateTool) Name() string { return DelegateToolName }
func (t *DelegateTool) Description() string {
	return "Delegate a self-contained task to a sub-agent running in its own context window. " +
		"Returns only the sub-agent's final summary. Use for research or multi-step work " +
		"whose intermediate output would crowd the conversation."
}
func (t *DelegateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Complete, self-contained task description for the sub-agent",
			},
		},
		"required": []interface{}{"task"},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return ErrorResult("Error: delegate_task must be routed through the agent loop")
}
