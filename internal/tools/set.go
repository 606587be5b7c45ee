package tools

import "github.com/lodestarhq/lodestar/internal/memory"

// MainSet builds the tool registry for main agents, including delegate_task.
func MainSet(workspace string, mem *memory.Store) *Registry {
	r := NewRegistry()
	r.MustRegister(NewReadTool(workspace))
	r.MustRegister(NewWriteTool(workspace))
	r.MustRegister(NewEditTool(workspace))
	r.MustRegister(NewLsTool(workspace))
	r.MustRegister(NewGrepTool(workspace))
	r.MustRegister(NewFindTool(workspace))
	r.MustRegister(NewBashTool(workspace))
	r.MustRegister(NewWebFetchTool())
	r.MustRegister(NewRememberTool(mem))
	r.MustRegister(NewDelegateTool())
	return r
}

// SubAgentSet builds the restricted registry for sub-agents. Recursive
// spawning is forbidden, so delegate_task is excluded.
func SubAgentSet(workspace string, mem *memory.Store) *Registry {
	return MainSet(workspace, mem).Without(DelegateToolName)
}
