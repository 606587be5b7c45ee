// Package tools provides the agent's tool registry and built-in tool set.
// Tools declare a JSON Schema for their parameters; arguments are validated
// against it before dispatch, and execution failures are captured into error
// results rather than propagated.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lodestarhq/lodestar/internal/providers"
)

// DelegateToolName is routed by the agent loop to the sub-agent spawner
// instead of being executed by the registry.
const DelegateToolName = "delegate_task"

// Tool is one named capability offered to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema for the tool's arguments.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry maps tool names to descriptors. Two registries exist at runtime:
// the main-agent set (including delegate_task) and the sub-agent set.
type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool, compiling its parameter schema. Registration happens
// once at startup, so schema errors are fatal to the caller.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	schema, err := compileSchema(name, t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}
	r.entries[name] = entry{tool: t, schema: schema}
	return nil
}

// MustRegister registers a tool and panics on schema errors. Used for the
// built-in tool set whose schemas are static.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	e, ok := r.entries[name]
	return e.tool, ok
}

// List returns registered tool names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns provider-facing tool definitions.
func (r *Registry) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.entries))
	for _, name := range r.List() {
		e := r.entries[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        name,
			Description: e.tool.Description(),
			Parameters:  e.tool.Parameters(),
		})
	}
	return defs
}

// Without returns a copy of the registry with the named tools removed.
// Used to derive the sub-agent set from the main set.
func (r *Registry) Without(names ...string) *Registry {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := NewRegistry()
	for name, e := range r.entries {
		if !drop[name] {
			out.entries[name] = e
		}
	}
	return out
}

// Execute runs one tool call. Unknown tools, invalid arguments, and panics
// all come back as error results so the loop can feed them to the model.
func (r *Registry) Execute(ctx context.Context, toolCallID, name string, args map[string]interface{}) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec)
			res = ErrorResult("Error: tool %s panicked: %v", name, rec)
		}
	}()

	e, ok := r.entries[name]
	if !ok {
		return ErrorResult("Unknown tool: %s", name)
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if e.schema != nil {
		if err := e.schema.Validate(normalizeArgs(args)); err != nil {
			return ErrorResult("Error: invalid arguments for %s: %v", name, err)
		}
	}

	slog.Info("tool call", "tool", name, "id", toolCallID)
	result := e.tool.Execute(ctx, args)
	if result == nil {
		return ErrorResult("Error: tool %s returned no result", name)
	}
	result.Text = Truncate(result.Text)
	if result.IsError {
		slog.Warn("tool error", "tool", name, "error", firstLine(result.Text))
	}
	return result
}

func compileSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeArgs round-trips arguments through JSON so the validator sees
// plain decoded values (the provider layer may hand us typed numbers).
func normalizeArgs(args map[string]interface{}) interface{} {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return args
	}
	return v
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// String argument helpers shared by the built-in tools.

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
