// Package providers abstracts LLM backends behind a single Complete call.
// The agent loop is provider-agnostic; each provider translates the runtime
// message model into its own wire dialect.
package providers

import (
	"context"
	"strings"
)

// Stop reasons returned on AssistantMessage.StopReason.
const (
	StopEnd       = "stop"       // model produced a final text reply
	StopToolCall  = "tool_call"  // model requested one or more tool calls
	StopMaxTokens = "max_tokens" // output token budget exhausted
	StopError     = "error"      // provider-level failure, see ErrorText
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Provider is the interface all LLM backends implement.
type Provider interface {
	// Complete sends one request and returns the assistant's reply.
	// Transport failures and 5xx responses return an error so the caller's
	// durable step can retry; structural API rejections (4xx) come back as
	// an AssistantMessage with StopReason=StopError.
	Complete(ctx context.Context, req Request) (*AssistantMessage, error)

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// DefaultModel returns the provider's default model name.
	DefaultModel() string
}

// Request is the input for one Complete call.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Message is one runtime conversation entry. Only three shapes occur:
//   - user:      Role=user, Content set
//   - assistant: Role=assistant, Content and/or ToolCalls set
//   - tool:      Role=tool, Content + ToolCallID + ToolName set
//
// Tool messages exist only within a live run; persistence keeps user and
// assistant entries only.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// Block is one ordered content block of an assistant reply.
type Block struct {
	Type string    `json:"type"` // "text" or "tool_call"
	Text string    `json:"text,omitempty"`
	Call *ToolCall `json:"call,omitempty"`
}

// Block type tags.
const (
	BlockText     = "text"
	BlockToolCall = "tool_call"
)

// AssistantMessage is the reply from one Complete call, preserving the order
// in which the model produced text and tool-call blocks.
type AssistantMessage struct {
	Blocks     []Block `json:"blocks"`
	Usage      Usage   `json:"usage"`
	StopReason string  `json:"stop_reason"`
	ErrorText  string  `json:"error_text,omitempty"` // set when StopReason=StopError
	Model      string  `json:"model,omitempty"`
}

// Text returns the concatenated text blocks.
func (m *AssistantMessage) Text() string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// ToolCalls returns the tool-call blocks in model order.
func (m *AssistantMessage) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Blocks {
		if b.Type == BlockToolCall && b.Call != nil {
			calls = append(calls, *b.Call)
		}
	}
	return calls
}

// AsMessage folds the assistant reply into a runtime conversation entry.
func (m *AssistantMessage) AsMessage() Message {
	return Message{
		Role:      RoleAssistant,
		Content:   m.Text(),
		ToolCalls: m.ToolCalls(),
	}
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}
