package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicCallTimeout = 60 * time.Second

// AnthropicProvider implements Provider on top of the Claude Messages API.
type AnthropicProvider struct {
	client       sdk.Client
	defaultModel string
	maxTokens    int
}

func NewAnthropicProvider(apiKey, defaultModel string, maxTokens int) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if defaultModel == "" {
		defaultModel = string(sdk.ModelClaudeSonnet4_5)
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &AnthropicProvider{
		client:       sdk.NewClient(option.WithAPIKey(apiKey), option.WithRequestTimeout(anthropicCallTimeout)),
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
	}, nil
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*AssistantMessage, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  encodeAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeAnthropicTools(req.Tools)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
			// Structural rejection (invalid request, prompt too large, ...):
			// surface in-band so the loop can classify it without a retry storm.
			return &AssistantMessage{
				StopReason: StopError,
				ErrorText:  err.Error(),
				Model:      model,
			}, nil
		}
		return nil, fmt.Errorf("anthropic: messages.new: %w", err)
	}

	return translateAnthropicMessage(msg, model), nil
}

func encodeAnthropicMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]interface{}{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case RoleTool:
			// Anthropic models tool results as user-role content blocks.
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)))
		}
	}
	return out
}

func encodeAnthropicTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{}
		extra := map[string]interface{}{}
		for key, value := range def.Parameters {
			switch key {
			case "type":
				// the param type already pins "type":"object"
			case "properties":
				schema.Properties = value
			case "required":
				schema.Required = stringList(value)
			default:
				extra[key] = value
			}
		}
		if len(extra) > 0 {
			schema.ExtraFields = extra
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

// stringList coerces a decoded JSON array into []string, dropping anything
// that is not a string.
func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func translateAnthropicMessage(msg *sdk.Message, model string) *AssistantMessage {
	reply := &AssistantMessage{Model: model}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			reply.Blocks = append(reply.Blocks, Block{Type: BlockText, Text: block.Text})
		case "tool_use":
			args := map[string]interface{}{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			reply.Blocks = append(reply.Blocks, Block{
				Type: BlockToolCall,
				Call: &ToolCall{ID: block.ID, Name: block.Name, Arguments: args},
			})
		}
	}
	reply.Usage = Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	switch msg.StopReason {
	case sdk.StopReasonToolUse:
		reply.StopReason = StopToolCall
	case sdk.StopReasonMaxTokens:
		reply.StopReason = StopMaxTokens
	default:
		reply.StopReason = StopEnd
	}
	return reply
}
