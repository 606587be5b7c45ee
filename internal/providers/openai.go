package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat completion APIs
// (OpenAI, OpenRouter, Groq, DeepSeek, vLLM, ...).
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	maxTokens    int
	client       *http.Client
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string, maxTokens int) *OpenAIProvider {
	if name == "" {
		name = "openai"
	}
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*AssistantMessage, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	body := map[string]interface{}{
		"model":      model,
		"messages":   p.encodeMessages(req.System, req.Messages),
		"max_tokens": maxTokens,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, len(req.Tools))
		for i, def := range req.Tools {
			tools[i] = map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        def.Name,
					"description": def.Description,
					"parameters":  def.Parameters,
				},
			}
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		// Transient: bubble so the surrounding durable step retries.
		return nil, fmt.Errorf("%s: http %d: %s", p.name, resp.StatusCode, truncateForLog(string(raw), 500))
	}
	if resp.StatusCode >= 400 {
		// Structural rejection: surface in-band for overflow classification.
		return &AssistantMessage{
			StopReason: StopError,
			ErrorText:  fmt.Sprintf("%s: http %d: %s", p.name, resp.StatusCode, string(raw)),
			Model:      model,
		}, nil
	}

	var oaiResp openAIResponse
	if err := json.Unmarshal(raw, &oaiResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if oaiResp.Error != nil {
		return &AssistantMessage{
			StopReason: StopError,
			ErrorText:  fmt.Sprintf("%s: %s", p.name, oaiResp.Error.Message),
			Model:      model,
		}, nil
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices in response", p.name)
	}

	return p.translate(&oaiResp, model), nil
}

// encodeMessages converts runtime messages to the OpenAI wire format:
// tool_calls need the type+function wrapper with arguments as a JSON string,
// and tool results become role="tool" messages keyed by tool_call_id.
func (p *OpenAIProvider) encodeMessages(system string, msgs []Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(msgs)+1)
	if system != "" {
		out = append(out, map[string]interface{}{"role": "system", "content": system})
	}
	for _, m := range msgs {
		msg := map[string]interface{}{"role": m.Role}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}
		if len(m.ToolCalls) > 0 {
			toolCalls := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				toolCalls[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = toolCalls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		out = append(out, msg)
	}
	return out
}

func (p *OpenAIProvider) translate(resp *openAIResponse, model string) *AssistantMessage {
	choice := resp.Choices[0]
	reply := &AssistantMessage{Model: model}

	if choice.Message.Content != "" {
		reply.Blocks = append(reply.Blocks, Block{Type: BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		reply.Blocks = append(reply.Blocks, Block{
			Type: BlockToolCall,
			Call: &ToolCall{ID: tc.ID, Name: strings.TrimSpace(tc.Function.Name), Arguments: args},
		})
	}

	switch {
	case len(choice.Message.ToolCalls) > 0:
		reply.StopReason = StopToolCall
	case choice.FinishReason == "length":
		reply.StopReason = StopMaxTokens
	default:
		reply.StopReason = StopEnd
	}

	if resp.Usage != nil {
		reply.Usage = Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return reply
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
