package admission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bobmcallan/llm-proxy/internal/schema"
)

// Message is one chat turn as sent by the caller.
type Message struct {
	Role       string            `json:"role"`
	Content    *string           `json:"content"`
	Name       string            `json:"name,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []openai.ToolCall `json:"tool_calls,omitempty"`
}

// ChatRequest is the inbound body. The model is not caller-selectable.
type ChatRequest struct {
	Messages    []Message       `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Tools       []schema.Tool   `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

var roles = map[string]bool{
	openai.ChatMessageRoleSystem:    true,
	openai.ChatMessageRoleDeveloper: true,
	openai.ChatMessageRoleUser:      true,
	openai.ChatMessageRoleAssistant: true,
	openai.ChatMessageRoleTool:      true,
}

// DecodeChatRequest parses body. Unknown fields are ignored.
func DecodeChatRequest(body []byte) (*ChatRequest, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("request body is empty")
	}
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("request body is not valid JSON: %w", err)
	}
	return &req, nil
}

// validateOverrides checks the conversation and the sampling overrides.
func (r *ChatRequest) validateOverrides(maxTokensCap int) []string {
	var errs []string

	if len(r.Messages) == 0 {
		errs = append(errs, "messages must contain at least one message")
	}
	for i, m := range r.Messages {
		switch {
		case !roles[m.Role]:
			errs = append(errs, fmt.Sprintf("messages[%d].role %q is not one of system, developer, user, assistant, tool", i, m.Role))
		case m.Role == openai.ChatMessageRoleTool && m.ToolCallID == "":
			errs = append(errs, fmt.Sprintf("messages[%d] has role tool but no tool_call_id", i))
		case m.Content == nil && !(m.Role == openai.ChatMessageRoleAssistant && len(m.ToolCalls) > 0):
			errs = append(errs, fmt.Sprintf("messages[%d].content is required", i))
		}
	}

	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2 || math.IsNaN(*r.Temperature)) {
		errs = append(errs, fmt.Sprintf("temperature %v must be between 0 and 2", *r.Temperature))
	}
	if r.MaxTokens != nil && (*r.MaxTokens < 1 || *r.MaxTokens > maxTokensCap) {
		errs = append(errs, fmt.Sprintf("max_tokens %d must be between 1 and %d", *r.MaxTokens, maxTokensCap))
	}
	return errs
}

// toolChoice resolves tool_choice against the declared tools. The result
// is nil (not sent), a string mode, or an openai.ToolChoice.
func (r *ChatRequest) toolChoice() (any, error) {
	raw := bytes.TrimSpace(r.ToolChoice)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "auto", "none":
			if len(r.Tools) == 0 {
				return nil, nil
			}
			return mode, nil
		case "required":
			if len(r.Tools) == 0 {
				return nil, fmt.Errorf(`tool_choice "required" needs at least one tool`)
			}
			return mode, nil
		default:
			return nil, fmt.Errorf(`tool_choice %q must be "auto", "none", "required" or a function reference`, mode)
		}
	}

	var ref struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil || ref.Type != string(openai.ToolTypeFunction) || ref.Function.Name == "" {
		return nil, fmt.Errorf(`tool_choice must be "auto", "none", "required" or {"type":"function","function":{"name":...}}`)
	}
	for _, t := range r.Tools {
		if t.Name == ref.Function.Name {
			return openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: ref.Function.Name},
			}, nil
		}
	}
	return nil, fmt.Errorf("tool_choice names %q which is not a declared tool (declared: %s)", ref.Function.Name, strings.Join(r.toolNames(), ", "))
}

func (r *ChatRequest) toolNames() []string {
	names := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		names = append(names, t.Name)
	}
	return names
}

// upstreamRequest builds the request forwarded upstream. The model is set
// by the upstream client.
func (r *ChatRequest) upstreamRequest(tools []openai.Tool, choice any) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  m.ToolCalls,
		}
		if m.Content != nil {
			msg.Content = *m.Content
		}
		msgs = append(msgs, msg)
	}

	req := openai.ChatCompletionRequest{
		Messages:   msgs,
		Tools:      tools,
		ToolChoice: choice,
		Stream:     r.Stream,
	}
	if r.Temperature != nil {
		req.Temperature = float32(*r.Temperature)
		// The upstream field is omitted when zero; keep an explicit 0.
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if r.MaxTokens != nil {
		req.MaxTokens = *r.MaxTokens
	}
	return req
}
