// Package llm provides the LLM capability plugins: ppq (OpenAI
// compatible hosted inference), ollama (local inference through its
// OpenAI-compatible endpoint), and anthropic. Exactly one is
// registered, selected by the configured provider id.
package llm

import (
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/al-munazzim/cobot/pkg/models"
)

// DefaultMaxTokens bounds a completion when the caller does not set one.
const DefaultMaxTokens = 2048

// ErrInsufficientFunds marks a provider rejecting the call for lack of
// credits.
var ErrInsufficientFunds = errors.New("not enough credits for inference")

// convertMessages maps the neutral chat history to the OpenAI wire
// format. Tool results become separate tool-role messages keyed by
// tool call id.
func convertMessages(messages []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == models.RoleTool {
			converted.ToolCallID = msg.ToolCallID
		}
		for _, tc := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, converted)
	}
	return out
}

func convertTools(tools []models.ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// parseResponse normalizes a completion into the shared response shape.
func parseResponse(resp openai.ChatCompletionResponse, fallbackModel string) *models.LLMResponse {
	out := &models.LLMResponse{
		Model:     resp.Model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	if out.Model == "" {
		out.Model = fallbackModel
	}
	if len(resp.Choices) == 0 {
		return out
	}
	message := resp.Choices[0].Message
	out.Content = message.Content
	for _, tc := range message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}
