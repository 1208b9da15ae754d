package plugin

import (
	"context"

	"github.com/al-munazzim/cobot/pkg/models"
)

// ChatOptions carries per-call overrides for an LLM chat completion.
type ChatOptions struct {
	Model     string
	MaxTokens int
	Tools     []models.ToolDefinition
}

// LLMProvider is the capability interface for plugins tagged "llm".
// Implementations return *LLMError for provider failures so the
// orchestrator can surface them as reply text.
type LLMProvider interface {
	Chat(ctx context.Context, messages []models.ChatMessage, opts ChatOptions) (*models.LLMResponse, error)
}

// ToolProvider is the capability interface for plugins tagged "tools".
// Execute never returns an error; failures are folded into the result
// string with an "Error:" prefix so the model sees them as tool output.
type ToolProvider interface {
	Definitions() []models.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) string
	RestartRequested() bool
}
