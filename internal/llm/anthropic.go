package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

// Anthropic is the Claude provider.
type Anthropic struct {
	logger *slog.Logger

	apiKey string
	model  string
	client anthropic.Client
	ready  bool
}

func NewAnthropic(logger *slog.Logger) *Anthropic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Anthropic{logger: logger.With("plugin", "anthropic")}
}

func (p *Anthropic) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "anthropic",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapLLM},
		Priority:     20,
	}
}

func (p *Anthropic) Configure(cfg *config.Config) error {
	p.apiKey = cfg.Anthropic.APIKey
	if p.apiKey == "" {
		p.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	p.model = cfg.Anthropic.Model
	return nil
}

func (p *Anthropic) Start(ctx context.Context) error {
	if p.apiKey == "" {
		p.logger.Warn("no API key configured")
		return nil
	}
	p.client = anthropic.NewClient(option.WithAPIKey(p.apiKey))
	p.ready = true
	p.logger.Info("initialized", "model", p.model)
	return nil
}

func (p *Anthropic) Stop(ctx context.Context) error { return nil }

func (p *Anthropic) Chat(ctx context.Context, messages []models.ChatMessage, opts plugin.ChatOptions) (*models.LLMResponse, error) {
	if !p.ready {
		return nil, &plugin.LLMError{Provider: "anthropic", Err: errors.New("API key not configured")}
	}

	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	system, converted := convertAnthropicMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  converted,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if tools, err := convertAnthropicTools(opts.Tools); err != nil {
		return nil, &plugin.LLMError{Provider: "anthropic", Err: err}
	} else if len(tools) > 0 {
		params.Tools = tools
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &plugin.LLMError{Provider: "anthropic", Err: fmt.Errorf("request failed: %w", err)}
	}

	out := &models.LLMResponse{
		Model:     string(message.Model),
		TokensIn:  int(message.Usage.InputTokens),
		TokensOut: int(message.Usage.OutputTokens),
	}
	var text strings.Builder
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: string(variant.Input),
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

// convertAnthropicMessages splits out the leading system turn (the API
// takes it as a separate parameter) and folds tool-role turns into
// user messages carrying tool result blocks.
func convertAnthropicMessages(messages []models.ChatMessage) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if system == "" {
				system = msg.Content
			} else {
				system += "\n\n" + msg.Content
			}
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case models.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system, out
}

func convertAnthropicTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		raw, err := json.Marshal(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out, nil
}
