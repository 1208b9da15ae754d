// Package compaction keeps chat histories inside the model's context
// budget by summarizing the oldest turns into a synthetic system
// message.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

const (
	// maxTokens is the estimated budget above which compaction fires.
	maxTokens = 12000
	// targetRecentTokens is how much recent history survives verbatim.
	targetRecentTokens = 4000
	// charsPerToken approximates tokens as characters / 4.
	charsPerToken = 4

	summaryMaxTokens  = 200
	summaryPrompt     = "Summarize this conversation in 2-3 sentences. Focus on key topics and decisions."
	perMessageExcerpt = 500
)

// Plugin compacts over-budget histories on transform_history.
type Plugin struct {
	registry *plugin.Registry
	logger   *slog.Logger
}

func New(registry *plugin.Registry, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		registry: registry,
		logger:   logger.With("plugin", "compaction"),
	}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:       "compaction",
		Version:  "1.0.0",
		Priority: 19,
	}
}

func (p *Plugin) Configure(cfg *config.Config) error { return nil }
func (p *Plugin) Start(ctx context.Context) error    { return nil }
func (p *Plugin) Stop(ctx context.Context) error     { return nil }

func estimateTokens(messages []models.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / charsPerToken
}

func (p *Plugin) llm() plugin.LLMProvider {
	if provider, ok := p.registry.ByCapability(plugin.CapLLM).(plugin.LLMProvider); ok {
		return provider
	}
	return nil
}

// summarize condenses the old slice with a direct LLM call. The call
// deliberately bypasses the hook chain. On any failure it falls back to
// a count-only marker so compaction still shrinks the history.
func (p *Plugin) summarize(messages []models.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	fallback := fmt.Sprintf("[Earlier conversation - %d messages]", len(messages))

	llm := p.llm()
	if llm == nil {
		return fallback
	}

	var formatted []string
	for _, m := range messages {
		content := m.Content
		if len(content) > perMessageExcerpt {
			content = content[:perMessageExcerpt]
		}
		formatted = append(formatted, m.Role+": "+content)
	}

	response, err := llm.Chat(context.Background(), []models.ChatMessage{
		{Role: models.RoleSystem, Content: summaryPrompt},
		{Role: models.RoleUser, Content: "Conversation:\n\n" + strings.Join(formatted, "\n")},
	}, plugin.ChatOptions{MaxTokens: summaryMaxTokens})
	if err != nil {
		p.logger.Warn("summarization failed", "error", err)
		return fallback
	}
	return response.Content
}

// TransformHistory compacts the message list when the estimated token
// count exceeds the budget. Under budget, the list passes through
// unchanged. The leading system turn and the trailing user turn are
// fixed endpoints; the middle is split so roughly the last
// targetRecentTokens survive verbatim and everything older is replaced
// by one synthetic summary turn.
func (p *Plugin) TransformHistory(hc *plugin.HookContext) error {
	messages := hc.Messages
	if len(messages) < 3 {
		return nil
	}

	var systemMsg, currentMsg *models.ChatMessage
	if messages[0].Role == models.RoleSystem {
		systemMsg = &messages[0]
	}
	if messages[len(messages)-1].Role == models.RoleUser {
		currentMsg = &messages[len(messages)-1]
	}

	start, end := 0, len(messages)
	if systemMsg != nil {
		start = 1
	}
	if currentMsg != nil {
		end--
	}
	history := messages[start:end]
	if len(history) == 0 {
		return nil
	}

	total := estimateTokens(history)
	if total <= maxTokens {
		return nil
	}
	p.logger.Info("compacting history", "estimated_tokens", total)

	// Walk back-to-front accumulating recent tokens.
	recentTokens := 0
	splitIndex := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		msgTokens := len(history[i].Content) / charsPerToken
		if recentTokens+msgTokens > targetRecentTokens {
			splitIndex = i + 1
			break
		}
		recentTokens += msgTokens
	}
	if splitIndex <= 0 {
		return nil
	}

	summary := p.summarize(history[:splitIndex])

	var out []models.ChatMessage
	if systemMsg != nil {
		out = append(out, *systemMsg)
	}
	out = append(out, models.ChatMessage{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf("[Earlier conversation summary: %s]", summary),
	})
	out = append(out, history[splitIndex:]...)
	if currentMsg != nil {
		out = append(out, *currentMsg)
	}

	hc.Messages = out
	return nil
}
