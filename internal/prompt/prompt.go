// Package prompt assembles the system prompt and conversation history
// from extension-point contributors. It defines context.system_prompt
// and context.history; any plugin can add persona text or prior turns
// without the orchestrator knowing about it.
package prompt

import (
	"context"
	"log/slog"
	"strings"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

// PromptContributor adds a block to the system prompt. Implemented by
// plugins declaring context.system_prompt.
type PromptContributor interface {
	PromptContribution() string
}

// HistoryContributor supplies prior turns for a peer. Implemented by
// plugins declaring context.history.
type HistoryContributor interface {
	HistoryContribution(peer string) []models.ChatMessage
}

// Plugin is the context builder.
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
		logger:   logger.With("plugin", "context"),
	}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:       "context",
		Version:  "1.0.0",
		Priority: 18,
		ExtensionPoints: []string{
			plugin.PointSystemPrompt,
			plugin.PointHistory,
		},
	}
}

func (p *Plugin) Configure(cfg *config.Config) error { return nil }
func (p *Plugin) Start(ctx context.Context) error    { return nil }
func (p *Plugin) Stop(ctx context.Context) error     { return nil }

// TransformSystemPrompt replaces the prompt with the joined
// contributions when at least one contributor returns text.
func (p *Plugin) TransformSystemPrompt(hc *plugin.HookContext) error {
	var parts []string
	for _, impl := range p.registry.Implementations(plugin.PointSystemPrompt) {
		contributor, ok := impl.(PromptContributor)
		if !ok {
			continue
		}
		if text := contributor.PromptContribution(); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) > 0 {
		hc.Prompt = strings.Join(parts, "\n\n")
	}
	return nil
}

// TransformHistory splices contributed turns between the system turn
// and the current user turn.
func (p *Plugin) TransformHistory(hc *plugin.HookContext) error {
	if len(hc.Messages) < 2 {
		return nil
	}

	var history []models.ChatMessage
	for _, impl := range p.registry.Implementations(plugin.PointHistory) {
		contributor, ok := impl.(HistoryContributor)
		if !ok {
			continue
		}
		history = append(history, contributor.HistoryContribution(hc.Peer)...)
	}
	if len(history) == 0 {
		return nil
	}

	first := hc.Messages[0]
	rest := hc.Messages[1:]
	out := make([]models.ChatMessage, 0, 1+len(history)+len(rest))
	out = append(out, first)
	out = append(out, history...)
	out = append(out, rest...)
	hc.Messages = out
	return nil
}
