// Package soul loads the agent persona from SOUL.md and contributes it
// through the context.system_prompt extension point.
package soul

import (
	"context"
	"log/slog"
	"os"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
)

type Plugin struct {
	logger *slog.Logger
	path   string
	soul   string
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{logger: logger.With("plugin", "soul")}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "soul",
		Version:      "1.0.0",
		Dependencies: []string{"workspace"},
		Priority:     15,
		Implements:   []string{plugin.PointSystemPrompt},
	}
}

func (p *Plugin) Configure(cfg *config.Config) error {
	p.path = cfg.SoulPath()
	return nil
}

// Start reads the persona file. A missing file is not an error; the
// contribution is simply empty.
func (p *Plugin) Start(ctx context.Context) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		p.soul = ""
		return nil
	}
	p.soul = string(data)
	p.logger.Info("loaded", "path", p.path)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return nil }

// PromptContribution implements context.system_prompt.
func (p *Plugin) PromptContribution() string { return p.soul }
