// Package workspace provides the agent's working directory: persona
// file, memory, skills, and logs all live under one root.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
)

// Plugin resolves and materializes the workspace tree. It loads very
// early because most other plugins derive paths from it.
type Plugin struct {
	logger *slog.Logger
	root   string
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{logger: logger.With("plugin", "workspace")}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "workspace",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapWorkspace},
		Priority:     5,
	}
}

func (p *Plugin) Configure(cfg *config.Config) error {
	p.root = cfg.WorkspaceDir()
	return nil
}

// Start creates the workspace root and its standard subdirectories.
func (p *Plugin) Start(ctx context.Context) error {
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	for _, sub := range []string{"memory", "skills", "plugins", "logs"} {
		if err := os.MkdirAll(filepath.Join(p.root, sub), 0o755); err != nil {
			return fmt.Errorf("create workspace %s: %w", sub, err)
		}
	}
	p.logger.Info("workspace ready", "path", p.root)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return nil }

// Path joins parts onto the workspace root. With no parts it returns
// the root itself.
func (p *Plugin) Path(parts ...string) string {
	if len(parts) == 0 {
		return p.root
	}
	return filepath.Join(append([]string{p.root}, parts...)...)
}
