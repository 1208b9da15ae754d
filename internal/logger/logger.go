// Package logger is the lifecycle observer plugin: it participates in
// the hook chain purely to emit structured logs for each pipeline
// stage.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
)

type Plugin struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{logger: logger.With("plugin", "logger")}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "logger",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapLogging},
		Priority:     5,
	}
}

func (p *Plugin) Configure(cfg *config.Config) error { return nil }
func (p *Plugin) Start(ctx context.Context) error    { return nil }
func (p *Plugin) Stop(ctx context.Context) error     { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (p *Plugin) OnMessageReceived(hc *plugin.HookContext) error {
	p.logger.Info("message received",
		"sender", truncate(hc.Sender, 16),
		"channel", hc.ChannelType,
		"content", truncate(hc.Message, 50))
	return nil
}

func (p *Plugin) OnBeforeLLMCall(hc *plugin.HookContext) error {
	p.logger.Debug("llm call",
		"model", hc.Model,
		"messages", len(hc.Messages))
	return nil
}

func (p *Plugin) OnAfterLLMCall(hc *plugin.HookContext) error {
	p.logger.Info("llm done",
		"model", hc.Model,
		"tokens_in", hc.TokensIn,
		"tokens_out", hc.TokensOut,
		"tool_calls", hc.HasToolCalls)
	return nil
}

// OnBeforeToolExec logs the call with a per-tool detail string so exec
// commands and file paths are readable at a glance.
func (p *Plugin) OnBeforeToolExec(hc *plugin.HookContext) error {
	detail := ""
	switch hc.Tool {
	case "read_file":
		detail, _ = hc.Args["path"].(string)
	case "write_file":
		path, _ := hc.Args["path"].(string)
		content, _ := hc.Args["content"].(string)
		detail = fmt.Sprintf("%s (%d chars)", path, len(content))
	case "edit_file":
		path, _ := hc.Args["path"].(string)
		oldText, _ := hc.Args["old_text"].(string)
		detail = fmt.Sprintf("%s (%q)", path, truncate(oldText, 30))
	case "exec":
		cmd, _ := hc.Args["command"].(string)
		detail = truncate(cmd, 80)
	default:
		for _, v := range hc.Args {
			detail = truncate(fmt.Sprint(v), 60)
			break
		}
	}
	p.logger.Info("tool call", "tool", hc.Tool, "detail", detail)
	return nil
}

func (p *Plugin) OnAfterToolExec(hc *plugin.HookContext) error {
	preview := hc.Result
	if len(preview) > 100 {
		preview = fmt.Sprintf("%s... (%d chars)", preview[:100], len(hc.Result))
	}
	preview = strings.ReplaceAll(preview, "\n", "\\n")
	p.logger.Info("tool done", "tool", hc.Tool, "result", preview)
	return nil
}

func (p *Plugin) OnAfterSend(hc *plugin.HookContext) error {
	p.logger.Info("sent", "recipient", truncate(hc.Recipient, 16), "channel", hc.ChannelType)
	return nil
}

func (p *Plugin) OnError(hc *plugin.HookContext) error {
	p.logger.Error("pipeline error", "hook", string(hc.FailedHook), "error", hc.Err)
	return nil
}
