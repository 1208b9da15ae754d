// Package tools implements the tool capability plugin: filesystem
// helpers, guarded shell execution, and self-restart. Tool failures are
// never surfaced as Go errors; they are folded into the result string
// with an "Error:" prefix so the model can react to them.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

// contextBudget caps how much tool output goes back into the chat
// context. Shell output gets half of it.
const contextBudget = 64000

const defaultExecTimeout = 30 * time.Second

// Plugin executes tools on behalf of the orchestrator.
type Plugin struct {
	logger *slog.Logger

	execEnabled bool
	allowlist   []*regexp.Regexp
	blocklist   []*regexp.Regexp
	execTimeout time.Duration

	// protected holds absolute paths the model must not modify: the
	// live config file and the pairing trust store.
	protected map[string]bool

	restartRequested atomic.Bool
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{logger: logger.With("plugin", "tools")}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "tools",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapTools},
		Priority:     30,
	}
}

func (p *Plugin) Configure(cfg *config.Config) error {
	p.execEnabled = cfg.Exec.Enabled
	p.execTimeout = defaultExecTimeout
	if cfg.Exec.Timeout > 0 {
		p.execTimeout = time.Duration(cfg.Exec.Timeout) * time.Second
	}

	var err error
	if p.allowlist, err = compilePatterns(cfg.Exec.Allowlist); err != nil {
		return fmt.Errorf("exec allowlist: %w", err)
	}
	if p.blocklist, err = compilePatterns(cfg.Exec.Blocklist); err != nil {
		return fmt.Errorf("exec blocklist: %w", err)
	}

	p.protected = map[string]bool{}
	for _, path := range []string{cfg.Path(), cfg.PairingStorePath()} {
		if path == "" {
			continue
		}
		if abs, absErr := filepath.Abs(path); absErr == nil {
			p.protected[abs] = true
		}
	}
	return nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (p *Plugin) Start(ctx context.Context) error {
	state := "disabled"
	if p.execEnabled {
		state = "enabled"
	}
	p.logger.Info("initialized", "exec", state)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return nil }

// RestartRequested reports whether the model asked for a process
// restart via restart_self.
func (p *Plugin) RestartRequested() bool { return p.restartRequested.Load() }

func (p *Plugin) Definitions() []models.ToolDefinition {
	return []models.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read contents of a file",
			Parameters: objectSchema(map[string]any{
				"path": map[string]any{"type": "string", "description": "File path to read"},
			}, "path"),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file (creates or overwrites)",
			Parameters: objectSchema(map[string]any{
				"path":    map[string]any{"type": "string", "description": "File path to write"},
				"content": map[string]any{"type": "string", "description": "Content to write"},
			}, "path", "content"),
		},
		{
			Name:        "edit_file",
			Description: "Replace exact text in a file",
			Parameters: objectSchema(map[string]any{
				"path":     map[string]any{"type": "string", "description": "File path to edit"},
				"old_text": map[string]any{"type": "string", "description": "Exact text to find"},
				"new_text": map[string]any{"type": "string", "description": "Text to replace with"},
			}, "path", "old_text", "new_text"),
		},
		{
			Name:        "exec",
			Description: "Execute a shell command",
			Parameters: objectSchema(map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to run"},
				"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default 30)"},
			}, "command"),
		},
		{
			Name:        "restart_self",
			Description: "Restart the cobot process",
			Parameters:  objectSchema(map[string]any{}),
		},
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Execute runs the named tool. Unknown names and argument problems are
// reported in-band, never as errors.
func (p *Plugin) Execute(ctx context.Context, name string, args map[string]any) string {
	switch name {
	case "read_file":
		return p.readFile(stringArg(args, "path"))
	case "write_file":
		return p.writeFile(stringArg(args, "path"), stringArg(args, "content"))
	case "edit_file":
		return p.editFile(stringArg(args, "path"), stringArg(args, "old_text"), stringArg(args, "new_text"))
	case "exec":
		return p.execCommand(ctx, stringArg(args, "command"), intArg(args, "timeout"))
	case "restart_self":
		p.restartRequested.Store(true)
		return "Restart requested."
	default:
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (p *Plugin) isProtected(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return p.protected[abs]
}

func (p *Plugin) readFile(path string) string {
	resolved := expandHome(path)
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Sprintf("Error: File not found: %s", path)
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Not a file: %s", path)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	content := string(data)
	if len(content) > contextBudget {
		return content[:contextBudget] + "\n\n[truncated]"
	}
	return content
}

func (p *Plugin) writeFile(path, content string) string {
	resolved := expandHome(path)
	if p.isProtected(resolved) {
		return fmt.Sprintf("Error: Protected path: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)
}

func (p *Plugin) editFile(path, oldText, newText string) string {
	resolved := expandHome(path)
	if p.isProtected(resolved) {
		return fmt.Sprintf("Error: Protected path: %s", path)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Sprintf("Error: File not found: %s", path)
	}
	content := string(data)

	switch strings.Count(content, oldText) {
	case 0:
		return fmt.Sprintf("Error: Text not found in %s", path)
	case 1:
	default:
		return "Error: Text found multiple times - be more specific"
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Successfully edited %s", path)
}

// checkExecAllowed applies the blocklist first, then the allowlist if
// one is configured.
func (p *Plugin) checkExecAllowed(command string) error {
	if !p.execEnabled {
		return errors.New("exec is disabled")
	}
	for _, re := range p.blocklist {
		if re.MatchString(command) {
			return fmt.Errorf("blocked by pattern: %s", re.String())
		}
	}
	if len(p.allowlist) > 0 {
		for _, re := range p.allowlist {
			if re.MatchString(command) {
				return nil
			}
		}
		return errors.New("not in allowlist")
	}
	return nil
}

func (p *Plugin) execCommand(ctx context.Context, command string, timeoutSeconds int) string {
	timeout := p.execTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	if err := p.checkExecAllowed(command); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: Timed out after %ds", int(timeout.Seconds()))
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		output += fmt.Sprintf("\n[stderr]: %s", stderr.String())
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		output += fmt.Sprintf("\n[exit code: %d]", exitCode)
	}

	if len(output) > contextBudget/2 {
		output = output[:contextBudget/2] + "\n[truncated]"
	}
	if output == "" {
		return "(no output)"
	}
	return output
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
