// handlers.go contains the command implementations: agent assembly and
// the run loop, process control via the PID file, and the config and
// pairing subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/al-munazzim/cobot/internal/agent"
	"github.com/al-munazzim/cobot/internal/channels/filedrop"
	nostrchan "github.com/al-munazzim/cobot/internal/channels/nostr"
	"github.com/al-munazzim/cobot/internal/channels/telegram"
	"github.com/al-munazzim/cobot/internal/compaction"
	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/llm"
	"github.com/al-munazzim/cobot/internal/logger"
	"github.com/al-munazzim/cobot/internal/lurker"
	"github.com/al-munazzim/cobot/internal/pairing"
	"github.com/al-munazzim/cobot/internal/persistence"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/internal/prompt"
	"github.com/al-munazzim/cobot/internal/session"
	"github.com/al-munazzim/cobot/internal/soul"
	"github.com/al-munazzim/cobot/internal/tools"
	"github.com/al-munazzim/cobot/internal/workspace"
)

// corePlugins are always registered regardless of plugins.enabled.
var corePlugins = map[string]bool{
	"logger":    true,
	"workspace": true,
	"session":   true,
}

// assemble builds the full plugin set for the configured provider,
// honoring plugins.enabled and plugins.disabled.
func assemble(cfg *config.Config, log *slog.Logger) (*plugin.Registry, *session.Plugin, error) {
	registry := plugin.NewRegistry(log)
	sess := session.New(registry, log)

	var provider plugin.Plugin
	switch cfg.Provider {
	case "ppq":
		provider = llm.NewPPQ(log)
	case "ollama":
		provider = llm.NewOllama(log)
	case "anthropic":
		provider = llm.NewAnthropic(log)
	default:
		return nil, nil, fmt.Errorf("unknown provider %q (want ppq, ollama, or anthropic)", cfg.Provider)
	}

	candidates := []plugin.Plugin{
		logger.New(log),
		workspace.New(log),
		sess,
		pairing.New(sess, log),
		soul.New(log),
		persistence.New(log),
		prompt.New(registry, log),
		compaction.New(registry, log),
		lurker.New(registry, log),
		provider,
		tools.New(log),
		telegram.New(log),
		nostrchan.New(log),
		filedrop.New(log),
	}

	disabled := map[string]bool{}
	for _, id := range cfg.Plugins.Disabled {
		disabled[id] = true
	}
	enabled := map[string]bool{}
	for _, id := range cfg.Plugins.Enabled {
		enabled[id] = true
	}
	providerID := provider.PluginMeta().ID

	for _, p := range candidates {
		id := p.PluginMeta().ID
		if disabled[id] {
			continue
		}
		if len(enabled) > 0 && !enabled[id] && !corePlugins[id] && id != providerID {
			continue
		}
		if err := registry.Register(p); err != nil {
			return nil, nil, err
		}
	}
	return registry, sess, nil
}

func runRun(ctx context.Context, configPath string, stdin, debug, withHistory bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if withHistory {
		cfg.Persistence.Enabled = true
	}

	switch {
	case debug:
		logLevel.Set(slog.LevelDebug)
	case cfg.Logger.Level != "":
		logLevel.Set(parseLevel(cfg.Logger.Level))
	}
	log := slog.Default()

	registry, sess, err := assemble(cfg, log)
	if err != nil {
		return err
	}
	if err := registry.ConfigureAll(cfg); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	restart := false
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGUSR1 {
				log.Info("restart signal received")
				restart = true
			} else {
				log.Info("shutdown signal received", "signal", sig.String())
			}
			cancel()
			return
		}
	}()

	if err := registry.StartAll(runCtx); err != nil {
		registry.StopAll(context.Background())
		return err
	}

	if err := writePIDFile(); err != nil {
		log.Warn("pid file write failed", "error", err)
	}
	defer removePIDFile()

	a := agent.New(registry, sess, cfg, log)
	if stdin {
		a.RunStdin(runCtx, os.Stdin, os.Stdout)
	} else {
		a.Run(runCtx)
	}

	if restart {
		return reexec()
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}

// --- PID file -------------------------------------------------------

func pidFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cobot", "cobot.pid")
	}
	return filepath.Join(home, ".cobot", "cobot.pid")
}

func writePIDFile() error {
	path := pidFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile() {
	_ = os.Remove(pidFilePath())
}

func readPIDFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", pidFilePath(), err)
	}
	return pid, nil
}

// processAlive checks liveness with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func runRestart(cmd *cobra.Command) error {
	pid, err := readPIDFile()
	if err != nil {
		return fmt.Errorf("no running agent found (is it started with 'cobot run'?)")
	}
	if !processAlive(pid) {
		removePIDFile()
		return fmt.Errorf("stale pid file removed; agent %d is not running", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGUSR1); err != nil {
		return fmt.Errorf("signal agent %d: %w", pid, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restart signal sent to %d\n", pid)
	return nil
}

func runStatus(cmd *cobra.Command, asJSON bool) error {
	out := cmd.OutOrStdout()

	status := struct {
		Running bool   `json:"running"`
		PID     int    `json:"pid,omitempty"`
		Uptime  string `json:"uptime,omitempty"`
	}{}

	if pid, err := readPIDFile(); err == nil && processAlive(pid) {
		status.Running = true
		status.PID = pid
		if info, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err == nil {
			status.Uptime = time.Since(info.ModTime()).Round(time.Second).String()
		}
	}

	if asJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if !status.Running {
		fmt.Fprintln(out, "Agent is not running.")
		return nil
	}
	fmt.Fprintf(out, "Agent running (pid %d", status.PID)
	if status.Uptime != "" {
		fmt.Fprintf(out, ", up %s", status.Uptime)
	}
	fmt.Fprintln(out, ")")
	return nil
}

// --- config ---------------------------------------------------------

func runConfigShow(cmd *cobra.Command, configPath string, reveal bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	raw := cfg.Raw()
	if !reveal {
		raw = config.MaskSecrets(raw)
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cfg.Path() != "" {
		fmt.Fprintf(out, "# %s\n", cfg.Path())
	}
	fmt.Fprint(out, string(data))
	return nil
}

func runConfigGet(cmd *cobra.Command, configPath, key string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	value, ok := lookupPath(cfg.Raw(), key)
	if !ok {
		return fmt.Errorf("key not found: %s", key)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigSet(cmd *cobra.Command, configPath, key, value string) error {
	path := config.FindPath(configPath)

	raw := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// YAML parsing gives "true"/"60" their natural types; anything
	// unparseable stays a string.
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	setPath(raw, key, parsed)

	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", key, path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config OK: %s (provider: %s)\n", cfg.Path(), cfg.Provider)
	return nil
}

func runConfigEdit(cmd *cobra.Command, configPath string) error {
	path := config.FindPath(configPath)
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	edit := exec.Command(editor, path)
	edit.Stdin = os.Stdin
	edit.Stdout = os.Stdout
	edit.Stderr = os.Stderr
	if err := edit.Run(); err != nil {
		return fmt.Errorf("editor: %w", err)
	}

	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: edited config has errors: %v\n", err)
	}
	return nil
}

func lookupPath(raw map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var current any = raw
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func setPath(raw map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	current := raw
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// --- pairing --------------------------------------------------------

func openStore(configPath string) (*pairing.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return pairing.NewStore(cfg.PairingStorePath()), nil
}

func runPairingList(cmd *cobra.Command, configPath string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	authorized := store.Authorized()
	if len(authorized) == 0 {
		fmt.Fprintln(out, "No authorized users.")
	} else {
		fmt.Fprintln(out, "Authorized:")
		for _, user := range authorized {
			fmt.Fprintf(out, "  %s:%s (%s, approved %s)\n",
				user.Channel, user.UserID, user.Name, user.ApprovedAt)
		}
	}

	pending := store.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending requests.")
		return nil
	}
	fmt.Fprintln(out, "Pending:")
	for _, req := range pending {
		fmt.Fprintf(out, "  %s  %s:%s (%s, requested %s)\n",
			req.Code, req.Channel, req.UserID, req.Name, req.RequestedAt)
	}
	return nil
}

func runPairingApprove(cmd *cobra.Command, configPath, code string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	user, err := store.Approve(code)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Approved %s:%s (%s)\n", user.Channel, user.UserID, user.Name)
	return nil
}

func runPairingReject(cmd *cobra.Command, configPath, code string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	if err := store.Reject(code); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s\n", code)
	return nil
}

func runPairingRevoke(cmd *cobra.Command, configPath, channel, userID string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	removed, err := store.Revoke(channel, userID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%s:%s is not authorized", channel, userID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s:%s\n", channel, userID)
	return nil
}
