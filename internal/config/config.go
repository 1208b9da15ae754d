// Package config loads and validates the runtime configuration.
//
// Configuration lives in a YAML file. Every string value supports
// environment expansion: ${VAR} resolves to the variable's value (empty
// when unset) and ${VAR:-default} falls back to the default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigError reports an invalid or missing configuration value. It is
// fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the full typed configuration tree.
type Config struct {
	Provider    string            `yaml:"provider"`
	Identity    IdentityConfig    `yaml:"identity"`
	Polling     PollingConfig     `yaml:"polling"`
	Plugins     PluginsConfig     `yaml:"plugins"`
	Paths       PathsConfig       `yaml:"paths"`
	Workspace   string            `yaml:"workspace"`
	Exec        ExecConfig        `yaml:"exec"`
	Pairing     PairingConfig     `yaml:"pairing"`
	Lurker      LurkerConfig      `yaml:"lurker"`
	Logger      LoggerConfig      `yaml:"logger"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Nostr       NostrConfig       `yaml:"nostr"`
	Filedrop    FiledropConfig    `yaml:"filedrop"`
	PPQ         PPQConfig         `yaml:"ppq"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`

	raw  map[string]any
	path string
}

type IdentityConfig struct {
	Name string `yaml:"name"`
}

type PollingConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// PluginsConfig filters which plugins are registered. Disabled always
// wins; a non-empty Enabled list restricts registration to those ids
// plus the core set (logger, workspace, session, the selected provider).
type PluginsConfig struct {
	Enabled  []string `yaml:"enabled"`
	Disabled []string `yaml:"disabled"`
	External []string `yaml:"external"`
}

type PathsConfig struct {
	Skills  string `yaml:"skills"`
	Memory  string `yaml:"memory"`
	Plugins string `yaml:"plugins"`
	Soul    string `yaml:"soul"`
}

type ExecConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Allowlist []string `yaml:"allowlist"`
	Blocklist []string `yaml:"blocklist"`
	Timeout   int      `yaml:"timeout"`
}

type PairingConfig struct {
	Enabled      bool                `yaml:"enabled"`
	OwnerIDs     map[string][]string `yaml:"owner_ids"`
	SkipChannels []string            `yaml:"skip_channels"`
	StoragePath  string              `yaml:"storage_path"`
}

type LurkerChannel struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type LurkerConfig struct {
	Channels []LurkerChannel `yaml:"channels"`
	Sink     string          `yaml:"sink"`
	BaseDir  string          `yaml:"base_dir"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
}

type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TelegramGroup struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type TelegramConfig struct {
	BotToken    string          `yaml:"bot_token"`
	Groups      []TelegramGroup `yaml:"groups"`
	PollTimeout int             `yaml:"poll_timeout"`
	MediaDir    string          `yaml:"media_dir"`
}

type NostrConfig struct {
	Nsec         string   `yaml:"nsec"`
	IdentityFile string   `yaml:"identity_file"`
	Relays       []string `yaml:"relays"`
	SinceMinutes int      `yaml:"since_minutes"`
}

type FiledropConfig struct {
	BaseDir string `yaml:"base_dir"`
}

type PPQConfig struct {
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// defaults returns a Config pre-populated with every default value.
// Unmarshal overlays the file on top, so absent keys keep defaults.
func defaults() *Config {
	return &Config{
		Provider: "ppq",
		Identity: IdentityConfig{Name: "Cobot"},
		Polling:  PollingConfig{IntervalSeconds: 30},
		Exec:     ExecConfig{Enabled: true, Timeout: 30},
		Pairing:  PairingConfig{Enabled: true},
		Lurker:   LurkerConfig{Sink: "jsonl", BaseDir: "./lurker"},
		Logger:   LoggerConfig{Level: "info"},
		Telegram: TelegramConfig{PollTimeout: 30},
		Nostr:    NostrConfig{SinceMinutes: 5},
		PPQ:      PPQConfig{APIBase: "https://api.ppq.ai/v1", Model: "gpt-5-nano"},
		Ollama:   OllamaConfig{Host: "http://localhost:11434", Model: "llama3.2:latest"},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
	}
}

// Validate checks constraints that cannot be fixed up by defaulting.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return &ConfigError{Field: "provider", Reason: "must not be empty"}
	}
	if c.Polling.IntervalSeconds < 5 {
		return &ConfigError{Field: "polling.interval_seconds", Reason: "minimum is 5 seconds"}
	}
	if c.Exec.Timeout <= 0 {
		return &ConfigError{Field: "exec.timeout", Reason: "must be positive"}
	}
	if c.Telegram.PollTimeout <= 0 {
		return &ConfigError{Field: "telegram.poll_timeout", Reason: "must be positive"}
	}
	switch c.Lurker.Sink {
	case "jsonl", "markdown", "none":
	default:
		return &ConfigError{Field: "lurker.sink", Reason: "must be jsonl, markdown, or none"}
	}
	return nil
}

// Raw returns the expanded configuration as a generic map, for display
// and dot-path access.
func (c *Config) Raw() map[string]any {
	return c.raw
}

// Path returns the file the configuration was loaded from, or "" when
// no file existed.
func (c *Config) Path() string {
	return c.path
}

// WorkspaceDir resolves the workspace root: COBOT_WORKSPACE env, then
// the workspace key, then ~/.cobot/workspace.
func (c *Config) WorkspaceDir() string {
	if env := os.Getenv("COBOT_WORKSPACE"); env != "" {
		return env
	}
	if c.Workspace != "" {
		return c.Workspace
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cobot", "workspace")
	}
	return filepath.Join(home, ".cobot", "workspace")
}

// PairingStorePath resolves the pairing store location, defaulting to
// ~/.cobot/pairing.yml.
func (c *Config) PairingStorePath() string {
	if c.Pairing.StoragePath != "" {
		return c.Pairing.StoragePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cobot", "pairing.yml")
	}
	return filepath.Join(home, ".cobot", "pairing.yml")
}

// SoulPath resolves the persona file, defaulting to SOUL.md in the
// workspace.
func (c *Config) SoulPath() string {
	if c.Paths.Soul != "" {
		return c.Paths.Soul
	}
	return filepath.Join(c.WorkspaceDir(), "SOUL.md")
}
