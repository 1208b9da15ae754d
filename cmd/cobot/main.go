// Package main provides the CLI entry point for Cobot, a self-sovereign
// conversational agent runtime.
//
// Cobot connects chat channels (Telegram, Nostr DMs, file drops) to LLM
// providers (PPQ, Ollama, Anthropic) through a plugin pipeline with tool
// execution and a pairing-based authorization gate.
//
// # Basic Usage
//
// Run the agent:
//
//	cobot run --config cobot.yml
//
// Approve a pairing request:
//
//	cobot pairing approve AB12CD34
//
// # Environment Variables
//
//   - COBOT_WORKSPACE: Workspace directory override
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
//   - NOSTR_NSEC: Nostr secret key
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - PPQ_API_KEY: PPQ API key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// logLevel is shared so --debug and logger.level can adjust it after
// the handler is installed.
var logLevel = new(slog.LevelVar)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cobot",
		Short: "Cobot - self-sovereign conversational agent",
		Long: `Cobot runs a conversational agent over your own channels.

Channels: Telegram, Nostr encrypted DMs, file drops
Providers: PPQ, Ollama, Anthropic
Tools: file read/write/edit, shell exec, self-restart`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildRestartCmd(),
		buildStatusCmd(),
		buildConfigCmd(),
		buildPairingCmd(),
	)
	return rootCmd
}
