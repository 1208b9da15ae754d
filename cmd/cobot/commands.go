// commands.go contains the cobra command definitions and their flag
// wiring. Handlers live in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command that starts the agent.
func buildRunCmd() *cobra.Command {
	var (
		configPath  string
		stdin       bool
		debug       bool
		withHistory bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the agent",
		Long: `Start the agent with all configured channels and the selected
LLM provider.

The agent will:
1. Load configuration (cobot.yml, ~/.cobot/cobot.yml, or --config)
2. Assemble and start the plugin set
3. Poll channels on the configured interval
4. Stop gracefully on SIGINT/SIGTERM; SIGUSR1 restarts in place`,
		Example: `  # Run with the default config
  cobot run

  # Local smoke test without channels
  cobot run --stdin

  # Resume prior conversations
  cobot run --continue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), configPath, stdin, debug, withHistory)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "Read messages from stdin instead of channels")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&withHistory, "continue", false, "Load and persist conversation history")
	return cmd
}

// buildRestartCmd creates the "restart" command, which signals a
// running agent to re-exec itself.
func buildRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart a running agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestart(cmd)
		},
	}
}

// buildStatusCmd creates the "status" command.
func buildStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the agent is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the configuration",
	}
	cmd.AddCommand(
		buildConfigShowCmd(),
		buildConfigGetCmd(),
		buildConfigSetCmd(),
		buildConfigValidateCmd(),
		buildConfigEditCmd(),
	)
	return cmd
}

func buildConfigShowCmd() *cobra.Command {
	var (
		configPath string
		reveal     bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, configPath, reveal)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show secret values unmasked")
	return cmd
}

func buildConfigGetCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one value by dot path",
		Example: `  cobot config get provider
  cobot config get telegram.poll_timeout`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildConfigSetCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one value by dot path and rewrite the file",
		Example: `  cobot config set provider anthropic
  cobot config set polling.interval_seconds 60`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(cmd, configPath, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildConfigEditCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Open the configuration in $EDITOR",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigEdit(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// buildPairingCmd creates the "pairing" command group for the trust
// store. A running agent picks up approvals without restart.
func buildPairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage authorized users and pairing requests",
	}
	cmd.AddCommand(
		buildPairingListCmd(),
		buildPairingApproveCmd(),
		buildPairingRejectCmd(),
		buildPairingRevokeCmd(),
	)
	return cmd
}

func buildPairingListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List authorized users and pending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairingList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildPairingApproveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pending pairing request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairingApprove(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildPairingRejectCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "reject <code>",
		Short: "Reject a pending pairing request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairingReject(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildPairingRevokeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "revoke <channel> <user-id>",
		Short: "Revoke an authorized user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairingRevoke(cmd, configPath, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
