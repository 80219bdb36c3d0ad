// Package cli implements the vtm command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/vtm/internal/config"
	"github.com/Dicklesworthstone/vtm/internal/output"
	"github.com/Dicklesworthstone/vtm/internal/tmux"
)

var (
	cfgFile string
	cfg     *config.Config

	// Global JSON output flag, inherited by all subcommands.
	jsonOutput bool

	// Remote SSH host override for tmux commands.
	sshHost string

	// Build information, set via ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "vtm",
	Short: "Voice-driven tmux team manager",
	Long: `vtm observes tmux sessions as teams of named roles, streams pane
activity to connected clients, and dispatches typed or spoken commands
into panes.

Quick Start:
  vtm teams                          # List teams (tmux sessions)
  vtm roles myteam                   # List roles (panes) in a team
  vtm send myteam CODER "run tests"  # Type a command into a pane
  vtm monitor myteam                 # Live dashboard
  vtm serve                          # HTTP/websocket control plane
  vtm voice myteam CODER             # Dictate commands by voice`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if sshHost != "" {
			cfg.Remote = sshHost
		}
		if cfg.Remote != "" {
			tmux.DefaultClient = tmux.NewClient(cfg.Remote)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/vtm/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&sshHost, "remote", "", "run tmux commands on a remote host over ssh")
}

// Execute runs the command tree.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !jsonOutput {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func formatter() *output.Formatter {
	return output.Default(jsonOutput)
}
