package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/vtm/internal/tui"
)

var monitorIntervalMS int

var monitorCmd = &cobra.Command{
	Use:   "monitor <team>",
	Short: "Live dashboard for a team's panes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		interval := time.Duration(monitorIntervalMS) * time.Millisecond
		return tui.Run(c.registry, c.hub, args[0], interval)
	},
}

func init() {
	monitorCmd.Flags().IntVar(&monitorIntervalMS, "interval-ms", 0, "snapshot interval (default from config)")
	rootCmd.AddCommand(monitorCmd)
}
