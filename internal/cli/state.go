package cli

import (
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/vtm/internal/monitor"
)

var stateCmd = &cobra.Command{
	Use:   "state <team> <role>",
	Short: "Show a role's current pane content and activity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cfg)
		if err != nil {
			return err
		}

		snap, activity, err := c.hub.State(args[0], args[1])
		if err != nil {
			return err
		}

		f := formatter()
		if f.JSONMode() {
			return f.JSON(map[string]any{"snapshot": snap, "activity": activity})
		}

		if activity == monitor.StateActive {
			f.Success("%s/%s is active", args[0], args[1])
		} else {
			f.Info("%s/%s is idle", args[0], args[1])
		}
		f.Line()
		f.Println(snap.Text())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
}
