package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <team> <role> <text>...",
	Short: "Type a command into a role's pane",
	Long: `Send injects text into the pane bound to (team, role) followed by a
carriage return, exactly as if the observer had typed it.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cfg)
		if err != nil {
			return err
		}

		text := strings.Join(args[2:], " ")
		ack, err := c.dispatcher.Send(args[0], args[1], text)
		if err != nil {
			return err
		}

		f := formatter()
		if f.JSONMode() {
			return f.JSON(ack)
		}
		f.Success("sent to %s/%s (%s), settle delay %s", ack.Team, ack.Role, ack.Target, ack.SettleDelay)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
