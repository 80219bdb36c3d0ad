package cli

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := formatter()
		if f.JSONMode() {
			return f.JSON(map[string]string{
				"version": Version,
				"commit":  Commit,
				"date":    Date,
			})
		}
		f.Textln("vtm %s (commit %s, built %s)", Version, Commit, Date)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
