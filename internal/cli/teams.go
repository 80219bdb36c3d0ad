package cli

import (
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/vtm/internal/output"
)

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "List teams (tmux sessions)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		teams, err := c.registry.ListTeams()
		if err != nil {
			return err
		}

		f := formatter()
		if f.JSONMode() {
			return f.JSON(map[string]any{"teams": teams})
		}

		if len(teams) == 0 {
			f.Info("no teams running")
			return nil
		}
		tbl := output.NewTable(f.Writer(), "TEAM", "ROLES", "ATTACHED")
		for _, team := range teams {
			attached := ""
			if team.Attached {
				attached = "yes"
			}
			tbl.AddRow(team.ID, output.CountStr(len(team.Roles), "role", "roles"), attached)
		}
		tbl.Render()
		return nil
	},
}

var rolesCmd = &cobra.Command{
	Use:   "roles <team>",
	Short: "List roles (panes) in a team",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		roles, err := c.registry.ListRoles(args[0])
		if err != nil {
			return err
		}

		f := formatter()
		if f.JSONMode() {
			return f.JSON(map[string]any{"team": args[0], "roles": roles})
		}

		tbl := output.NewTable(f.Writer(), "ROLE", "PANE", "TAGGED")
		for _, role := range roles {
			tagged := ""
			if role.Tagged {
				tagged = "yes"
			}
			tbl.AddRow(role.ID, role.Pane.Target(), tagged)
		}
		tbl.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(teamsCmd)
	rootCmd.AddCommand(rolesCmd)
}
