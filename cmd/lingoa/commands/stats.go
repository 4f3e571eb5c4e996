package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statsUser string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the learner's streak",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := build(newConsoleSink(cmd.ErrOrStderr(), false))
		if err != nil {
			return err
		}
		stats, err := services.Stats.UserStats(cmd.Context(), firstSet(statsUser, services.Config.Session.UserID))
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(map[string]any{
			"user_id":         stats.UserID,
			"streak":          stats.Streak,
			"completed_today": stats.CompletedToday,
		})
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsUser, "user", "", "learner id (default from config)")
}
