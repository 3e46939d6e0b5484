package cli

import (
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete history and api logs older than the retention windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cleanup(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}
