package cli

import (
	"github.com/spf13/cobra"

	"vesrates/internal/app"
)

var (
	refreshExchange string
	refreshJSON     bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch every active exchange once and persist the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Refresh(cmd.Context(), app.RefreshOptions{
			Exchange: refreshExchange,
			JSON:     refreshJSON,
		})
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshExchange, "exchange", "", "Refresh a single exchange code")
	refreshCmd.Flags().BoolVar(&refreshJSON, "json", false, "Print the report as JSON")
}
