package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vesrates/internal/app"
)

var (
	showExchange        string
	showPair            string
	showIncludeInactive bool
	historyLimit        int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{
			Exchange:        showExchange,
			Pair:            showPair,
			IncludeInactive: showIncludeInactive,
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display the newest rate history entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 || historyLimit > 1000 {
			return fmt.Errorf("--limit must be between 1 and 1000")
		}
		return getApp().History(cmd.Context(), app.HistoryOptions{Limit: historyLimit})
	},
}

var exchangesCmd = &cobra.Command{
	Use:   "exchanges",
	Short: "List registered exchanges",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Exchanges()
	},
}

func init() {
	showCmd.Flags().StringVar(&showExchange, "exchange", "", "Filter by exchange code")
	showCmd.Flags().StringVar(&showPair, "pair", "", "Filter by currency pair, e.g. USD/VES")
	showCmd.Flags().BoolVar(&showIncludeInactive, "all", false, "Include inactive rows")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "Number of entries to display")
}
