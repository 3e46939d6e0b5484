package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"vesrates/internal/rates"
)

var (
	simulateExchange string
	simulateKind     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a simulated degraded-exchange alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateExchange == "" {
			return errors.New("--exchange must be provided")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateExchange, rates.ErrorKind(simulateKind))
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateExchange, "exchange", rates.ExchangeBCV, "Exchange reported as failing")
	simulateCmd.Flags().StringVar(&simulateKind, "kind", string(rates.KindScrapeStructure), "Error kind reported")
}
