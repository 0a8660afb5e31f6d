package cli

import (
	"github.com/spf13/cobra"

	"levelwatch/internal/app"
)

var resetCmd = &cobra.Command{
	Use:       "reset [metric...]",
	Short:     "Delete stored levels so the next poll records a new baseline",
	Long:      "Delete stored levels so the next poll records a new baseline.\nMetric names: btc, eth, btc_eth. Without arguments every stored level is deleted.",
	ValidArgs: []string{"btc", "eth", "btc_eth"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Reset(cmd.Context(), app.ResetOptions{Metrics: args})
	},
}
