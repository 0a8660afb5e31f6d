package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"levelwatch/internal/app"
)

var (
	simulateBTC     float64
	simulateETH     float64
	simulatePersist bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "用给定价格模拟一轮检测并触发推送",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBTC <= 0 || simulateETH <= 0 {
			return errors.New("--btc 与 --eth 必须大于 0")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			BTC:     simulateBTC,
			ETH:     simulateETH,
			Persist: simulatePersist,
		})
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateBTC, "btc", 0, "BTC 价格 (USD)")
	simulateCmd.Flags().Float64Var(&simulateETH, "eth", 0, "ETH 价格 (USD)")
	simulateCmd.Flags().BoolVar(&simulatePersist, "persist", false, "将新档位写入存储")
}
