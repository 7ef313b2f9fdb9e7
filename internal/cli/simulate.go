package cli

import (
	"github.com/spf13/cobra"

	"skillbet/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-outcome",
	Short: "模拟一次战绩评估，可选发送通知",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateOutcome(cmd.Context(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.GameIdentifier, "clan", "SIMULATED", "部落标签")
	simulateCmd.Flags().StringVar(&simulateOpts.Tier, "tier", "easy", "难度档位")
	simulateCmd.Flags().IntVar(&simulateOpts.Threshold, "target", 60, "预期摧毁率")
	simulateCmd.Flags().IntVar(&simulateOpts.Actual, "actual", 0, "模拟的实际摧毁率")
	simulateCmd.Flags().StringVar(&simulateOpts.Stake, "stake", "", "下注金额 (ETH)，默认取档位最低值")
	simulateCmd.Flags().BoolVar(&simulateOpts.Notify, "notify", false, "获胜时发送模拟通知")
}
