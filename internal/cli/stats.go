package cli

import (
	"github.com/spf13/cobra"
)

var statsWallet string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise wins, losses and profit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stats(cmd.Context(), statsWallet)
	},
}

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "List bet tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Tiers()
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsWallet, "wallet", "", "Only count bets from this wallet")
}
