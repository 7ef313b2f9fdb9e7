package cli

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the settlement loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Run one settlement pass over pending bets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Settle(cmd.Context())
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Mark bets claimed when the ledger already paid them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Reconcile(cmd.Context())
	},
}
