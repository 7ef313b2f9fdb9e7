package cli

import (
	"github.com/spf13/cobra"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the signing wallet",
}

var walletConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Unlock the configured key and check the chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WalletConnect(cmd.Context())
	},
}

var walletStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connected wallet and its on-chain stake",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WalletStatus(cmd.Context())
	},
}

var walletDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the connected wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WalletDisconnect(cmd.Context())
	},
}

func init() {
	walletCmd.AddCommand(walletConnectCmd, walletStatusCmd, walletDisconnectCmd)
}
