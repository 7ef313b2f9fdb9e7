package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"skillbet/internal/app"
)

var (
	placeOpts app.PlaceOptions
	claimOpts app.ClaimOptions
	listOpts  app.ListOptions
	keyStdin  bool
)

// readSignerKey reads a hex private key from the first line of r.
func readSignerKey(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read key from stdin: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", fmt.Errorf("no key on stdin")
	}
	return key, nil
}

var betCmd = &cobra.Command{
	Use:   "bet",
	Short: "Place, evaluate, claim and list bets",
}

var betPlaceCmd = &cobra.Command{
	Use:   "place",
	Short: "Stake a bet on a clan reaching a destruction target",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := placeOpts
		if keyStdin {
			key, err := readSignerKey(cmd.InOrStdin())
			if err != nil {
				return err
			}
			opts.SignerKey = key
		}
		return getApp().PlaceBet(cmd.Context(), opts)
	},
}

var betEvaluateCmd = &cobra.Command{
	Use:   "evaluate <bet-id>",
	Short: "Fetch the war result and proof verdict for a bet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Evaluate(cmd.Context(), args[0])
	},
}

var betClaimCmd = &cobra.Command{
	Use:   "claim [bet-id]",
	Short: "Claim the reward for a winning bet",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := claimOpts
		if len(args) == 1 {
			opts.ID = args[0]
		}
		if opts.ID == "" && opts.GameIdentifier == "" {
			return fmt.Errorf("either a bet id or --clan must be provided")
		}
		if keyStdin {
			key, err := readSignerKey(cmd.InOrStdin())
			if err != nil {
				return err
			}
			opts.SignerKey = key
		}
		return getApp().Claim(cmd.Context(), opts)
	},
}

var betListCmd = &cobra.Command{
	Use:   "list",
	Short: "Display stored bets",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listOpts.Limit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}
		return getApp().List(cmd.Context(), listOpts)
	},
}

func init() {
	betPlaceCmd.Flags().StringVar(&placeOpts.Game, "game", "coc", "Game the bet is placed on")
	betPlaceCmd.Flags().StringVar(&placeOpts.GameIdentifier, "clan", "", "Clan tag, with or without the leading #")
	betPlaceCmd.Flags().StringVar(&placeOpts.Tier, "tier", "easy", "Tier: easy, medium or hard")
	betPlaceCmd.Flags().IntVar(&placeOpts.Threshold, "target", 0, "Destruction percentage the clan must reach")
	betPlaceCmd.Flags().StringVar(&placeOpts.Stake, "stake", "", "Stake in ETH")
	_ = betPlaceCmd.MarkFlagRequired("clan")
	_ = betPlaceCmd.MarkFlagRequired("target")
	_ = betPlaceCmd.MarkFlagRequired("stake")

	betClaimCmd.Flags().StringVar(&claimOpts.GameIdentifier, "clan", "", "Claim the latest unclaimed bet on this clan")
	betClaimCmd.Flags().StringVar(&claimOpts.Tier, "tier", "easy", "Tier of the bet when claiming by clan")

	for _, c := range []*cobra.Command{betPlaceCmd, betClaimCmd} {
		c.Flags().BoolVar(&keyStdin, "key-stdin", false, "Read a hex private key from stdin instead of the configured wallet")
	}

	betListCmd.Flags().StringVar(&listOpts.Status, "status", "", "Filter by status: placed, claimed or expired")
	betListCmd.Flags().StringVar(&listOpts.Wallet, "wallet", "", "Filter by wallet address")
	betListCmd.Flags().IntVar(&listOpts.Limit, "limit", 20, "Number of bets to display")

	betCmd.AddCommand(betPlaceCmd, betEvaluateCmd, betClaimCmd, betListCmd)
}
