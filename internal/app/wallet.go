package app

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pterm/pterm"

	"skillbet/internal/bet"
)

// WalletConnect unlocks the configured key and records the connection.
func (a *App) WalletConnect(ctx context.Context) error {
	rt, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	session, err := rt.wallet.RequestAccounts(ctx)
	if err != nil {
		pterm.Error.Println(bet.UserMessage(err))
		return err
	}
	pterm.Success.Printfln("Connected %s on chain %s", session.Address.Hex(), session.ChainID.String())
	return nil
}

// WalletStatus shows the last known connection and, when the chain is reachable, its stake.
func (a *App) WalletStatus(ctx context.Context) error {
	rt, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	state, err := rt.wallet.LastKnown(ctx)
	if err != nil {
		return err
	}
	if !state.Connected || state.Address == "" {
		pterm.Info.Println("No wallet connected. Run `skillbet wallet connect`.")
		return nil
	}

	data := pterm.TableData{
		{"Address", state.Address},
		{"Connected since", state.UpdatedAt.UTC().Format(time.RFC3339)},
	}

	address := common.HexToAddress(state.Address)
	if stake, err := rt.ledger.StakeOf(ctx, address); err != nil {
		a.Logger.Debug().Err(err).Msg("stake lookup failed")
		data = append(data, []string{"On-chain stake", pterm.Gray("unavailable")})
	} else {
		data = append(data, []string{"On-chain stake", bet.FromWei(stake).String() + " ETH"})
	}
	if claimed, err := rt.ledger.HasClaimed(ctx, address); err == nil {
		label := "no"
		if claimed {
			label = "yes"
		}
		data = append(data, []string{"Claimed on chain", label})
	}

	return pterm.DefaultTable.WithData(data).Render()
}

// WalletDisconnect forgets the session and the persisted connection.
func (a *App) WalletDisconnect(ctx context.Context) error {
	rt, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.wallet.Disconnect(ctx); err != nil {
		return err
	}
	pterm.Success.Println("Wallet disconnected")
	return nil
}
