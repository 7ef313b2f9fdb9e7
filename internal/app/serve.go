package app

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"skillbet/internal/api"
	"skillbet/internal/metrics"
	"skillbet/internal/version"
)

// Serve runs the HTTP API, the metrics endpoint, and the settlement loop until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx, a.Config.Metrics.Enabled)
	if err != nil {
		return err
	}
	defer rt.Close()

	server := api.New(api.Options{
		AllowedOrigins:  a.Config.API.AllowedOrigins,
		ShutdownTimeout: a.Config.API.ShutdownTimeout,
	}, rt.coordinator, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, a.Config.API.Addr)
	})
	if rt.registry != nil {
		handler := metrics.NewHandler(rt.registry, rt.store.Ping)
		g.Go(func() error {
			return metrics.Serve(gctx, a.Config.Metrics.Addr, handler, a.Logger)
		})
	}
	g.Go(func() error {
		return ignoreCanceled(rt.coordinator.Run(gctx))
	})

	a.Logger.Info().Str("version", version.Version).Str("commit", version.Commit).Str("api_addr", a.Config.API.Addr).Bool("auto_claim", a.Config.Settlement.AutoClaim).Msg("starting skillbet service")
	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("skillbet service stopped")
	return nil
}

// Settle runs a single settlement pass.
func (a *App) Settle(ctx context.Context) error {
	rt, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.coordinator.Settle(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if report.Skipped {
		pterm.Warning.Println("Another instance is settling; nothing done")
		return nil
	}

	err = pterm.DefaultTable.WithData(pterm.TableData{
		{"Expired", strconv.FormatInt(report.Expired, 10)},
		{"Evaluated", strconv.Itoa(report.Evaluated)},
		{"Won", strconv.Itoa(report.Won)},
		{"Lost", strconv.Itoa(report.Lost)},
		{"Mismatched", strconv.Itoa(report.Mismatched)},
		{"Claimed", strconv.Itoa(report.Claimed)},
		{"Failed", strconv.Itoa(len(report.Failures))},
	}).Render()

	for _, f := range report.Failures {
		pterm.Warning.Printfln("%s: %v", f.BetID, f.Err)
	}
	return err
}

// Reconcile marks local bets claimed when the ledger shows their claim.
func (a *App) Reconcile(ctx context.Context) error {
	rt, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.coordinator.Reconcile(ctx)
	pterm.Info.Printfln("Checked %d wallets, reconciled %d bets", report.Checked, len(report.Reconciled))
	for _, id := range report.Reconciled {
		pterm.Success.Printfln("%s marked claimed", id)
	}
	for _, amb := range report.Ambiguous {
		pterm.Warning.Printfln("%s claimed on chain but has %d pending bets: %v", amb.Address, len(amb.BetIDs), amb.BetIDs)
	}
	return err
}
