package app

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"skillbet/internal/config"
	"skillbet/internal/ledger"
	"skillbet/internal/logging"
	"skillbet/internal/metrics"
	"skillbet/internal/notify"
	"skillbet/internal/oracle"
	"skillbet/internal/proof"
	"skillbet/internal/scheduler"
	"skillbet/internal/service"
	"skillbet/internal/storage"
	"skillbet/internal/wallet"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	return storage.Open(ctx, a.Config.Database)
}

func (a *App) newLedger() *ledger.Client {
	cfg := a.Config.Ethereum
	return ledger.NewClient(ledger.Options{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		GasLimit:        cfg.GasLimit,
		RequestTimeout:  cfg.RequestTimeout,
		ConfirmTimeout:  cfg.ConfirmTimeout,
	}, a.Logger)
}

func (a *App) newWallet(chain wallet.ChainIDSource, state storage.WalletStateStore) *wallet.KeyConnector {
	return wallet.NewKeyConnector(wallet.Options{
		PrivateKey:   a.Config.Wallet.PrivateKey,
		KeystorePath: a.Config.Wallet.KeystorePath,
		Passphrase:   a.Config.Wallet.Passphrase,
		ChainID:      a.Config.Ethereum.ChainID,
	}, chain, state, a.Logger)
}

// newOracle returns the war log client, fronted by Redis when cache.redis_addr is set.
func (a *App) newOracle(ctx context.Context) (oracle.ResultOracle, func(), error) {
	client := oracle.NewClient(oracle.Options{
		BaseURL:   a.Config.Backend.BaseURL,
		Timeout:   a.Config.Backend.RequestTimeout,
		UserAgent: a.Config.Backend.UserAgent,
		WarIndex:  a.Config.Backend.WarIndex,
	}, a.Logger)

	if a.Config.Cache.RedisAddr == "" {
		return client, func() {}, nil
	}

	rdb, err := oracle.ConnectRedis(ctx, a.Config.Cache.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	cached := oracle.NewCached(client, oracle.NewRedisCache(rdb), a.Config.Cache.TTL, a.Logger)
	return cached, func() { _ = rdb.Close() }, nil
}

func (a *App) newProofs() *proof.Client {
	return proof.NewClient(proof.Options{
		BaseURL:   a.Config.Backend.BaseURL,
		Timeout:   a.Config.Backend.RequestTimeout,
		UserAgent: a.Config.Backend.UserAgent,
	}, a.Logger)
}

// newNotifier fans out to every enabled channel. It returns nil when none is enabled.
func (a *App) newNotifier() (notify.Notifier, func()) {
	var (
		fanout  notify.Fanout
		closers []func()
	)
	if cfg := a.Config.Notify.Telegram; cfg.Enabled {
		fanout = append(fanout, notify.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
	}
	if cfg := a.Config.Notify.Kafka; cfg.Enabled {
		kn := notify.NewKafkaNotifier(cfg.Brokers, cfg.Topic, a.Logger)
		fanout = append(fanout, kn)
		closers = append(closers, func() {
			if err := kn.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close kafka writer")
			}
		})
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(fanout) == 0 {
		return nil, closeAll
	}
	return fanout, closeAll
}

// runtime is the wired dependency graph for one command.
type runtime struct {
	store       storage.Store
	ledger      *ledger.Client
	wallet      *wallet.KeyConnector
	coordinator *service.Coordinator
	registry    *prometheus.Registry
	closers     []func()
}

func (r *runtime) Close() {
	if r.coordinator != nil {
		r.coordinator.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// build wires the store, chain clients, collaborators, and coordinator.
func (a *App) build(ctx context.Context, withMetrics bool) (*runtime, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt := &runtime{store: store}
	rt.closers = append(rt.closers, store.Close)

	rt.ledger = a.newLedger()
	rt.closers = append(rt.closers, rt.ledger.Close)
	rt.wallet = a.newWallet(rt.ledger, store)

	results, closeOracle, err := a.newOracle(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeOracle)

	notifier, closeNotifier := a.newNotifier()
	rt.closers = append(rt.closers, closeNotifier)

	var m *metrics.Metrics
	if withMetrics {
		rt.registry = prometheus.NewRegistry()
		m = metrics.New(rt.registry)
	}

	settlement := a.Config.Settlement
	sched := scheduler.New(scheduler.Options{
		Interval:     settlement.Interval,
		AlignToStart: settlement.AlignToBucket,
		StartupDelay: settlement.StartupDelay,
		RunOnStart:   true,
	}, a.Logger)

	rt.coordinator = service.New(service.Options{
		AutoClaim:       settlement.AutoClaim,
		ExpireAfter:     settlement.ExpireAfter,
		MaxRetries:      settlement.MaxRetries,
		RetryBase:       settlement.RetryBase,
		AdvisoryLockKey: settlement.AdvisoryLockKey,
	}, service.Deps{
		Wallet:    rt.wallet,
		Ledger:    rt.ledger,
		Oracle:    results,
		Proofs:    a.newProofs(),
		Store:     store,
		Notifier:  notifier,
		Metrics:   m,
		Scheduler: sched,
	}, a.Logger)

	return rt, nil
}

// ignoreCanceled treats a cancelled context as a clean shutdown.
func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
