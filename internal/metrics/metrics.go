package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the bet lifecycle collectors. A nil *Metrics records nothing.
type Metrics struct {
	betsPlaced     *prometheus.CounterVec
	stakedEther    prometheus.Counter
	evaluations    *prometheus.CounterVec
	claims         *prometheus.CounterVec
	payoutEther    prometheus.Counter
	expired        prometheus.Counter
	settlementRuns *prometheus.CounterVec
	reconciled     prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		betsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillbet_bets_placed_total", Help: "bets placed on the ledger",
		}, []string{"tier"}),
		stakedEther: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillbet_staked_ether_total", Help: "ether staked across placed bets",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillbet_evaluations_total", Help: "outcome evaluations by result",
		}, []string{"result"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillbet_claims_total", Help: "claim attempts by result",
		}, []string{"result"}),
		payoutEther: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillbet_payout_ether_total", Help: "ether paid out on successful claims",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillbet_bets_expired_total", Help: "unclaimed bets aged out",
		}),
		settlementRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillbet_settlement_runs_total", Help: "settlement passes by status",
		}, []string{"status"}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillbet_reconciled_total", Help: "records marked claimed from ledger state",
		}),
	}
	reg.MustRegister(m.betsPlaced, m.stakedEther, m.evaluations, m.claims, m.payoutEther, m.expired, m.settlementRuns, m.reconciled)
	return m
}

func (m *Metrics) BetPlaced(tier string, stake float64) {
	if m == nil {
		return
	}
	m.betsPlaced.WithLabelValues(tier).Inc()
	m.stakedEther.Add(stake)
}

func (m *Metrics) Evaluated(result string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(result).Inc()
}

func (m *Metrics) Claimed(result string, payout float64) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
	if payout > 0 {
		m.payoutEther.Add(payout)
	}
}

func (m *Metrics) Expired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

func (m *Metrics) SettlementRun(status string) {
	if m == nil {
		return
	}
	m.settlementRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) Reconciled() {
	if m == nil {
		return
	}
	m.reconciled.Inc()
}

// HealthFunc reports whether the service can do useful work.
type HealthFunc func(ctx context.Context) error

// NewHandler serves /metrics from gatherer and /healthz from health.
func NewHandler(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if health != nil {
			if err := health(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "unhealthy: %v", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "metrics").Logger()
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
