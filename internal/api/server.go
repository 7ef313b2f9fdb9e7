package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"skillbet/internal/bet"
	"skillbet/internal/service"
	"skillbet/internal/storage"
)

// Lifecycle is the part of the coordinator the API drives.
type Lifecycle interface {
	PlaceBet(ctx context.Context, in bet.Intake) (service.Placement, error)
	EvaluateBet(ctx context.Context, id string) (storage.BetRecord, service.Evaluation, error)
	ClaimReward(ctx context.Context, id string, eval service.Evaluation) (service.ClaimResult, error)
	GetBet(ctx context.Context, id string) (storage.BetRecord, error)
	ListBets(ctx context.Context, filter storage.ListFilter) ([]storage.BetRecord, error)
}

// Options configure the HTTP API.
type Options struct {
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Server exposes the bet lifecycle over HTTP.
type Server struct {
	bets     Lifecycle
	validate *validator.Validate
	opts     Options
	logger   zerolog.Logger
}

// New constructs the API server.
func New(opts Options, bets Lifecycle, logger zerolog.Logger) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		bets:     bets,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the routed handler with CORS and request ids applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bets", s.handlePlaceBet)
	mux.HandleFunc("GET /api/bets", s.handleListBets)
	mux.HandleFunc("GET /api/bets/{id}", s.handleGetBet)
	mux.HandleFunc("POST /api/bets/{id}/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /api/bets/{id}/claim", s.handleClaim)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/tiers", s.handleTiers)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return RequestID(s.logger)(c.Handler(mux))
}

// Serve runs the API until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		s.logger.Info().Msg("shutting down api server")
		return srv.Shutdown(shutdownCtx)
	}
}
