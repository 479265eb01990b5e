// Package main provides the tuzemoon server that runs all backend components together:
// - Change feed + query cache reconciliation for the JSON API
// - Feature-flag expiry job (scheduled)
// - verify-solana-payment function endpoint
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tuzemoon/internal/changefeed"
	"tuzemoon/internal/config"
	"tuzemoon/internal/domain"
	"tuzemoon/internal/expiry"
	"tuzemoon/internal/observability"
	"tuzemoon/internal/querycache"
	"tuzemoon/internal/reconcile"
	"tuzemoon/internal/retry"
	"tuzemoon/internal/solana"
	"tuzemoon/internal/storage"
	chstore "tuzemoon/internal/storage/clickhouse"
	"tuzemoon/internal/storage/memory"
	"tuzemoon/internal/storage/migrations"
	pgstore "tuzemoon/internal/storage/postgres"
	"tuzemoon/internal/verification"
)

// Server holds all components of the service.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	// Stores
	stores *allStores

	// Components
	cache    *querycache.Cache
	expiry   *expiry.Job
	verifier *verification.ChainVerifier
	api      *API

	started time.Time
}

// allStores holds all storage implementations.
type allStores struct {
	memes     storage.MemeStore
	likes     storage.LikeStore
	watchlist storage.WatchlistStore
	payments  storage.PaymentStore
	users     storage.UserStore
	events    storage.PaymentEventStore
	feed      changefeed.Feed
}

func main() {
	// Load .env file if exists
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", os.Getenv("TUZEMOON_CONFIG"), "Path to YAML config file")
	httpAddr := flag.String("http-addr", "", "HTTP listen address (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *useMemory {
		cfg.Storage.Driver = config.DriverMemory
	}

	logger, err := observability.NewLogger(cfg.LogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.With("app", cfg.App.Name, "env", cfg.App.Env)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create stores", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	server, err := NewServer(cfg, stores, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	defer server.Close()

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", "signal", sig.String())
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// createStores creates all required stores and the change feed matching them.
func createStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*allStores, func(), error) {
	if cfg.Storage.Driver == config.DriverMemory {
		hub := changefeed.NewHub(logger)
		memes := memory.NewMemeStore(hub.Notify)
		stores := &allStores{
			memes:     memes,
			likes:     memory.NewLikeStore(memes, hub.Notify),
			watchlist: memory.NewWatchlistStore(memes, hub.Notify),
			payments:  memory.NewPaymentStore(hub.Notify),
			users:     memory.NewUserStore(),
			events:    memory.NewPaymentEventStore(),
			feed:      hub,
		}
		return stores, func() { hub.Close() }, nil
	}

	// PostgreSQL
	// The database may still be starting when the service comes up.
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, pgstore.WithConnectRetry(retry.Fixed(10, 2*time.Second)))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if cfg.Storage.Migrate {
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied", "files", applied)
	}

	feed, err := openFeed(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("start change feed: %w", err)
	}

	stores := &allStores{
		memes:     pgstore.NewMemeStore(pool),
		likes:     pgstore.NewLikeStore(pool),
		watchlist: pgstore.NewWatchlistStore(pool),
		payments:  pgstore.NewPaymentStore(pool),
		users:     pgstore.NewUserStore(pool),
		events:    memory.NewPaymentEventStore(),
		feed:      feed,
	}

	// ClickHouse audit trail is optional
	var chConn *chstore.Conn
	if cfg.Storage.ClickhouseDSN != "" {
		if cfg.Storage.Migrate {
			chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		} else {
			chConn, err = chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		}
		if err != nil {
			feed.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		stores.events = chstore.NewPaymentEventStore(chConn)
		logger.Info("clickhouse payment audit enabled", "database", chConn.Database())
	}

	cleanup := func() {
		feed.Close()
		if chConn != nil {
			chConn.Close()
		}
		pool.Close()
	}

	return stores, cleanup, nil
}

// openFeed prefers the hosted realtime socket when configured and otherwise
// listens on the database directly.
func openFeed(ctx context.Context, cfg *config.Config, logger *slog.Logger) (changefeed.Feed, error) {
	if cfg.Backend.RealtimeURL == "" {
		return changefeed.NewPGListener(ctx, cfg.Storage.PostgresDSN, logger)
	}
	rc := changefeed.DefaultRealtimeConfig()
	rc.URL = cfg.Backend.RealtimeURL
	rc.APIKey = cfg.Backend.APIKey
	return changefeed.NewRealtimeClient(ctx, rc, logger)
}

// NewServer wires the components over the given stores.
func NewServer(cfg *config.Config, stores *allStores, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		stores:  stores,
		started: time.Now(),
	}

	s.cache = querycache.New(querycache.Options{
		StaleTime:    cfg.Cache.StaleTime,
		FetchTimeout: cfg.Cache.FetchTimeout,
	}, logger)

	if cfg.Expiry.Enabled {
		job, err := expiry.New(expiry.Options{
			Memes:    stores.memes,
			Interval: cfg.Expiry.Interval,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		s.expiry = job
	}

	if recipient, ok := cfg.RecipientKey(); ok {
		rpc := solana.NewSingleAttemptClient(cfg.Solana.RPCURL, cfg.Solana.Commitment)
		v, err := verification.NewChainVerifier(verification.Options{
			RPC:         rpc,
			Payments:    stores.payments,
			Recipient:   recipient,
			MinLamports: domain.SOLToLamports(cfg.Solana.AmountSOL),
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		s.verifier = v
	} else {
		logger.Warn("solana.recipient not set, payment verification endpoint disabled")
	}

	s.api = NewAPI(stores, s.cache, logger)
	return s, nil
}

// Run starts all components and blocks until ctx is done or one fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server", "storage", s.cfg.Storage.Driver)

	rec := reconcile.New(s.stores.feed, s.cache, reconcile.DefaultTable(), s.logger)
	mount, err := rec.Mount(ctx)
	if err != nil {
		return fmt.Errorf("mount reconciler: %w", err)
	}
	defer mount.Close()

	// Create error channel for goroutines
	errCh := make(chan error, 2)

	if s.expiry != nil {
		go func() {
			err := s.expiry.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("expiry job: %w", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		s.logger.Warn("http shutdown", "error", serr)
	}
	return err
}

// Close releases the components owned by the server.
func (s *Server) Close() {
	s.api.Close()
	s.cache.Close()
}

// Handler returns the HTTP routes: health, metrics, status, the JSON API and
// the verification function.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("GET /status", s.handleStatus)

	s.api.Register(mux)

	if s.verifier != nil {
		mux.Handle(verification.Path, verification.NewHandler(s.verifier, s.logger))
	}

	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status       string        `json:"status"`
	Uptime       string        `json:"uptime"`
	Started      time.Time     `json:"started"`
	Storage      string        `json:"storage"`
	Verification bool          `json:"verification"`
	Expiry       *expiry.Stats `json:"expiry,omitempty"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:       "running",
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Started:      s.started,
		Storage:      s.cfg.Storage.Driver,
		Verification: s.verifier != nil,
	}
	if s.expiry != nil {
		stats := s.expiry.Stats()
		resp.Expiry = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
