// Command tuzemoon pays the Tuzemoon fee for a meme from a local keypair and
// features it once the payment is confirmed and verified.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tuzemoon/internal/config"
	"tuzemoon/internal/domain"
	"tuzemoon/internal/functions"
	"tuzemoon/internal/notice"
	"tuzemoon/internal/observability"
	"tuzemoon/internal/payment"
	"tuzemoon/internal/querycache"
	"tuzemoon/internal/session"
	"tuzemoon/internal/solana"
	"tuzemoon/internal/storage"
	chstore "tuzemoon/internal/storage/clickhouse"
	"tuzemoon/internal/storage/memory"
	pgstore "tuzemoon/internal/storage/postgres"
	"tuzemoon/internal/verification"
	"tuzemoon/internal/wallet"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	// Parse flags
	configPath := flag.String("config", os.Getenv("TUZEMOON_CONFIG"), "Path to YAML config file")
	keypairPath := flag.String("keypair", "", "Path to a Solana keypair JSON file (omit to simulate a missing wallet)")
	memeID := flag.Int64("meme", 0, "Meme ID to feature (required)")
	userID := flag.String("user", os.Getenv("TUZEMOON_USER_ID"), "Acting user ID (required)")
	yes := flag.Bool("yes", false, "Approve wallet prompts without asking")
	outputJSON := flag.Bool("json", false, "Output result as JSON")
	flag.Parse()

	if *memeID <= 0 || *userID == "" {
		fmt.Fprintln(os.Stderr, "--meme and --user are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	recipient, ok := cfg.RecipientKey()
	if !ok {
		fmt.Fprintln(os.Stderr, "solana.recipient (or TUZEMOON_RECIPIENT) is required")
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling payment", "signal", sig.String())
		cancel()
	}()

	result, err := run(ctx, cfg, recipient, options{
		keypairPath: *keypairPath,
		memeID:      *memeID,
		userID:      *userID,
		autoApprove: *yes,
	}, logger)

	if *outputJSON {
		printJSON(result, err)
	} else {
		printText(result, err)
	}
	if err != nil {
		os.Exit(1)
	}
}

type options struct {
	keypairPath string
	memeID      int64
	userID      string
	autoApprove bool
}

func run(ctx context.Context, cfg *config.Config, recipient solana.PublicKey, opts options, logger *slog.Logger) (*payment.Result, error) {
	stores, cleanup, err := openStores(ctx, cfg, opts.memeID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	user, err := stores.users.GetByID(ctx, opts.userID)
	if errors.Is(err, storage.ErrNotFound) && cfg.Storage.Driver == config.DriverMemory {
		user = &domain.User{ID: opts.userID}
		err = stores.users.Insert(ctx, user)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", opts.userID, err)
	}
	sess := session.NewManager()
	sess.SignIn(user)

	wallets := wallet.NotInstalled
	if opts.keypairPath != "" {
		approve := wallet.AutoApprove
		if !opts.autoApprove {
			approve = promptApprover(os.Stdin, os.Stderr)
		}
		kp, err := wallet.LoadKeypairFile(opts.keypairPath, approve)
		if err != nil {
			return nil, err
		}
		wallets = wallet.Installed(kp)
	}

	rpc := solana.NewSingleAttemptClient(cfg.Solana.RPCURL, cfg.Solana.Commitment)

	cache := querycache.New(querycache.Options{
		StaleTime:    cfg.Cache.StaleTime,
		FetchTimeout: cfg.Cache.FetchTimeout,
	}, logger)
	defer cache.Close()

	deps := payment.Deps{
		Session:  sess,
		Wallets:  wallets,
		RPC:      rpc,
		Memes:    stores.memes,
		Payments: stores.payments,
		Events:   stores.events,
		Cache:    cache,
		Redirector: payment.RedirectFunc(func(url string) {
			fmt.Fprintf(os.Stderr, "No Solana wallet found. Install one at %s\n", url)
		}),
		Notices: notice.SinkFunc(func(n notice.Notice) {
			fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", n.Level, n.Title, n.Message)
		}),
		Logger: logger,
		OnTransition: func(t payment.Transition) {
			logger.Debug("payment state", "from", t.From, "to", t.To, "signature", t.Signature)
		},
	}

	if cfg.Solana.WSURL != "" {
		ws, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, nil, logger)
		if err != nil {
			// polling covers confirmation without the socket
			logger.Warn("solana websocket unavailable, polling instead", "error", err)
		} else {
			defer ws.Close()
			deps.WS = ws
		}
	}

	if cfg.Backend.FunctionsURL != "" {
		fn := functions.New(functions.Config{
			BaseURL: cfg.Backend.FunctionsURL,
			APIKey:  cfg.Backend.APIKey,
		}, logger)
		defer fn.Close()
		deps.Verifier = fn
		deps.Announcer = fn
	} else {
		// No backend configured: verify against the chain in-process.
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
		deps.Verifier = v
	}

	wf, err := payment.New(payment.Config{
		Recipient:       recipient,
		Amount:          cfg.Solana.AmountSOL,
		Commitment:      cfg.Solana.Commitment,
		FeatureDuration: cfg.Payment.FeatureDuration,
		Retry:           cfg.RetryPolicy(),
		PollInterval:    cfg.Payment.PollInterval,
		ConfirmTimeout:  cfg.Payment.ConfirmTimeout,
		Deadline:        cfg.Payment.Deadline,
	}, deps)
	if err != nil {
		return nil, err
	}

	return wf.PayAndFeature(ctx, opts.memeID)
}

type cliStores struct {
	memes    storage.MemeStore
	payments storage.PaymentStore
	users    storage.UserStore
	events   storage.PaymentEventStore
}

// openStores connects to the configured storage. In memory mode a placeholder
// meme is created so the flow can run against a devnet node.
func openStores(ctx context.Context, cfg *config.Config, memeID int64) (*cliStores, func(), error) {
	if cfg.Storage.Driver == config.DriverMemory {
		memes := memory.NewMemeStore(nil)
		err := memes.Insert(ctx, &domain.Meme{
			ID:         memeID,
			Title:      fmt.Sprintf("meme %d", memeID),
			Blockchain: "solana",
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return nil, nil, err
		}
		return &cliStores{
			memes:    memes,
			payments: memory.NewPaymentStore(nil),
			users:    memory.NewUserStore(),
			events:   memory.NewPaymentEventStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	stores := &cliStores{
		memes:    pgstore.NewMemeStore(pool),
		payments: pgstore.NewPaymentStore(pool),
		users:    pgstore.NewUserStore(pool),
		events:   memory.NewPaymentEventStore(),
	}

	var chConn *chstore.Conn
	if cfg.Storage.ClickhouseDSN != "" {
		chConn, err = chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		stores.events = chstore.NewPaymentEventStore(chConn)
	}

	return stores, func() {
		if chConn != nil {
			chConn.Close()
		}
		pool.Close()
	}, nil
}

type jsonResult struct {
	State         string     `json:"state,omitempty"`
	Signature     string     `json:"signature,omitempty"`
	PaymentID     string     `json:"payment_id,omitempty"`
	Wallet        string     `json:"wallet,omitempty"`
	FeaturedUntil *time.Time `json:"featured_until,omitempty"`
	AdminBypass   bool       `json:"admin_bypass,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func printJSON(r *payment.Result, err error) {
	out := jsonResult{}
	if r != nil {
		out.State = string(r.State)
		out.Signature = r.Signature
		out.PaymentID = r.PaymentID
		if r.Wallet != (solana.PublicKey{}) {
			out.Wallet = r.Wallet.String()
		}
		if !r.FeaturedUntil.IsZero() {
			out.FeaturedUntil = &r.FeaturedUntil
		}
		out.AdminBypass = r.AdminBypass
	}
	if err != nil {
		out.Error = err.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

func printText(r *payment.Result, err error) {
	if err != nil {
		fmt.Printf("Payment failed: %v\n", err)
		if r != nil && r.Signature != "" {
			fmt.Printf("Transaction: %s\n", r.Signature)
		}
		return
	}
	if r.AdminBypass {
		fmt.Println("Featured without payment (admin)")
	} else {
		fmt.Printf("Payment verified: %s\n", r.Signature)
	}
	if !r.FeaturedUntil.IsZero() {
		fmt.Printf("Featured until %s\n", r.FeaturedUntil.Format(time.RFC1123))
	}
}
