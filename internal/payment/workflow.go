package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/functions"
	"tuzemoon/internal/notice"
	"tuzemoon/internal/observability"
	"tuzemoon/internal/querycache"
	"tuzemoon/internal/reconcile"
	"tuzemoon/internal/retry"
	"tuzemoon/internal/session"
	"tuzemoon/internal/solana"
	"tuzemoon/internal/storage"
	"tuzemoon/internal/wallet"
)

// Default workflow values.
const (
	DefaultFeatureDuration = 24 * time.Hour
	DefaultDeadline        = 3 * time.Minute
	DefaultConfirmTimeout  = 90 * time.Second
	DefaultPollInterval    = 2 * time.Second
	notifyTimeout          = 5 * time.Second
)

// DefaultAmount is the Tuzemoon fee in SOL.
var DefaultAmount = decimal.RequireFromString("0.1")

// Config holds the fixed terms of a Tuzemoon payment.
type Config struct {
	Recipient       solana.PublicKey
	Amount          decimal.Decimal // SOL
	Commitment      string
	FeatureDuration time.Duration
	Retry           retry.Policy
	PollInterval    time.Duration
	ConfirmTimeout  time.Duration
	// Deadline bounds a whole run, wallet prompts included.
	Deadline   time.Duration
	InstallURL string
}

func (c *Config) applyDefaults() {
	if c.Amount.IsZero() {
		c.Amount = DefaultAmount
	}
	if c.Commitment == "" {
		c.Commitment = solana.CommitmentConfirmed
	}
	if c.FeatureDuration <= 0 {
		c.FeatureDuration = DefaultFeatureDuration
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = retry.DefaultPolicy()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.InstallURL == "" {
		c.InstallURL = wallet.DefaultInstallURL
	}
}

// Verifier checks a submitted payment on the server.
type Verifier interface {
	VerifySolanaPayment(ctx context.Context, req functions.VerifyPaymentRequest) (*functions.VerifyPaymentResponse, error)
}

// Announcer publishes a featured meme to the community channel.
type Announcer interface {
	NotifyTelegram(ctx context.Context, n functions.TelegramNotice) error
}

// Redirector sends the user to a URL, e.g. the wallet install page.
type Redirector interface {
	Redirect(url string)
}

// RedirectFunc adapts a function to Redirector.
type RedirectFunc func(url string)

// Redirect calls f.
func (f RedirectFunc) Redirect(url string) { f(url) }

// Deps are the collaborators of a Workflow. Events, WS, Announcer, Cache and
// OnTransition are optional.
type Deps struct {
	Session    session.Accessor
	Wallets    wallet.Provider
	RPC        solana.RPCClient
	WS         solana.WSClient
	Verifier   Verifier
	Announcer  Announcer
	Memes      storage.MemeStore
	Payments   storage.PaymentStore
	Events     storage.PaymentEventStore
	Cache      *querycache.Cache
	Redirector Redirector
	Notices    notice.Sink
	Logger     *slog.Logger

	OnTransition func(Transition)
	Now          func() time.Time
}

// Workflow runs Tuzemoon payments. It is safe for concurrent use; a second
// run for the same user and meme is refused while one is in flight.
type Workflow struct {
	cfg  Config
	deps Deps

	lamports uint64
	table    reconcile.InvalidationTable
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a Workflow.
func New(cfg Config, deps Deps) (*Workflow, error) {
	cfg.applyDefaults()
	if cfg.Recipient == (solana.PublicKey{}) {
		return nil, errors.New("payment: recipient is required")
	}
	lamports := domain.SOLToLamports(cfg.Amount)
	if lamports == 0 {
		return nil, fmt.Errorf("payment: amount %s SOL is below one lamport", cfg.Amount)
	}
	if deps.Session == nil || deps.Memes == nil || deps.RPC == nil || deps.Verifier == nil {
		return nil, errors.New("payment: session, meme store, rpc and verifier are required")
	}
	if deps.Wallets == nil {
		deps.Wallets = wallet.NotInstalled
	}
	if deps.Notices == nil {
		deps.Notices = notice.Discard
	}
	if deps.Redirector == nil {
		deps.Redirector = RedirectFunc(func(string) {})
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}

	return &Workflow{
		cfg:      cfg,
		deps:     deps,
		lamports: lamports,
		table:    reconcile.DefaultTable(),
		logger:   deps.Logger.With(slog.String("component", "payment")),
		inflight: make(map[string]struct{}),
	}, nil
}

// Lamports returns the fee in lamports.
func (w *Workflow) Lamports() uint64 { return w.lamports }

// PayAndFeature features memeID for the current user. Admins skip payment.
// Every failure wraps one domain error: ErrUnauthenticated, ErrWalletNotInstalled,
// ErrUserRejected, ErrTransientNetwork, ErrVerificationFailed or ErrActionFailed.
func (w *Workflow) PayAndFeature(ctx context.Context, memeID int64) (*Result, error) {
	user := w.deps.Session.Current()
	if user == nil {
		w.deps.Notices.Notify(notice.Notice{Level: notice.Error, Title: "Sign in required", Message: "Please sign in to feature a meme"})
		return nil, domain.ErrUnauthenticated
	}

	key := user.ID + ":" + strconv.FormatInt(memeID, 10)
	if !w.acquire(key) {
		w.deps.Notices.Notify(notice.Notice{Level: notice.Info, Title: "Payment in progress", Message: "Finish the open payment first"})
		return nil, fmt.Errorf("%w: payment already in progress", domain.ErrActionFailed)
	}
	defer w.release(key)

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Deadline)
	defer cancel()

	r := &run{
		w:       w,
		user:    user,
		memeID:  memeID,
		state:   StateIdle,
		started: w.deps.Now(),
		result:  &Result{AttemptID: uuid.NewString(), State: StateIdle},
	}
	r.logger = w.logger.With(
		slog.String("attempt_id", r.result.AttemptID),
		slog.String("user_id", user.ID),
		slog.Int64("meme_id", memeID),
	)

	var err error
	if user.CanFeatureWithoutPayment() {
		err = r.adminBypass(ctx)
	} else {
		err = r.pay(ctx)
	}

	outcome := string(r.state)
	if err != nil {
		outcome = "failed"
	}
	observability.RecordPaymentOutcome(outcome, w.deps.Now().Sub(r.started).Seconds())
	r.result.State = r.state
	return r.result, err
}

func (w *Workflow) acquire(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[key]; busy {
		return false
	}
	w.inflight[key] = struct{}{}
	return true
}

func (w *Workflow) release(key string) {
	w.mu.Lock()
	delete(w.inflight, key)
	w.mu.Unlock()
}

// run is the state of one PayAndFeature call.
type run struct {
	w       *Workflow
	user    *domain.User
	memeID  int64
	state   State
	started time.Time
	result  *Result
	payment *domain.Payment
	logger  *slog.Logger
}

func (r *run) transition(ctx context.Context, to State, cause error) {
	from := r.state
	if !canTransition(from, to) {
		// programming error; keep the run consistent rather than panic
		r.logger.Error("illegal payment transition", slog.String("from", string(from)), slog.String("to", string(to)))
		return
	}
	r.state = to

	t := Transition{
		AttemptID: r.result.AttemptID,
		UserID:    r.user.ID,
		MemeID:    r.memeID,
		From:      from,
		To:        to,
		Signature: r.result.Signature,
		Err:       cause,
		At:        r.w.deps.Now().UTC(),
	}

	attrs := []any{
		slog.String("from", string(from)),
		slog.String("state", string(to)),
	}
	if t.Signature != "" {
		attrs = append(attrs, slog.String("signature", t.Signature))
	}
	if cause != nil {
		attrs = append(attrs, slog.Any("error", cause))
		r.logger.Warn("payment transition", attrs...)
	} else {
		r.logger.Info("payment transition", attrs...)
	}
	observability.RecordPaymentTransition(string(to))

	if r.w.deps.Events != nil {
		ev := &domain.PaymentEvent{
			AttemptID:  t.AttemptID,
			UserID:     t.UserID,
			MemeID:     t.MemeID,
			State:      string(to),
			Signature:  t.Signature,
			OccurredAt: t.At,
		}
		if cause != nil {
			ev.Error = cause.Error()
		}
		// audit survives the run's deadline
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		if err := r.w.deps.Events.Insert(actx, ev); err != nil {
			r.logger.Warn("payment event not recorded", slog.Any("error", err))
		}
		cancel()
	}

	if r.w.deps.OnTransition != nil {
		r.w.deps.OnTransition(t)
	}
}

// fail moves to Failed and returns err wrapping sentinel. A recorded payment
// stays pending: the transfer may still land, and the verifier or support can
// settle it later.
func (r *run) fail(ctx context.Context, sentinel, cause error, n notice.Notice) error {
	err := sentinel
	if cause != nil && !errors.Is(cause, sentinel) {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	} else if cause != nil {
		err = cause
	}
	r.transition(ctx, StateFailed, err)
	r.w.deps.Notices.Notify(n)
	return err
}

// reject fails the run and settles the payment as failed. Only for outcomes
// that cannot change: an on-chain error or a verifier verdict.
func (r *run) reject(ctx context.Context, sentinel, cause error, n notice.Notice) error {
	err := r.fail(ctx, sentinel, cause, n)
	r.markPaymentFailed(ctx, err)
	return err
}

func (r *run) adminBypass(ctx context.Context) error {
	r.result.AdminBypass = true
	r.logger.Info("admin bypass, skipping payment")
	until, err := r.activate(ctx)
	if err != nil {
		return r.fail(ctx, domain.ErrActionFailed, err, notice.Notice{
			Level: notice.Error, Title: "Tuzemoon failed", Message: "Could not feature the meme, please try again",
		})
	}
	r.transition(ctx, StateVerified, nil)
	r.finish(ctx, until)
	return nil
}

func (r *run) pay(ctx context.Context) error {
	w := r.w

	r.transition(ctx, StateWalletConnecting, nil)
	wal, err := w.deps.Wallets.Detect()
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotInstalled) {
			w.deps.Redirector.Redirect(w.cfg.InstallURL)
		}
		return r.fail(ctx, domain.ErrWalletNotInstalled, err, notice.Notice{
			Level: notice.Error, Title: "Wallet not installed", Message: "Install a Solana wallet to continue: " + w.cfg.InstallURL,
		})
	}

	pub, err := retry.Value(ctx, w.policy(), func(ctx context.Context, _ int) (solana.PublicKey, error) {
		return wal.Connect(ctx)
	})
	if err != nil {
		return r.failStep(ctx, "connect wallet", err)
	}
	if err := solana.ValidatePublicKey(pub.String()); err != nil {
		return r.fail(ctx, domain.ErrActionFailed, err, notice.Notice{
			Level: notice.Error, Title: "Wallet error", Message: "The wallet returned an unusable address",
		})
	}
	r.result.Wallet = pub
	r.logger = r.logger.With(slog.String("wallet", pub.String()))
	r.transition(ctx, StateWalletConnected, nil)

	if _, err := w.deps.Memes.GetByID(ctx, r.memeID); err != nil {
		return r.failStep(ctx, "load meme", err)
	}

	latest, err := retry.Value(ctx, w.policy(), func(ctx context.Context, _ int) (*solana.LatestBlockhash, error) {
		return w.deps.RPC.GetLatestBlockhash(ctx)
	})
	if err != nil {
		return r.failStep(ctx, "get blockhash", err)
	}
	blockhash, err := solana.ParseHash(latest.Blockhash)
	if err != nil {
		return r.failStep(ctx, "get blockhash", err)
	}
	msg, err := solana.NewTransferMessage(pub, w.cfg.Recipient, w.lamports, blockhash)
	if err != nil {
		return r.failStep(ctx, "build transfer", err)
	}
	tx := solana.NewTransaction(msg)
	r.transition(ctx, StateAwaitingSignature, nil)

	// A rejected prompt is final; other wallet errors are retried.
	err = retry.Do(ctx, w.policy(), func(ctx context.Context, _ int) error {
		return wal.SignTransaction(ctx, tx)
	})
	if err != nil {
		return r.failStep(ctx, "sign transfer", err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		return r.failStep(ctx, "serialize transfer", err)
	}

	// Resending the same signed bytes cannot pay twice: the network
	// deduplicates by signature.
	sig, err := retry.Value(ctx, w.policy(), func(ctx context.Context, _ int) (string, error) {
		return w.deps.RPC.SendTransaction(ctx, raw)
	})
	if err != nil {
		return r.failStep(ctx, "send transfer", err)
	}
	if sig != tx.ID() {
		r.logger.Warn("rpc returned unexpected signature", slog.String("rpc_signature", sig), slog.String("signature", tx.ID()))
	}
	r.result.Signature = tx.ID()
	r.logger = r.logger.With(slog.String("signature", r.result.Signature))
	r.transition(ctx, StateSubmitted, nil)
	r.recordPending(ctx, pub)

	r.transition(ctx, StateConfirming, nil)
	if err := r.confirm(ctx); err != nil {
		if errors.Is(err, errOnChainFailure) {
			return r.reject(ctx, domain.ErrActionFailed, err, notice.Notice{
				Level: notice.Error, Title: "Transaction failed", Message: "The transfer failed on-chain. Your meme was not featured.",
			})
		}
		return r.failStep(ctx, "confirm transfer", err)
	}

	unverified := notice.Notice{
		Level: notice.Error,
		Title: "Payment not verified",
		Message: "We could not verify your payment. If SOL left your wallet, contact support with transaction " +
			r.result.Signature,
	}
	verdict, err := retry.Value(ctx, w.policy(), func(ctx context.Context, _ int) (*functions.VerifyPaymentResponse, error) {
		res, err := w.deps.Verifier.VerifySolanaPayment(ctx, functions.VerifyPaymentRequest{
			Signature:     r.result.Signature,
			WalletAddress: pub.String(),
			MemeID:        r.memeID,
			UserID:        r.user.ID,
			Amount:        w.cfg.Amount,
		})
		if err == nil && res.IsPending() {
			return nil, errVerificationPending
		}
		return res, err
	})
	if err != nil {
		sentinel := domain.ErrVerificationFailed
		if isExhausted(err) || isContextErr(err) {
			sentinel = domain.ErrTransientNetwork
		}
		return r.fail(ctx, sentinel, err, unverified)
	}
	if verdict.Verified == nil || !*verdict.Verified {
		return r.reject(ctx, domain.ErrVerificationFailed, fmt.Errorf("server rejected payment: %s", verdict.Reason), unverified)
	}
	if verdict.PaymentID != "" {
		r.result.PaymentID = verdict.PaymentID
	}
	r.markPaymentSucceeded(ctx)

	until, err := r.activate(ctx)
	if err != nil {
		return r.fail(ctx, domain.ErrActionFailed, err, notice.Notice{
			Level: notice.Error,
			Title: "Tuzemoon failed",
			Message: "Your payment was verified but the meme could not be featured. Contact support with transaction " +
				r.result.Signature,
		})
	}
	r.transition(ctx, StateVerified, nil)
	r.finish(ctx, until)
	return nil
}

// failStep maps a step error to its domain error and fails the run.
func (r *run) failStep(ctx context.Context, step string, err error) error {
	err = fmt.Errorf("%s: %w", step, err)
	switch {
	case errors.Is(err, domain.ErrUserRejected):
		return r.fail(ctx, domain.ErrUserRejected, err, notice.Notice{
			Level: notice.Info, Title: "Request cancelled", Message: "You declined the wallet request. You can try again any time.",
		})
	case isTransient(err) || isContextErr(err) || isExhausted(err) || errors.Is(err, errConfirmTimeout):
		return r.fail(ctx, domain.ErrTransientNetwork, err, notice.Notice{
			Level: notice.Error, Title: "Network problem", Message: "Could not reach the network, please try again",
		})
	default:
		return r.fail(ctx, domain.ErrActionFailed, err, notice.Notice{
			Level: notice.Error, Title: "Tuzemoon failed", Message: "Something went wrong, please try again",
		})
	}
}

// activate sets the featured flag for FeatureDuration from now.
func (r *run) activate(ctx context.Context) (time.Time, error) {
	until := r.w.deps.Now().Add(r.w.cfg.FeatureDuration).UTC()
	err := retry.Do(ctx, r.w.policy(), func(ctx context.Context, _ int) error {
		return r.w.deps.Memes.SetFeatured(ctx, r.memeID, until)
	})
	if err != nil {
		return time.Time{}, err
	}
	r.result.FeaturedUntil = until
	return until, nil
}

func (r *run) finish(ctx context.Context, until time.Time) {
	w := r.w
	if w.deps.Cache != nil {
		for _, p := range w.table.Prefixes(domain.CollectionMemes) {
			w.deps.Cache.Invalidate(querycache.Prefix(p))
		}
		w.deps.Cache.Invalidate(querycache.Exact(querycache.PaymentsKey(r.user.ID)))
	}

	w.deps.Notices.Notify(notice.Notice{
		Level:   notice.Success,
		Title:   "Tuzemoon activated",
		Message: "Your meme is featured until " + until.Format(time.RFC1123),
	})

	if w.deps.Announcer == nil {
		return
	}
	title := ""
	if m, err := w.deps.Memes.GetByID(ctx, r.memeID); err == nil {
		title = m.Title
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	err := w.deps.Announcer.NotifyTelegram(nctx, functions.TelegramNotice{
		MemeID:  r.memeID,
		Title:   title,
		Message: fmt.Sprintf("%s is on Tuzemoon until %s", title, until.Format(time.RFC1123)),
	})
	if err != nil {
		r.logger.Warn("telegram notification failed", slog.Any("error", err))
	}
}

func (r *run) recordPending(ctx context.Context, pub solana.PublicKey) {
	if r.w.deps.Payments == nil {
		return
	}
	now := r.w.deps.Now().UTC()
	p := &domain.Payment{
		ID:            uuid.NewString(),
		UserID:        r.user.ID,
		MemeID:        r.memeID,
		Amount:        r.w.cfg.Amount,
		Signature:     r.result.Signature,
		WalletAddress: pub.String(),
		Status:        domain.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := retry.Do(ctx, r.w.policy(), func(ctx context.Context, _ int) error {
		err := r.w.deps.Payments.Insert(ctx, p)
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil
		}
		return err
	})
	if err != nil {
		// the verifier records the payment server-side as well
		r.logger.Error("pending payment not recorded", slog.Any("error", err))
		return
	}
	if existing, err := r.w.deps.Payments.GetBySignature(ctx, p.Signature); err == nil {
		p = existing
	}
	r.payment = p
	r.result.PaymentID = p.ID
}

func (r *run) markPaymentSucceeded(ctx context.Context) {
	r.updatePayment(ctx, domain.PaymentSuccess, nil)
}

func (r *run) markPaymentFailed(ctx context.Context, cause error) {
	msg := cause.Error()
	r.updatePayment(ctx, domain.PaymentFailed, &msg)
}

func (r *run) updatePayment(ctx context.Context, status domain.PaymentStatus, errMsg *string) {
	if r.payment == nil || r.payment.Status.IsTerminal() {
		return
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	err := r.w.deps.Payments.UpdateStatus(uctx, r.payment.ID, status, errMsg)
	if errors.Is(err, storage.ErrInvalidTransition) {
		// the verifier may already have settled it
		if current, gerr := r.w.deps.Payments.GetByID(uctx, r.payment.ID); gerr == nil {
			r.payment = current
			if current.Status == status {
				return
			}
		}
	}
	if err != nil {
		r.logger.Error("payment status not updated", slog.String("status", string(status)), slog.Any("error", err))
		return
	}
	r.payment.Status = status
}

func (w *Workflow) policy() retry.Policy {
	return w.cfg.Retry.WithClassifier(isTransient)
}

// isTransient classifies errors worth another attempt. Rejections, node
// refusals and cancellations are final.
func isTransient(err error) bool {
	if errors.Is(err, domain.ErrUserRejected) || isContextErr(err) {
		return false
	}
	var rpcErr *solana.RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	return domain.IsRetriable(err) || errors.Is(err, solana.ErrTransport) || errors.Is(err, solana.ErrConnectionLost) ||
		errors.Is(err, errVerificationPending)
}

func isExhausted(err error) bool {
	var exhausted *retry.ExhaustedError
	return errors.As(err, &exhausted)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
