package storage

import (
	"context"
	"time"

	"tuzemoon/internal/domain"
)

// MemeStore provides access to memes storage.
type MemeStore interface {
	// Insert adds a new meme and assigns its ID.
	Insert(ctx context.Context, m *domain.Meme) error

	// GetByID retrieves a meme by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Meme, error)

	// GetByIDs retrieves the listed memes among ids, newest first. Missing IDs are skipped.
	GetByIDs(ctx context.Context, ids []int64, now time.Time) ([]*domain.Meme, error)

	// List retrieves one page of listed memes matching the filter.
	List(ctx context.Context, filter domain.MemeFilter, now time.Time) ([]*domain.Meme, error)

	// ListFeatured retrieves memes whose featured flag is active at now,
	// ordered by tuzemoon_until DESC.
	ListFeatured(ctx context.Context, now time.Time) ([]*domain.Meme, error)

	// ListByCreator retrieves all memes created by a user, newest first.
	ListByCreator(ctx context.Context, userID string) ([]*domain.Meme, error)

	// SetFeatured sets is_featured and tuzemoon_until. Returns ErrNotFound if not exists.
	SetFeatured(ctx context.Context, id int64, until time.Time) error

	// ClearExpiredFeatures unsets the featured flag on memes whose expiry passed.
	// Returns the number of memes updated.
	ClearExpiredFeatures(ctx context.Context, now time.Time) (int64, error)
}

// LikeStore provides access to likes storage. Inserts and deletes keep
// memes.likes in sync within the same transaction.
type LikeStore interface {
	// Insert adds a like. Returns ErrDuplicateKey if (user, meme) exists,
	// ErrNotFound if the meme does not exist.
	Insert(ctx context.Context, l *domain.Like) error

	// Delete removes a like. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, userID string, memeID int64) error

	// Exists reports whether the user liked the meme.
	Exists(ctx context.Context, userID string, memeID int64) (bool, error)

	// GetMemeIDsByUser retrieves IDs of memes liked by a user, newest like first.
	GetMemeIDsByUser(ctx context.Context, userID string) ([]int64, error)
}

// WatchlistStore provides access to watchlist storage.
type WatchlistStore interface {
	// Insert adds an entry. Returns ErrDuplicateKey if (user, meme) exists.
	Insert(ctx context.Context, e *domain.WatchlistEntry) error

	// Delete removes an entry. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, userID string, memeID int64) error

	// Exists reports whether the meme is on the user's watchlist.
	Exists(ctx context.Context, userID string, memeID int64) (bool, error)

	// GetMemeIDsByUser retrieves IDs of watchlisted memes, newest entry first.
	GetMemeIDsByUser(ctx context.Context, userID string) ([]int64, error)
}

// PaymentStore provides access to tuzemoon_payments storage.
type PaymentStore interface {
	// Insert adds a new payment. Returns ErrDuplicateKey if id or signature exists.
	Insert(ctx context.Context, p *domain.Payment) error

	// GetByID retrieves a payment by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetBySignature retrieves a payment by transaction signature. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.Payment, error)

	// GetByUser retrieves all payments of a user, newest first.
	GetByUser(ctx context.Context, userID string) ([]*domain.Payment, error)

	// UpdateStatus moves a pending payment to a terminal status.
	// Returns ErrInvalidTransition if the stored status is not pending.
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, errMsg *string) error
}

// UserStore provides access to users storage.
type UserStore interface {
	// Insert adds a user. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, u *domain.User) error

	// GetByID retrieves a user. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// PaymentEventStore provides access to the append-only payment_events audit log.
type PaymentEventStore interface {
	// Insert appends an event.
	Insert(ctx context.Context, e *domain.PaymentEvent) error

	// GetByAttemptID retrieves all events of one workflow run, ordered by occurred_at ASC.
	GetByAttemptID(ctx context.Context, attemptID string) ([]*domain.PaymentEvent, error)
}
