package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

const memeColumns = `
	id, title, description, image_url, blockchain,
	trade_url, twitter_url, telegram_url,
	likes, created_by, created_at,
	is_featured, tuzemoon_until, time_until_listing
`

// MemeStore implements storage.MemeStore using PostgreSQL.
type MemeStore struct {
	pool *Pool
}

// NewMemeStore creates a new MemeStore.
func NewMemeStore(pool *Pool) *MemeStore {
	return &MemeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MemeStore = (*MemeStore)(nil)

// Insert adds a new meme and assigns its ID.
func (s *MemeStore) Insert(ctx context.Context, m *domain.Meme) error {
	if m == nil || m.Title == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO memes (
			title, description, image_url, blockchain,
			trade_url, twitter_url, telegram_url,
			likes, created_by, created_at,
			is_featured, tuzemoon_until, time_until_listing
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, query,
		m.Title, m.Description, m.ImageURL, m.Blockchain,
		m.TradeURL, m.TwitterURL, m.TelegramURL,
		m.Likes, m.CreatedBy, createdAt,
		m.IsFeatured, m.TuzemoonUntil, m.TimeUntilListing,
	).Scan(&m.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert meme: %w", err)
	}
	m.CreatedAt = createdAt
	return nil
}

// GetByID retrieves a meme by ID. Returns ErrNotFound if not exists.
func (s *MemeStore) GetByID(ctx context.Context, id int64) (*domain.Meme, error) {
	query := `SELECT ` + memeColumns + ` FROM memes WHERE id = $1`

	m, err := scanMeme(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get meme by id: %w", err)
	}
	return m, nil
}

// GetByIDs retrieves the listed memes among ids, newest first.
func (s *MemeStore) GetByIDs(ctx context.Context, ids []int64, now time.Time) ([]*domain.Meme, error) {
	if len(ids) == 0 {
		return []*domain.Meme{}, nil
	}

	query := `
		SELECT ` + memeColumns + `
		FROM memes
		WHERE id = ANY($1)
		  AND (time_until_listing IS NULL OR time_until_listing <= $2)
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, ids, now)
	if err != nil {
		return nil, fmt.Errorf("get memes by ids: %w", err)
	}
	defer rows.Close()

	return scanMemes(rows)
}

// List retrieves one page of listed memes matching the filter.
func (s *MemeStore) List(ctx context.Context, filter domain.MemeFilter, now time.Time) ([]*domain.Meme, error) {
	where := []string{"(time_until_listing IS NULL OR time_until_listing <= $1)"}
	args := []any{now}

	if filter.Blockchain != "" {
		args = append(args, filter.Blockchain)
		where = append(where, fmt.Sprintf("blockchain = $%d", len(args)))
	}
	if filter.SelectedDate != nil {
		day := filter.SelectedDate.UTC().Truncate(24 * time.Hour)
		args = append(args, day, day.Add(24*time.Hour))
		where = append(where, fmt.Sprintf("created_at >= $%d AND created_at < $%d", len(args)-1, len(args)))
	}

	order := "created_at DESC, id DESC"
	if filter.Sort == domain.SortMostLiked {
		order = "likes DESC, id DESC"
	}

	args = append(args, filter.Limit(), filter.Offset())
	query := fmt.Sprintf(`
		SELECT %s
		FROM memes
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, memeColumns, strings.Join(where, " AND "), order, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memes: %w", err)
	}
	defer rows.Close()

	return scanMemes(rows)
}

// ListFeatured retrieves memes featured at now, ordered by tuzemoon_until DESC.
func (s *MemeStore) ListFeatured(ctx context.Context, now time.Time) ([]*domain.Meme, error) {
	query := `
		SELECT ` + memeColumns + `
		FROM memes
		WHERE is_featured
		  AND (tuzemoon_until IS NULL OR tuzemoon_until > $1)
		  AND (time_until_listing IS NULL OR time_until_listing <= $1)
		ORDER BY tuzemoon_until DESC NULLS FIRST, id DESC
	`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list featured memes: %w", err)
	}
	defer rows.Close()

	return scanMemes(rows)
}

// ListByCreator retrieves all memes created by a user, newest first.
func (s *MemeStore) ListByCreator(ctx context.Context, userID string) ([]*domain.Meme, error) {
	query := `
		SELECT ` + memeColumns + `
		FROM memes
		WHERE created_by = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list memes by creator: %w", err)
	}
	defer rows.Close()

	return scanMemes(rows)
}

// SetFeatured sets is_featured and tuzemoon_until. Returns ErrNotFound if not exists.
func (s *MemeStore) SetFeatured(ctx context.Context, id int64, until time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memes SET is_featured = TRUE, tuzemoon_until = $2 WHERE id = $1`,
		id, until.UTC(),
	)
	if err != nil {
		return fmt.Errorf("set meme featured: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ClearExpiredFeatures unsets the featured flag on memes whose expiry passed.
func (s *MemeStore) ClearExpiredFeatures(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE memes
		SET is_featured = FALSE, tuzemoon_until = NULL
		WHERE is_featured AND tuzemoon_until IS NOT NULL AND tuzemoon_until <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("clear expired features: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanMeme scans a single row into a Meme.
func scanMeme(row pgx.Row) (*domain.Meme, error) {
	var m domain.Meme
	err := row.Scan(
		&m.ID, &m.Title, &m.Description, &m.ImageURL, &m.Blockchain,
		&m.TradeURL, &m.TwitterURL, &m.TelegramURL,
		&m.Likes, &m.CreatedBy, &m.CreatedAt,
		&m.IsFeatured, &m.TuzemoonUntil, &m.TimeUntilListing,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// scanMemes scans multiple rows into a slice of Meme.
func scanMemes(rows pgx.Rows) ([]*domain.Meme, error) {
	memes := []*domain.Meme{}
	for rows.Next() {
		m, err := scanMeme(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meme row: %w", err)
		}
		memes = append(memes, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meme rows: %w", err)
	}
	return memes, nil
}
