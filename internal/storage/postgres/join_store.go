package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tuzemoon/internal/storage"
)

// joinStore implements the (user, meme) join tables. When countLikes is set,
// inserts and deletes adjust memes.likes in the same transaction.
type joinStore struct {
	pool       *Pool
	table      string
	countLikes bool
}

func (s *joinStore) insert(ctx context.Context, userID string, memeID int64, createdAt time.Time) error {
	if userID == "" || memeID == 0 {
		return storage.ErrInvalidInput
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM memes WHERE id = $1)`, memeID).Scan(&exists); err != nil {
			return fmt.Errorf("check meme: %w", err)
		}
		if !exists {
			return storage.ErrNotFound
		}

		query := fmt.Sprintf(`INSERT INTO %s (user_id, meme_id, created_at) VALUES ($1, $2, $3)`, s.table)
		if _, err := tx.Exec(ctx, query, userID, memeID, createdAt); err != nil {
			switch {
			case isDuplicateKeyError(err):
				return storage.ErrDuplicateKey
			case isMissingReferenceError(err):
				return storage.ErrNotFound
			}
			return fmt.Errorf("insert %s: %w", s.table, err)
		}

		if s.countLikes {
			if _, err := tx.Exec(ctx, `UPDATE memes SET likes = likes + 1 WHERE id = $1`, memeID); err != nil {
				return fmt.Errorf("increment likes: %w", err)
			}
		}
		return nil
	})
}

func (s *joinStore) delete(ctx context.Context, userID string, memeID int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND meme_id = $2`, s.table)
		tag, err := tx.Exec(ctx, query, userID, memeID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", s.table, err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}

		if s.countLikes {
			if _, err := tx.Exec(ctx, `UPDATE memes SET likes = GREATEST(likes - 1, 0) WHERE id = $1`, memeID); err != nil {
				return fmt.Errorf("decrement likes: %w", err)
			}
		}
		return nil
	})
}

func (s *joinStore) exists(ctx context.Context, userID string, memeID int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE user_id = $1 AND meme_id = $2)`, s.table)
	var ok bool
	if err := s.pool.QueryRow(ctx, query, userID, memeID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check %s: %w", s.table, err)
	}
	return ok, nil
}

func (s *joinStore) memeIDsByUser(ctx context.Context, userID string) ([]int64, error) {
	query := fmt.Sprintf(`
		SELECT meme_id FROM %s
		WHERE user_id = $1
		ORDER BY created_at DESC, meme_id DESC
	`, s.table)

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get %s by user: %w", s.table, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan %s rows: %w", s.table, err)
	}
	return ids, nil
}
