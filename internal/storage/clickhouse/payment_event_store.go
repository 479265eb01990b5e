package clickhouse

import (
	"context"
	"fmt"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

// PaymentEventStore implements storage.PaymentEventStore using ClickHouse.
type PaymentEventStore struct {
	conn *Conn
}

// NewPaymentEventStore creates a new PaymentEventStore.
func NewPaymentEventStore(conn *Conn) *PaymentEventStore {
	return &PaymentEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PaymentEventStore = (*PaymentEventStore)(nil)

// Insert appends an event. The table is append-only; duplicates are kept.
func (s *PaymentEventStore) Insert(ctx context.Context, e *domain.PaymentEvent) error {
	if e == nil || e.AttemptID == "" || e.State == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO payment_events (
			attempt_id, user_id, meme_id, state, signature, error, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		e.AttemptID, e.UserID, e.MemeID, e.State, e.Signature, e.Error, e.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

// GetByAttemptID retrieves all events of one workflow run, ordered by occurred_at ASC.
func (s *PaymentEventStore) GetByAttemptID(ctx context.Context, attemptID string) ([]*domain.PaymentEvent, error) {
	query := `
		SELECT attempt_id, user_id, meme_id, state, signature, error, occurred_at
		FROM payment_events
		WHERE attempt_id = ?
		ORDER BY occurred_at ASC
	`

	rows, err := s.conn.Query(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query payment events: %w", err)
	}
	defer rows.Close()

	var events []*domain.PaymentEvent
	for rows.Next() {
		var e domain.PaymentEvent
		if err := rows.Scan(
			&e.AttemptID, &e.UserID, &e.MemeID, &e.State, &e.Signature, &e.Error, &e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment events: %w", err)
	}

	return events, nil
}
