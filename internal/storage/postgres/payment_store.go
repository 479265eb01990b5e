package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

const paymentColumns = `
	id, user_id, meme_id, amount::text, signature, wallet_address,
	status, error_message, created_at, updated_at
`

// PaymentStore implements storage.PaymentStore using PostgreSQL.
type PaymentStore struct {
	pool *Pool
}

// NewPaymentStore creates a new PaymentStore.
func NewPaymentStore(pool *Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PaymentStore = (*PaymentStore)(nil)

// Insert adds a new payment. Returns ErrDuplicateKey if id or signature exists.
func (s *PaymentStore) Insert(ctx context.Context, p *domain.Payment) error {
	if p == nil || p.ID == "" || !p.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tuzemoon_payments (
			id, user_id, meme_id, amount, signature, wallet_address,
			status, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.MemeID, p.Amount.String(), p.Signature, p.WalletAddress,
		string(p.Status), p.ErrorMessage, p.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by ID. Returns ErrNotFound if not exists.
func (s *PaymentStore) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM tuzemoon_payments WHERE id = $1`

	p, err := scanPayment(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get payment by id: %w", err)
	}
	return p, nil
}

// GetBySignature retrieves a payment by transaction signature.
func (s *PaymentStore) GetBySignature(ctx context.Context, signature string) (*domain.Payment, error) {
	if signature == "" {
		return nil, storage.ErrNotFound
	}
	query := `SELECT ` + paymentColumns + ` FROM tuzemoon_payments WHERE signature = $1`

	p, err := scanPayment(s.pool.QueryRow(ctx, query, signature))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get payment by signature: %w", err)
	}
	return p, nil
}

// GetByUser retrieves all payments of a user, newest first.
func (s *PaymentStore) GetByUser(ctx context.Context, userID string) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM tuzemoon_payments
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get payments by user: %w", err)
	}
	defer rows.Close()

	payments := []*domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

// UpdateStatus moves a pending payment to a terminal status.
// Returns ErrNotFound if the payment does not exist and ErrInvalidTransition
// if it is no longer pending.
func (s *PaymentStore) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, errMsg *string) error {
	if !status.IsTerminal() {
		return storage.ErrInvalidTransition
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tuzemoon_payments
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tuzemoon_payments WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check payment: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrInvalidTransition
}

// scanPayment scans a single row into a Payment.
func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var amount, status string

	err := row.Scan(
		&p.ID, &p.UserID, &p.MemeID, &amount, &p.Signature, &p.WalletAddress,
		&status, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}
