package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tuzemoon/internal/retry"
)

const applicationName = "tuzemoon"

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// PoolOption tunes the pool before it connects.
type PoolOption func(*poolOptions)

type poolOptions struct {
	maxConns int32
	connect  retry.Policy
}

// WithMaxConns caps the number of open connections.
func WithMaxConns(n int32) PoolOption {
	return func(o *poolOptions) { o.maxConns = n }
}

// WithConnectRetry sets how the initial ping is retried. Useful when the
// database container starts alongside the service.
func WithConnectRetry(p retry.Policy) PoolOption {
	return func(o *poolOptions) { o.connect = p }
}

// NewPool creates a new Postgres connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string, opts ...PoolOption) (*Pool, error) {
	o := poolOptions{connect: retry.Fixed(1, 0)}
	for _, opt := range opts {
		opt(&o)
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if o.maxConns > 0 {
		config.MaxConns = o.maxConns
	}
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	err = retry.Do(ctx, o.connect, func(ctx context.Context, _ int) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// SQLSTATE codes mapped onto storage errors.
const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isDuplicateKeyError reports a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	return err != nil && pgCode(err) == pgErrUniqueViolation
}

// isMissingReferenceError reports an insert whose meme or user row vanished
// between the existence check and the write.
func isMissingReferenceError(err error) bool {
	return err != nil && pgCode(err) == pgErrForeignKeyViolation
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
