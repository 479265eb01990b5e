package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"tuzemoon/internal/retry"
)

// newTestPool starts a throwaway Postgres with the schema loaded as init
// scripts. The container is terminated when the test ends.
func newTestPool(t *testing.T) *Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	scripts, err := filepath.Glob(filepath.Join("..", "migrations", "postgres", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, scripts, "no postgres migrations found")

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tuzemoon"),
		postgres.WithUsername("tuzemoon"),
		postgres.WithPassword("tuzemoon"),
		postgres.WithInitScripts(scripts...),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn, WithMaxConns(4), WithConnectRetry(retry.Fixed(5, 200*time.Millisecond)))
	require.NoError(t, err, "connect to postgres container")
	t.Cleanup(pool.Close)

	return pool
}

func ptr[T any](v T) *T {
	return &v
}
