package changefeed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"tuzemoon/internal/observability"
)

func newListenerDSN(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tuzemoon"),
		postgres.WithUsername("tuzemoon"),
		postgres.WithPassword("tuzemoon"),
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
	return dsn
}

func TestPGListener_ResyncsAfterConnectionLoss(t *testing.T) {
	dsn := newListenerDSN(t)
	ctx := context.Background()

	l, err := NewPGListener(ctx, dsn, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	var unknown, inserts atomic.Int32
	_, err = l.Subscribe(ctx, Subscription{Collection: "likes"}, func(e Event) {
		switch e.Type {
		case EventUnknown:
			unknown.Add(1)
		case EventInsert:
			inserts.Add(1)
		}
	})
	require.NoError(t, err)

	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { admin.Close(context.Background()) })

	notify := func() {
		_, err := admin.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel,
			`{"table":"likes","type":"INSERT","record":{"meme_id":42}}`)
		require.NoError(t, err)
	}
	notify()
	require.Eventually(t, func() bool { return inserts.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, unknown.Load())

	// drop the listener's session as a network failure would
	_, err = admin.Exec(ctx, `
		SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE pid <> pg_backend_pid() AND query LIKE 'LISTEN%'`)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return unknown.Load() == 1 }, 10*time.Second, 50*time.Millisecond,
		"subscribers are told to re-read after the gap")

	notify()
	require.Eventually(t, func() bool { return inserts.Load() == 2 }, 5*time.Second, 20*time.Millisecond,
		"notifications flow on the new connection")
}
