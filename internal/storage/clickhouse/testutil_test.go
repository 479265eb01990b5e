package clickhouse

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testImage = "clickhouse/clickhouse-server:24.8-alpine"

// newTestConn starts a ClickHouse container, loads the payment event schema
// and returns a connection bound to the "tuzemoon" database.
func newTestConn(t *testing.T) *Conn {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImage,
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":                        "tuzemoon",
				"CLICKHOUSE_USER":                      "default",
				"CLICKHOUSE_PASSWORD":                  "",
				"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
			},
			WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate clickhouse container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "clickhouse")
	require.NoError(t, err)

	conn, err := NewConn(ctx, endpoint+"/tuzemoon?dial_timeout=30s")
	require.NoError(t, err, "connect to clickhouse container")
	t.Cleanup(func() { _ = conn.Close() })

	loadSchema(t, conn)
	return conn
}

// loadSchema executes the migration files directly. The migrations package
// imports this one, so its runner cannot be used here.
func loadSchema(t *testing.T, conn *Conn) {
	t.Helper()

	files, err := filepath.Glob(filepath.Join("..", "migrations", "clickhouse", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no clickhouse migrations found")

	for _, file := range files {
		data, err := os.ReadFile(file)
		require.NoError(t, err)

		var body []string
		for _, line := range strings.Split(string(data), "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), "--") {
				body = append(body, line)
			}
		}
		for _, stmt := range strings.Split(strings.Join(body, "\n"), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			require.NoError(t, conn.Exec(context.Background(), stmt), "apply %s", filepath.Base(file))
		}
	}
}
