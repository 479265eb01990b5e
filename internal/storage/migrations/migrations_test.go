package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "two statements with comments",
			input: "-- header\nCREATE TABLE a (x Int8);\n\n-- next\nCREATE TABLE b (y Int8);\n",
			want:  []string{"CREATE TABLE a (x Int8)", "CREATE TABLE b (y Int8)"},
		},
		{
			name:  "semicolon inside literal",
			input: "INSERT INTO t VALUES ('a;b');",
			want:  []string{"INSERT INTO t VALUES ('a;b')"},
		},
		{
			name:  "escaped quote",
			input: "SELECT 'it''s;fine'; SELECT 1",
			want:  []string{"SELECT 'it''s;fine'", "SELECT 1"},
		},
		{
			name:  "comment marker inside literal line is kept",
			input: "SELECT '\n-- not a comment\n';",
			want:  []string{"SELECT '\n-- not a comment\n'"},
		},
		{
			name:  "empty",
			input: "-- only a comment\n\n",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitStatements(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitStatements_Unterminated(t *testing.T) {
	_, err := splitStatements("SELECT 'oops;")
	require.Error(t, err)
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	for _, dir := range []struct {
		name string
		fsys fs.FS
	}{{"postgres", PostgresFS}, {"clickhouse", ClickhouseFS}} {
		files, err := sqlFiles(dir.fsys, dir.name)
		require.NoError(t, err)
		require.NotEmpty(t, files, dir.name)
		for i, f := range files {
			assert.True(t, strings.HasSuffix(f, ".sql"))
			if i > 0 {
				assert.Less(t, files[i-1], f, "migrations must sort by version")
			}
		}
	}

	data, err := fs.ReadFile(ClickhouseFS, "clickhouse/001_payment_events.sql")
	require.NoError(t, err)
	stmts, err := splitStatements(string(data))
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "payment_events")
}
