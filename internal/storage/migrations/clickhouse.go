package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	chstore "tuzemoon/internal/storage/clickhouse"
)

const clickhouseMigrationsDDL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    String,
		applied_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree()
	ORDER BY version
`

// RunClickhouseMigrations creates the payment analytics database if needed,
// applies embedded SQL files not yet recorded in schema_migrations and
// returns a connection bound to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	opts, err := chstore.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	dbName := opts.Auth.Database
	if dbName == "" {
		return nil, fmt.Errorf("clickhouse dsn missing database")
	}

	if err := ensureDatabase(ctx, dsn, dbName); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	if err := applyClickhouse(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func ensureDatabase(ctx context.Context, dsn, dbName string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName)); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

func applyClickhouse(ctx context.Context, conn *chstore.Conn) error {
	if err := conn.Exec(ctx, clickhouseMigrationsDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations FINAL`)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return fmt.Errorf("read embedded clickhouse migrations: %w", err)
	}

	for _, file := range files {
		if applied[file] {
			continue
		}
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		stmts, err := splitStatements(string(data))
		if err != nil {
			return fmt.Errorf("parse migration %s: %w", file, err)
		}
		// The native protocol executes one statement per call.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
		if err := conn.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, file); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
	}
	return nil
}

// splitStatements splits a migration on semicolons outside single-quoted
// literals. Full-line -- comments are dropped. An unterminated literal is an
// error rather than a silently merged statement.
func splitStatements(input string) ([]string, error) {
	var (
		stmts   []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for _, line := range strings.Split(input, "\n") {
		if !inQuote && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for i := 0; i < len(line); i++ {
			ch := line[i]
			switch {
			case ch == '\'' && inQuote && i+1 < len(line) && line[i+1] == '\'':
				cur.WriteString("''")
				i++
			case ch == '\'':
				inQuote = !inQuote
				cur.WriteByte(ch)
			case ch == ';' && !inQuote:
				flush()
			default:
				cur.WriteByte(ch)
			}
		}
		cur.WriteByte('\n')
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string literal")
	}
	flush()
	return stmts, nil
}
