package wsrm

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// MigrationFiles contains all SQL migration files embedded in the binary.
// Each file is a plain list of statements separated by semicolons, so external
// tools (golang-migrate, atlas, etc.) can read them through fs.FS as well.
//
// Example:
//
//	applied, err := wsrm.ApplyMigrations(ctx, db, "sqlite3")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Printf("applied %v", applied)
//
// The files are written for MySQL and SQLite; ApplyMigrations adjusts types for
// PostgreSQL.
//
//go:embed migrations/*.sql
var MigrationFiles embed.FS

const migrationsTable = "wsrm_schema_migrations"

// ApplyMigrations applies every embedded migration not yet recorded in the
// wsrm_schema_migrations table, in file name order. Each file runs in its own
// transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, driverName string) ([]string, error) {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+migrationsTable+
		" (version VARCHAR(255) NOT NULL PRIMARY KEY, applied_at BIGINT NOT NULL)"); err != nil {
		return nil, NewErrorWithCause(ErrCodeStorage, "failed to create migrations table", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	names, err := fs.Glob(MigrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to list migrations", err)
	}
	sort.Strings(names)

	var ran []string
	for _, name := range names {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")
		if applied[version] {
			continue
		}

		data, err := MigrationFiles.ReadFile(name)
		if err != nil {
			return ran, NewErrorWithCause(ErrCodeConfiguration, "failed to read migration "+version, err)
		}
		if err := applyMigration(ctx, db, driverName, version, string(data)); err != nil {
			return ran, err
		}
		ran = append(ran, version)
	}

	return ran, nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM "+migrationsTable)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeStorage, "failed to read applied migrations", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, NewErrorWithCause(ErrCodeStorage, "failed to read applied migrations", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, NewErrorWithCause(ErrCodeStorage, "failed to read applied migrations", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, driverName, version, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return NewErrorWithCause(ErrCodeStorage, "failed to begin migration "+version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(dialect(driverName, script)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return NewErrorWithCause(ErrCodeStorage, fmt.Sprintf("migration %s failed", version), err)
		}
	}

	insert := "INSERT INTO " + migrationsTable + " (version, applied_at) VALUES (?, ?)"
	if driverName == "postgres" {
		insert = "INSERT INTO " + migrationsTable + " (version, applied_at) VALUES ($1, $2)"
	}
	if _, err := tx.ExecContext(ctx, insert, version, time.Now().UnixNano()); err != nil {
		return NewErrorWithCause(ErrCodeStorage, "failed to record migration "+version, err)
	}

	if err := tx.Commit(); err != nil {
		return NewErrorWithCause(ErrCodeStorage, "failed to commit migration "+version, err)
	}
	return nil
}

func dialect(driverName, script string) string {
	if driverName == "postgres" {
		return strings.ReplaceAll(script, "BLOB", "BYTEA")
	}
	return script
}

// splitStatements splits a script on semicolons and drops comment-only chunks.
func splitStatements(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}
