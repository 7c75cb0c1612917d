package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

// RunMigrations applies the PostgreSQL schema. Statements are idempotent.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return unavailable("migrate", err)
	}
	defer conn.Close(ctx)

	// No arguments: pgx uses the simple protocol, which accepts multiple statements.
	if _, err := conn.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
