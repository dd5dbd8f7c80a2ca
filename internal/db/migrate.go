package db

import (
	"context"
	"fmt"

	_ "embed"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies schema.sql. Every statement is idempotent, so running it
// on each deploy is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	// No arguments means pgx sends this over the simple protocol, which
	// accepts several statements at once.
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
