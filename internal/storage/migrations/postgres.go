package migrations

import (
	"context"
	"fmt"
	"log/slog"

	"reward-distributor/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Every statement uses IF NOT EXISTS so reapplying is a no-op.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger *slog.Logger) error {
	files, err := readDir(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, f := range files {
		if _, err := pool.Exec(ctx, f.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.Name, err)
		}
		logger.Debug("applied postgres migration", "file", f.Name)
	}
	logger.Info("postgres schema up to date", "files", len(files))
	return nil
}
