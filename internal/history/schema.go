package history

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// migrations are applied in order. The database's user_version records how
// many have run, so entries are only ever appended.
var migrations = []string{
	schemaSQL,
	`CREATE INDEX IF NOT EXISTS idx_runs_unreleased ON runs(started_at)
        WHERE released = 0 AND volume IS NOT NULL`,
}

// ErrSchemaMismatch indicates the database was written by a newer autopipe.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case version > len(migrations):
		return fmt.Errorf("%w: database has version %d, this build knows %d (upgrade autopipe or delete %s)",
			ErrSchemaMismatch, version, len(migrations), s.path)
	case version == len(migrations):
		return nil
	}
	return s.migrate(ctx, version)
}

func (s *Store) migrate(ctx context.Context, from int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := from; i < len(migrations); i++ {
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply schema version %d: %w", i+1, err)
		}
	}
	// PRAGMA arguments cannot be bound.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
