package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// catalogVersion is stored in PRAGMA user_version. Raise it whenever
// schema.sql changes shape.
const catalogVersion = 1

// ErrSchemaMismatch indicates the catalog was written by a newer printlink.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// initSchema brings the database to catalogVersion. Catalogs from older
// releases are rebuilt empty since the discovery feed refills them; a newer
// catalog is left untouched and rejected.
func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read catalog version: %w", err)
	}
	switch {
	case version == catalogVersion:
		return nil
	case version > catalogVersion:
		return fmt.Errorf("%w: catalog %s has version %d, this build understands %d",
			ErrSchemaMismatch, s.path, version, catalogVersion)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if version > 0 {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS devices"); err != nil {
			return fmt.Errorf("drop stale catalog: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", catalogVersion)); err != nil {
		return fmt.Errorf("record catalog version: %w", err)
	}
	return tx.Commit()
}
