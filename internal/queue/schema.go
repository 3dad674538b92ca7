package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// migrations[i] upgrades a database from user_version i to i+1. Append new
// steps; never edit a released one.
var migrations = []string{
	schemaSQL,
}

// schemaVersion is the user_version a fully migrated database carries.
var schemaVersion = len(migrations)

// ErrSchemaMismatch reports a database written by a newer trackrelay.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// migrate brings the database up to schemaVersion inside one transaction.
func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case current == schemaVersion:
		return nil
	case current > schemaVersion:
		return fmt.Errorf("%w: %s has version %d, this build understands up to %d",
			ErrSchemaMismatch, s.path, current, schemaVersion)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for version := current; version < schemaVersion; version++ {
		if _, err := tx.ExecContext(ctx, migrations[version]); err != nil {
			return fmt.Errorf("migrate schema to version %d: %w", version+1, err)
		}
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
