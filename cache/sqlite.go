// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/bufbuild/macroexpand/macro"
)

// SQLiteStore is a [Store] persisted in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens or creates the database at path. A database written
// with a different [FormatVersion] is emptied.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", path, err)
	}
	s := &SQLiteStore{db: db}
	if err := s.setup(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: setting up %s: %w", path, err)
	}
	return s, nil
}

func (s *SQLiteStore) setup(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after Commit.

	const schema = `
	CREATE TABLE IF NOT EXISTS meta (
		version INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS expansions (
		key BLOB PRIMARY KEY,
		value BLOB NOT NULL
	);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM meta LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (version) VALUES (?)`, FormatVersion); err != nil {
			return err
		}
	case err != nil:
		return err
	case version != FormatVersion:
		if _, err := tx.ExecContext(ctx, `DELETE FROM expansions`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE meta SET version = ?`, FormatVersion); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get implements [Store].
func (s *SQLiteStore) Get(ctx context.Context, key macro.Hash) (*macro.Expansion, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM expansions WHERE key = ?`, key[:]).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("cache: querying expansion: %w", err)
	}
	exp, err := decodeExpansion(value)
	if err != nil {
		return nil, false, err
	}
	return exp, true, nil
}

// Put implements [Store].
func (s *SQLiteStore) Put(ctx context.Context, key macro.Hash, exp *macro.Expansion) error {
	value, err := encodeExpansion(nil, exp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO expansions (key, value) VALUES (?, ?)`, key[:], value)
	if err != nil {
		return fmt.Errorf("cache: inserting expansion: %w", err)
	}
	return nil
}

// Reset implements [Store].
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM expansions`); err != nil {
		return fmt.Errorf("cache: clearing expansions: %w", err)
	}
	return nil
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
