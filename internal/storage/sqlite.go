// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// slotKey is the single key under which the chat state blob is stored.
const slotKey = "chat_data"

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps the blob in a one-row key/value table. Same slot
// semantics as FileStore; sqlite's journal provides the crash safety the
// file backend gets from atomic rename.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS chat_state (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads the blob. An empty table is an empty slot, not an error.
func (s *SQLiteStore) Load() ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM chat_state WHERE key = ?`, slotKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat state: %w", err)
	}
	return value, nil
}

// Save upserts the blob.
func (s *SQLiteStore) Save(data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		slotKey, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save chat state: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
