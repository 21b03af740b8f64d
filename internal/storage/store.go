// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the chat state blob and migrates legacy storage
// shapes into the canonical form.
//
// All history lives in one string-keyed slot holding the serialized
// model.ChatData. Two backends provide the slot: a JSON file written
// atomically, and a single-row sqlite table.
package storage

import (
	"os"
	"path/filepath"

	"github.com/jeranaias/ollamachat/internal/util"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the persistent slot for the serialized chat state.
// Load returns (nil, nil) when the slot has never been written.
type Store interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps the blob in a single JSON file.
type FileStore struct {
	// Path is the location of the blob file.
	// Default: ~/.ollamachat/chat.json
	Path string
}

// NewFileStore creates a file-backed store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// DefaultFilePath returns the default blob location under the user's home.
func DefaultFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".ollamachat", "chat.json"), nil
}

// Load reads the blob. A missing file is an empty slot, not an error.
func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Save writes the blob with the atomic write+fsync pattern so a crash can
// never leave a half-written history behind.
func (s *FileStore) Save(data []byte) error {
	return util.AtomicWriteFile(s.Path, data, 0644)
}
