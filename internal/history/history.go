// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history is the in-memory conversation store. It owns the canonical
// ChatData, serializes access behind a mutex, and persists after every
// mutation. Reads hand out copies; callers never see the live slices.
package history

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/jeranaias/ollamachat/internal/model"
	"github.com/jeranaias/ollamachat/internal/storage"
)

// =============================================================================
// STORE
// =============================================================================

// Store holds the conversation list and the active selection.
//
// Every mutating operation persists the full state to the backend before
// returning. Persistence failures are logged, not surfaced: losing a write
// must never take down the chat loop.
type Store struct {
	mu      sync.Mutex
	data    model.ChatData
	backend storage.Store

	// OnChange, when set, is invoked after every mutation (outside the
	// lock) so the UI can refresh. Set it before the store is shared.
	OnChange func()
}

// New creates a store seeded with the given state.
func New(backend storage.Store, data model.ChatData) *Store {
	if data.Conversations == nil {
		data.Conversations = []model.Conversation{}
	}
	return &Store{data: data, backend: backend}
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CreateNewConversation prepends a fresh conversation and makes it active.
func (s *Store) CreateNewConversation() model.Conversation {
	s.mu.Lock()
	conv := model.NewConversation()
	s.data.Conversations = append([]model.Conversation{conv}, s.data.Conversations...)
	s.data.ActiveConversationID = conv.ID
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
	return conv
}

// SwitchConversation makes the given id active. The id is not validated:
// a dangling id is stored as-is and simply resolves to no conversation.
func (s *Store) SwitchConversation(id string) {
	s.mu.Lock()
	s.data.ActiveConversationID = id
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
}

// UpdateConversationTitle sets the title and bumps UpdatedAt. A miss is a
// no-op.
func (s *Store) UpdateConversationTitle(id, title string) {
	s.updateConversation(id, func(conv *model.Conversation) {
		conv.Title = title
	})
}

// UpdateConversationMessages replaces the message list and bumps UpdatedAt.
// A miss is a no-op. The store keeps its own copy of the slice.
func (s *Store) UpdateConversationMessages(id string, messages []model.Message) {
	msgs := append([]model.Message(nil), messages...)
	s.updateConversation(id, func(conv *model.Conversation) {
		conv.Messages = msgs
	})
}

func (s *Store) updateConversation(id string, fn func(*model.Conversation)) {
	s.mu.Lock()
	i := s.data.IndexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	fn(&s.data.Conversations[i])
	s.data.Conversations[i].Touch()
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
}

// =============================================================================
// READS
// =============================================================================

// Conversation returns a copy of the conversation with the given id.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.data.IndexOf(id)
	if i < 0 {
		return model.Conversation{}, false
	}
	conv := s.data.Conversations[i]
	conv.Messages = conv.CloneMessages()
	return conv, true
}

// ActiveConversation returns a copy of the active conversation, if the
// active id resolves.
func (s *Store) ActiveConversation() (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.data.Active()
	if !ok {
		return model.Conversation{}, false
	}
	conv.Messages = conv.CloneMessages()
	return conv, true
}

// ActiveID returns the active conversation id, which may be dangling.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ActiveConversationID
}

// Conversations returns a copy of the conversation list, newest first.
func (s *Store) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone().Conversations
}

// Snapshot returns a deep copy of the full chat state.
func (s *Store) Snapshot() model.ChatData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (s *Store) persistLocked() {
	if s.backend == nil {
		return
	}
	blob, err := json.Marshal(s.data)
	if err != nil {
		log.Printf("history: failed to serialize chat state: %v", err)
		return
	}
	if err := s.backend.Save(blob); err != nil {
		log.Printf("history: failed to persist chat state: %v", err)
	}
}

func (s *Store) notify() {
	if s.OnChange != nil {
		s.OnChange()
	}
}
