// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/jeranaias/ollamachat/internal/model"
)

// =============================================================================
// LEGACY MIGRATION
// =============================================================================

// Three storage shapes have shipped over the client's lifetime:
//
//	(a) a bare message array            [{role, content}, ...]
//	(b) a bare conversation array       [{id, title, messages, ...}, ...]
//	(c) the canonical wrapper object    {conversations: [...], activeConversationId}
//
// Migrate distinguishes them by structural inspection and always produces the
// canonical form. It is total: malformed input yields an empty ChatData with
// a logged warning, never an error.

// Migrate transforms any historically-seen stored value into canonical
// ChatData. Detection order, first match wins:
//
//  1. empty/absent input        -> empty ChatData
//  2. array, first element has "id" -> bare conversation array; first becomes active
//  3. object with "conversations"   -> adopt, coercing timestamps, active id kept
//     verbatim even if dangling
//  4. non-empty array without "id"  -> oldest single-log format; synthesize one
//     active conversation holding those messages
//  5. anything else             -> empty ChatData
func Migrate(raw []byte) model.ChatData {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return model.Empty()
	}

	now := time.Now()

	var arr []json.RawMessage
	if err := json.Unmarshal(trimmed, &arr); err == nil {
		if len(arr) == 0 {
			return model.Empty()
		}
		if elementHasID(arr[0]) {
			return migrateConversationArray(trimmed, now)
		}
		return migrateMessageLog(trimmed, now)
	}

	var wrapper struct {
		Conversations        []rawConversation `json:"conversations"`
		ActiveConversationID string            `json:"activeConversationId"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err == nil && wrapper.Conversations != nil {
		return model.ChatData{
			Conversations:        coerceConversations(wrapper.Conversations, now),
			ActiveConversationID: wrapper.ActiveConversationID,
		}
	}

	log.Printf("storage: unrecognized chat state, starting empty (%d bytes)", len(trimmed))
	return model.Empty()
}

// =============================================================================
// SHAPE HANDLERS
// =============================================================================

// rawConversation is a Conversation with timestamps left undecoded: legacy
// versions stored them as RFC3339 strings, millisecond epochs, or not at all.
type rawConversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []model.Message `json:"messages"`
	CreatedAt json.RawMessage `json:"createdAt"`
	UpdatedAt json.RawMessage `json:"updatedAt"`
}

func migrateConversationArray(raw []byte, now time.Time) model.ChatData {
	var convs []rawConversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		log.Printf("storage: failed to parse conversation array, starting empty: %v", err)
		return model.Empty()
	}

	out := coerceConversations(convs, now)
	active := ""
	if len(out) > 0 {
		active = out[0].ID
	}
	return model.ChatData{Conversations: out, ActiveConversationID: active}
}

func migrateMessageLog(raw []byte, now time.Time) model.ChatData {
	var msgs []model.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		log.Printf("storage: failed to parse legacy message log, starting empty: %v", err)
		return model.Empty()
	}

	conv := model.NewConversation()
	conv.Title = model.GenerateTitle(msgs)
	conv.Messages = msgs
	conv.CreatedAt = now
	conv.UpdatedAt = now

	return model.ChatData{
		Conversations:        []model.Conversation{conv},
		ActiveConversationID: conv.ID,
	}
}

func coerceConversations(convs []rawConversation, now time.Time) []model.Conversation {
	out := make([]model.Conversation, 0, len(convs))
	for _, rc := range convs {
		msgs := rc.Messages
		if msgs == nil {
			msgs = []model.Message{}
		}
		out = append(out, model.Conversation{
			ID:        rc.ID,
			Title:     rc.Title,
			Messages:  msgs,
			CreatedAt: coerceTime(rc.CreatedAt, now),
			UpdatedAt: coerceTime(rc.UpdatedAt, now),
		})
	}
	return out
}

// =============================================================================
// COERCION HELPERS
// =============================================================================

// elementHasID reports whether a raw JSON value is an object carrying an
// "id" property. This is the discriminator between conversation-shaped and
// message-shaped array elements.
func elementHasID(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	_, ok := obj["id"]
	return ok
}

// coerceTime accepts the timestamp encodings legacy versions wrote: an
// RFC3339 string or a millisecond epoch number. Missing or invalid values
// default to now.
func coerceTime(raw json.RawMessage, now time.Time) time.Time {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return now
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
		// Some builds wrote epoch millis as strings.
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms)
		}
		return now
	}

	var ms int64
	if err := json.Unmarshal(trimmed, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}

	return now
}

// =============================================================================
// MIGRATOR
// =============================================================================

// Migrator loads the slot through Migrate at most once per process and
// writes the canonical form back so subsequent loads skip shape detection.
type Migrator struct {
	store Store

	once sync.Once
	data model.ChatData
}

// NewMigrator creates a migrator over the given slot.
func NewMigrator(store Store) *Migrator {
	return &Migrator{store: store}
}

// Load returns the migrated chat state. The first call reads, migrates, and
// persists the canonical form; later calls return the same result.
func (m *Migrator) Load() model.ChatData {
	m.once.Do(func() {
		raw, err := m.store.Load()
		if err != nil {
			log.Printf("storage: failed to read chat state, starting empty: %v", err)
			m.data = model.Empty()
			return
		}

		m.data = Migrate(raw)

		canonical, err := json.Marshal(m.data)
		if err != nil {
			log.Printf("storage: failed to serialize migrated state: %v", err)
			return
		}
		if err := m.store.Save(canonical); err != nil {
			log.Printf("storage: failed to write back migrated state: %v", err)
		}
	})
	return m.data
}
