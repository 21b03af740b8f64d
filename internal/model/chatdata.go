// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// CHAT DATA (ROOT PERSISTED STATE)
// =============================================================================

// ChatData is the canonical persisted state: every conversation, newest first
// by creation, plus which one is active.
//
// ActiveConversationID may name a conversation that no longer exists (a
// dangling reference left behind by older storage shapes). That state is
// tolerated, not repaired: it simply renders as an empty message list.
type ChatData struct {
	Conversations        []Conversation `json:"conversations"`
	ActiveConversationID string         `json:"activeConversationId"`
}

// Empty returns a ChatData with no conversations and no active id.
func Empty() ChatData {
	return ChatData{Conversations: []Conversation{}}
}

// IndexOf returns the position of the conversation with the given id,
// or -1 when absent.
func (d ChatData) IndexOf(id string) int {
	for i := range d.Conversations {
		if d.Conversations[i].ID == id {
			return i
		}
	}
	return -1
}

// Active returns the active conversation, if it resolves.
func (d ChatData) Active() (Conversation, bool) {
	if d.ActiveConversationID == "" {
		return Conversation{}, false
	}
	if i := d.IndexOf(d.ActiveConversationID); i >= 0 {
		return d.Conversations[i], true
	}
	return Conversation{}, false
}

// Clone returns a deep copy of the chat data: mutating the copy's message
// lists never touches the original.
func (d ChatData) Clone() ChatData {
	out := ChatData{
		Conversations:        make([]Conversation, len(d.Conversations)),
		ActiveConversationID: d.ActiveConversationID,
	}
	for i, conv := range d.Conversations {
		conv.Messages = conv.CloneMessages()
		out.Conversations[i] = conv
	}
	return out
}
