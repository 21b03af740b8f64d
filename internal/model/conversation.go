// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/ollamachat/internal/util"
)

// DefaultTitle is the title of a conversation before its first user message.
const DefaultTitle = "New Chat"

// TitleMaxLen is the maximum rune length of an auto-generated title.
const TitleMaxLen = 50

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a titled message thread with its own identity and
// timestamps. UpdatedAt is refreshed on every mutation to Messages or Title.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewConversation creates an empty conversation with a generated ID and the
// default title.
func NewConversation() Conversation {
	now := time.Now()
	return Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasUserMessage reports whether any user message exists in the thread.
func (c Conversation) HasUserMessage() bool {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return true
		}
	}
	return false
}

// Touch refreshes UpdatedAt.
func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now()
}

// CloneMessages returns a copy of the message list so callers can mutate it
// without aliasing the conversation's own slice.
func (c Conversation) CloneMessages() []Message {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return msgs
}

// =============================================================================
// TITLE GENERATION
// =============================================================================

// GenerateTitle derives a conversation title from the first user message:
// at most TitleMaxLen runes, with an ellipsis when truncated. Falls back to
// DefaultTitle when no user message exists. Computed once, when the first
// user message is set; never recomputed on later edits.
func GenerateTitle(messages []Message) string {
	for _, msg := range messages {
		if msg.Role == RoleUser && msg.Content != "" {
			return util.TruncateString(util.CollapseWhitespace(msg.Content), TitleMaxLen)
		}
	}
	return DefaultTitle
}
