// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// guestIDPrefix marks conversations created client-side for a guest session;
// the server learns about them with the first message.
const guestIDPrefix = "local_"

// Conversation holds conversation metadata. Messages live in the Store.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsPinned  bool      `json:"is_pinned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewGuestConversation synthesizes a conversation with a client-generated id.
// Server-side creation is deferred to the first message; the backend derives
// the title from that message.
func NewGuestConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        guestIDPrefix + uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsLocal reports whether the conversation only exists client-side so far.
func (c *Conversation) IsLocal() bool {
	return len(c.ID) > len(guestIDPrefix) && c.ID[:len(guestIDPrefix)] == guestIDPrefix
}

// GetTitle returns the conversation title or a default.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// =============================================================================
// SUB-THREADS
// =============================================================================

// SubThread is a short side-conversation anchored to a quoted span of a
// parent message. At most one sub-thread exists per distinct
// (SourceMessageID, QuotedText) pair.
type SubThread struct {
	ID              string             `json:"id"`
	ConversationID  string             `json:"conversation_id"`
	SourceMessageID string             `json:"source_message_id"`
	QuotedText      string             `json:"quoted_text"`
	Messages        []SubThreadMessage `json:"messages"`
}

// SubThreadMessage is one entry in a sub-thread. Sub-threads do not stream;
// the server's authoritative thread object replaces local state on every
// exchange.
type SubThreadMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
