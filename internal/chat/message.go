// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rynk-ai/rynk-go/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// tempIDPrefix marks client-generated ids for optimistic messages. They are
// reconciled to server-issued ids on success and removed entirely on failure.
const tempIDPrefix = "tmp_"

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`

	// Content
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Threading and versioning. VersionOf marks this message as an
	// alternate rendering of an earlier turn; such messages are excluded
	// from the primary timeline unless selected active.
	ParentMessageID string `json:"parent_message_id,omitempty"`
	VersionOf       string `json:"version_of,omitempty"`
	VersionNumber   int    `json:"version_number"`
	BranchID        string `json:"branch_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Attachment is a file or image attached to a message.
type Attachment struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// NewTempID generates a client-side temporary message id.
func NewTempID() string {
	return tempIDPrefix + uuid.New().String()
}

// IsTemp reports whether the message still carries a client-generated id.
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, tempIDPrefix)
}

// IsVersion reports whether the message is an alternate version of an
// earlier turn.
func (m *Message) IsVersion() bool {
	return m.VersionOf != ""
}

// NewUserMessage creates an optimistic user message with a temporary id.
func NewUserMessage(conversationID, content string) *Message {
	return &Message{
		ID:             NewTempID(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		VersionNumber:  1,
		CreatedAt:      time.Now(),
	}
}

// NewAssistantPlaceholder creates the empty optimistic assistant message that
// receives the stream.
func NewAssistantPlaceholder(conversationID string) *Message {
	return &Message{
		ID:             NewTempID(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		VersionNumber:  1,
		CreatedAt:      time.Now(),
	}
}

// Preview returns the first maxLen runes of the content with newlines
// collapsed, for list displays.
func (m *Message) Preview(maxLen int) string {
	content := strings.ReplaceAll(m.Content, "\n", " ")
	content = strings.ReplaceAll(content, "\r", "")
	return util.TruncateRunes(content, maxLen)
}
