// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rynk-ai/rynk-go/internal/chat"
)

// =============================================================================
// CONVERSATION CRUD
// =============================================================================

// ListConversations returns the caller's conversations, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var out struct {
		Conversations []chat.Conversation `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateConversation creates a conversation server-side. Title may be empty;
// the backend derives one from the first message.
func (c *Client) CreateConversation(ctx context.Context, title string) (*chat.Conversation, error) {
	in := map[string]string{"title": title}
	var out chat.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
}

// RenameConversation sets a conversation title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	in := map[string]string{"title": title}
	return c.doJSON(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), in, nil)
}

// PinConversation toggles the pinned flag.
func (c *Client) PinConversation(ctx context.Context, id string, pinned bool) error {
	in := map[string]bool{"is_pinned": pinned}
	return c.doJSON(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), in, nil)
}

// =============================================================================
// MESSAGE LISTING (BACKWARD PAGINATION)
// =============================================================================

// MessagePage is one page of a conversation's history. NextCursor is empty
// when no older messages remain.
type MessagePage struct {
	Messages   []*chat.Message `json:"messages"`
	NextCursor string          `json:"next_cursor"`
}

// ListMessages fetches one page of messages for a conversation. An empty
// cursor fetches the most recent page; the returned cursor walks backwards
// through history.
func (c *Client) ListMessages(ctx context.Context, conversationID, cursor string, limit int) (*MessagePage, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// MESSAGE VERSIONING
// =============================================================================

// CreateMessageVersion posts a new version of an existing message and returns
// the version message issued by the server. A stale target yields
// ErrVersionConflict.
func (c *Client) CreateMessageVersion(ctx context.Context, messageID, content string) (*chat.Message, error) {
	in := map[string]string{"content": content}
	var out chat.Message
	path := "/messages/" + url.PathEscape(messageID) + "/versions"
	if err := c.doJSON(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, fmt.Errorf("create message version: %w", err)
	}
	return &out, nil
}

// =============================================================================
// SUB-THREADS
// =============================================================================

// CreateSubThread creates a side-conversation anchored to a quoted span of a
// parent message.
func (c *Client) CreateSubThread(ctx context.Context, conversationID, sourceMessageID, quotedText string) (*chat.SubThread, error) {
	in := map[string]string{
		"source_message_id": sourceMessageID,
		"quoted_text":       quotedText,
	}
	var out chat.SubThread
	path := "/conversations/" + url.PathEscape(conversationID) + "/subthreads"
	if err := c.doJSON(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendSubThreadMessage posts a message to a sub-thread and returns the
// server's authoritative thread object. Sub-threads do not stream.
func (c *Client) SendSubThreadMessage(ctx context.Context, threadID, content string) (*chat.SubThread, error) {
	in := map[string]string{"content": content}
	var out chat.SubThread
	path := "/subthreads/" + url.PathEscape(threadID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
