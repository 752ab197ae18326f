// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local SQLite cache of conversations and
// messages, so history renders offline and pagination can seed before the
// network answers.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/rynk-ai/rynk-go/internal/chat"
)

// ErrNotCached is returned when a conversation is absent from the cache.
var ErrNotCached = errors.New("conversation not cached")

// schema is applied on open. Timestamps are stored as Unix nanoseconds.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	is_pinned  INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	conversation_id   TEXT NOT NULL,
	role              TEXT NOT NULL,
	content           TEXT NOT NULL DEFAULT '',
	parent_message_id TEXT NOT NULL DEFAULT '',
	version_of        TEXT NOT NULL DEFAULT '',
	version_number    INTEGER NOT NULL DEFAULT 1,
	branch_id         TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at);
`

// =============================================================================
// CACHE
// =============================================================================

// Cache is a local mirror of server-side conversation state. It is a cache,
// not a source of truth: server responses overwrite it unconditionally.
type Cache struct {
	db *sql.DB
}

// Open creates or opens the cache database at path, applying the schema.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// SaveConversation upserts conversation metadata.
func (c *Cache) SaveConversation(ctx context.Context, conv *chat.Conversation) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, is_pinned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			is_pinned = excluded.is_pinned,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, boolToInt(conv.IsPinned),
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Conversations lists cached conversations, pinned first, then most recently
// updated.
func (c *Cache) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, title, is_pinned, created_at, updated_at
		FROM conversations
		ORDER BY is_pinned DESC, updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []chat.Conversation
	for rows.Next() {
		var conv chat.Conversation
		var pinned int
		var created, updated int64
		if err := rows.Scan(&conv.ID, &conv.Title, &pinned, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.IsPinned = pinned != 0
		conv.CreatedAt = time.Unix(0, created)
		conv.UpdatedAt = time.Unix(0, updated)
		out = append(out, conv)
	}
	return out, rows.Err()
}

// GetConversation loads one cached conversation.
func (c *Cache) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, title, is_pinned, created_at, updated_at
		FROM conversations WHERE id = ?`, id)

	var conv chat.Conversation
	var pinned int
	var created, updated int64
	if err := row.Scan(&conv.ID, &conv.Title, &pinned, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.IsPinned = pinned != 0
	conv.CreatedAt = time.Unix(0, created)
	conv.UpdatedAt = time.Unix(0, updated)
	return &conv, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Cache) DeleteConversation(ctx context.Context, id string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete cached messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete cached conversation: %w", err)
	}
	return tx.Commit()
}

// =============================================================================
// MESSAGES
// =============================================================================

// SaveMessages upserts a batch of messages in one transaction. Temporary-id
// messages are skipped; only reconciled server state is cached.
func (c *Cache) SaveMessages(ctx context.Context, msgs []*chat.Message) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content,
			parent_message_id, version_of, version_number, branch_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			version_number = excluded.version_number`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, msg := range msgs {
		if msg == nil || msg.IsTemp() {
			continue
		}
		_, err := stmt.ExecContext(ctx, msg.ID, msg.ConversationID,
			string(msg.Role), msg.Content, msg.ParentMessageID,
			msg.VersionOf, msg.VersionNumber, msg.BranchID,
			msg.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
		}
	}
	return tx.Commit()
}

// Messages returns the most recent limit messages of a conversation in
// chronological order (0 = all).
func (c *Cache) Messages(ctx context.Context, conversationID string, limit int) ([]*chat.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, parent_message_id,
			version_of, version_number, branch_id, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached messages: %w", err)
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		var msg chat.Message
		var role string
		var created int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content,
			&msg.ParentMessageID, &msg.VersionOf, &msg.VersionNumber,
			&msg.BranchID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		msg.CreatedAt = time.Unix(0, created)
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows arrive newest-first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// boolToInt converts a bool for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
