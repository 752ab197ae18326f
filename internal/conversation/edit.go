// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/rynk-ai/rynk-go/internal/api"
	"github.com/rynk-ai/rynk-go/internal/chat"
)

// Edit error variables.
var (
	// ErrNotEditing is returned by draft operations when no edit is open.
	ErrNotEditing = errors.New("no edit in progress")

	// ErrNotUserMessage rejects editing anything but a user message.
	ErrNotUserMessage = errors.New("only user messages can be edited")

	// ErrEditNotFound is returned when the target message is not in the
	// store.
	ErrEditNotFound = errors.New("message to edit not found")
)

// editState holds one open edit. Only one can be open at a time.
type editState struct {
	messageID string
	draft     string
	original  string
}

// EditingID returns the id of the message being edited, or "".
func (c *Controller) EditingID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit == nil {
		return ""
	}
	return c.edit.messageID
}

// Draft returns the current edit draft.
func (c *Controller) Draft() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit == nil {
		return "", ErrNotEditing
	}
	return c.edit.draft, nil
}

// SetDraft updates the draft text of the open edit.
func (c *Controller) SetDraft(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit == nil {
		return ErrNotEditing
	}
	c.edit.draft = text
	return nil
}

// StartEdit opens an edit on a user message, seeding the draft from its
// current content. Rejected while a send is in flight.
func (c *Controller) StartEdit(messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInFlight
	}

	msg := c.store.Get(messageID)
	if msg == nil {
		return ErrEditNotFound
	}
	if msg.Role != chat.RoleUser {
		return ErrNotUserMessage
	}

	c.edit = &editState{
		messageID: messageID,
		draft:     msg.Content,
		original:  msg.Content,
	}
	return nil
}

// CancelEdit discards the open edit without any change.
func (c *Controller) CancelEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edit = nil
}

// SaveEdit persists the draft as a new version of the edited message and,
// when the edited message was the most recent user turn, regenerates the
// assistant response from the new version. Editing an older message only
// records the version; downstream turns are untouched.
func (c *Controller) SaveEdit(ctx context.Context) error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	edit := c.edit
	conv := c.conv
	c.mu.Unlock()

	if edit == nil {
		return ErrNotEditing
	}

	draft := strings.TrimSpace(edit.draft)
	if draft == "" {
		return ErrEmptyMessage
	}
	if draft == edit.original {
		// Unchanged content closes the edit with no version.
		c.CancelEdit()
		return nil
	}
	if conv == nil {
		return ErrNoConversation
	}

	// Decide regeneration before the store mutates: the edit regenerates
	// only when its target is the latest user message of the timeline.
	last := c.store.LastUserMessage()
	regenerate := last != nil && last.ID == edit.messageID

	version, err := c.client.CreateMessageVersion(ctx, edit.messageID, draft)
	if err != nil {
		return err
	}

	c.store.AddMessages(version)
	c.store.SetActiveVersion(edit.messageID, version.ID)
	c.CancelEdit()

	if !regenerate {
		return nil
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.sending = true
	c.aborted = false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.activeStream = nil
		c.mu.Unlock()
	}()

	placeholder := chat.NewAssistantPlaceholder(conv.ID)
	c.store.AddMessages(placeholder)

	req := api.SendRequest{Content: draft, ParentMessageID: version.ID}
	return c.streamTurn(ctx, conv.ID, req, placeholder.ID)
}

// SelectVersion switches which version of an edited message the timeline
// shows. It never triggers regeneration.
func (c *Controller) SelectVersion(originalID, versionID string) error {
	if versionID != originalID && c.store.Get(versionID) == nil {
		return ErrEditNotFound
	}
	c.store.SetActiveVersion(originalID, versionID)
	return nil
}
