// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation orchestrates sends: optimistic message insertion,
// stream demultiplexing, session state, credit gating, pagination, message
// editing with regeneration, and sub-thread management.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rynk-ai/rynk-go/internal/api"
	"github.com/rynk-ai/rynk-go/internal/chat"
	"github.com/rynk-ai/rynk-go/internal/jobs"
	"github.com/rynk-ai/rynk-go/internal/protocol"
	"github.com/rynk-ai/rynk-go/internal/session"
	"github.com/rynk-ai/rynk-go/internal/storage"
	"github.com/rynk-ai/rynk-go/internal/stream"
)

// DefaultPageSize is the backward-pagination page size.
const DefaultPageSize = 30

// phaseAnalyzing is the synthetic pill emitted before any network byte
// arrives, so the UI never shows a dead interval.
const phaseAnalyzing = "analyzing"

// Error variables for send preconditions.
var (
	// ErrSendInFlight rejects a second send while one is active.
	ErrSendInFlight = errors.New("a send is already in flight")

	// ErrEmptyMessage rejects a send whose content trims to nothing.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrNoConversation is returned by operations that need an active
	// conversation.
	ErrNoConversation = errors.New("no active conversation")
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns the state for one conversation surface: the active
// conversation, its message store, the streaming session, the single-flight
// send guard and the sub-thread registry. All of it is instance state, never
// process-wide, so independent controllers (multiple windows) cannot
// cross-talk.
type Controller struct {
	mu sync.Mutex

	client  *api.Client
	store   *chat.Store
	session *session.Session
	threads *SubThreads
	cache   *storage.Cache // optional
	poller  *jobs.Poller   // nil disables title generation

	conv *chat.Conversation

	// sending is the single-flight guard. It is flipped synchronously
	// before the first suspension point of Send, closing the race where
	// two rapid calls both pass an async-checked guard.
	sending bool

	// aborted marks that the in-flight send was cancelled explicitly, so
	// partial content commits instead of rolling back.
	aborted      bool
	activeStream *api.MessageStream

	// edit is the open edit, if any. One at a time.
	edit *editState

	// Pagination state for backward history loading.
	nextCursor string
	hasMore    bool

	// searchResults is the conversation-level snapshot of the latest
	// search-result payload.
	searchResults json.RawMessage

	// onEvent observes every demultiplexed event after it is applied,
	// for UI consumption.
	onEvent func(protocol.Event)
}

// NewController creates a controller around an API client.
func NewController(client *api.Client) *Controller {
	return &Controller{
		client:  client,
		store:   chat.NewStore(),
		session: session.New(),
		threads: NewSubThreads(client),
	}
}

// WithCache attaches a local history cache.
func (c *Controller) WithCache(cache *storage.Cache) *Controller {
	c.cache = cache
	return c
}

// WithTitlePoller enables async title generation for new conversations.
func (c *Controller) WithTitlePoller(poller *jobs.Poller) *Controller {
	c.poller = poller
	return c
}

// SetEventHandler registers an observer for demultiplexed events.
func (c *Controller) SetEventHandler(fn func(protocol.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

// Store returns the message store for rendering.
func (c *Controller) Store() *chat.Store {
	return c.store
}

// Session returns the streaming session for rendering.
func (c *Controller) Session() *session.Session {
	return c.session
}

// Threads returns the sub-thread manager.
func (c *Controller) Threads() *SubThreads {
	return c.threads
}

// Conversation returns a copy of the active conversation, or nil.
func (c *Controller) Conversation() *chat.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return nil
	}
	copied := *c.conv
	return &copied
}

// SearchResults returns the latest conversation-level search snapshot.
func (c *Controller) SearchResults() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchResults
}

// CreditsRemaining reports the guest credit quota, when known.
func (c *Controller) CreditsRemaining() (int, bool) {
	return c.client.Credits().Remaining()
}

// IsSending reports whether a send is in flight.
func (c *Controller) IsSending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// HasMoreMessages reports whether older history remains to page in.
func (c *Controller) HasMoreMessages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// =============================================================================
// CONVERSATION SELECTION
// =============================================================================

// SelectConversation makes conv the active conversation and loads its most
// recent page of messages, seeding from the cache first when one is
// attached.
func (c *Controller) SelectConversation(ctx context.Context, conv *chat.Conversation) error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	copied := *conv
	c.conv = &copied
	c.nextCursor = ""
	c.hasMore = false
	c.searchResults = nil
	c.mu.Unlock()

	if c.cache != nil {
		if cached, err := c.cache.Messages(ctx, conv.ID, DefaultPageSize); err == nil && len(cached) > 0 {
			c.store.Reset(cached)
		}
	}
	return c.LoadMessages(ctx)
}

// StartNewConversation clears the active conversation; the next send
// allocates one.
func (c *Controller) StartNewConversation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInFlight
	}
	c.conv = nil
	c.nextCursor = ""
	c.hasMore = false
	c.searchResults = nil
	c.store.Reset(nil)
	return nil
}

// =============================================================================
// SEND PROTOCOL
// =============================================================================

// Send runs one user turn: credit gate, optimistic insertion of the user
// message and assistant placeholder, the streamed response, and commit or
// rollback. A failed send leaves no partial optimistic state behind.
func (c *Controller) Send(ctx context.Context, content string, attachments ...chat.Attachment) error {
	content = strings.TrimSpace(content)

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	if content == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	if err := c.client.Credits().Gate(); err != nil {
		// Exhausted quota rejects before any network call.
		c.mu.Unlock()
		return err
	}
	c.sending = true
	c.aborted = false
	conv := c.conv
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.activeStream = nil
		c.mu.Unlock()
	}()

	// Allocate a conversation when none is active. Guests synthesize a
	// client-side id and defer server creation to the first message.
	firstTurn := false
	if conv == nil {
		firstTurn = true
		if c.client.IsGuest() {
			conv = chat.NewGuestConversation()
		} else {
			created, err := c.client.CreateConversation(ctx, "")
			if err != nil {
				return err
			}
			conv = created
		}
		c.mu.Lock()
		c.conv = conv
		c.mu.Unlock()
	}

	userMsg := chat.NewUserMessage(conv.ID, content)
	userMsg.Attachments = attachments
	placeholder := chat.NewAssistantPlaceholder(conv.ID)
	c.store.AddMessages(userMsg, placeholder)

	req := api.SendRequest{Content: content, Attachments: attachments}
	if err := c.streamTurn(ctx, conv.ID, req, userMsg.ID, placeholder.ID); err != nil {
		return err
	}

	if firstTurn {
		c.generateTitleAsync(conv.ID)
	}
	return nil
}

// streamTurn opens the stream for one turn and drives it to completion,
// committing the final content on success and removing every temporary-id
// message of the turn on failure. tempIDs lists the optimistic ids of the
// turn; the last one is the assistant placeholder receiving the stream.
func (c *Controller) streamTurn(ctx context.Context, conversationID string, req api.SendRequest, tempIDs ...string) error {
	placeholderID := tempIDs[len(tempIDs)-1]

	if err := c.session.Start(placeholderID); err != nil {
		c.removeTurn(tempIDs)
		return err
	}
	c.session.PushPill(phaseAnalyzing, "Analyzing...")

	ms, err := c.client.OpenMessageStream(ctx, conversationID, req)
	if err != nil {
		c.removeTurn(tempIDs)
		c.session.Fail()
		return err
	}

	c.mu.Lock()
	c.activeStream = ms
	c.mu.Unlock()

	var backendErr error
	demux := stream.New(func(ev protocol.Event) {
		c.session.Apply(ev)
		switch ev.Kind {
		case protocol.EventSearchResults:
			c.mu.Lock()
			c.searchResults = ev.Payload
			c.mu.Unlock()
		case protocol.EventError:
			backendErr = errors.New(ev.Message)
		}
		c.mu.Lock()
		handler := c.onEvent
		c.mu.Unlock()
		if handler != nil {
			handler(ev)
		}
	})

	driveErr := ms.Drive(demux)

	if c.wasAborted() {
		// Explicit cancellation: commit the partial content already
		// flushed rather than discarding visible work.
		c.session.Finish(c.store)
		return nil
	}
	if driveErr != nil || backendErr != nil {
		c.removeTurn(tempIDs)
		c.session.Fail()
		if backendErr != nil {
			return backendErr
		}
		return driveErr
	}

	// Commit the accumulated text into the placeholder, then reconcile
	// temporary ids to the server-issued ones.
	c.session.Finish(c.store)
	if len(tempIDs) == 2 {
		c.reconcileID(tempIDs[0], ms.UserMessageID)
	}
	c.reconcileID(placeholderID, ms.AssistantMessageID)

	// Pessimistic local decrement until the next authoritative header.
	c.client.Credits().Decrement()

	c.persistTurn(conversationID)
	c.refreshConversationsAsync()
	return nil
}

// Abort cancels the in-flight send. Idempotent; a race with natural
// completion is harmless.
func (c *Controller) Abort() {
	c.mu.Lock()
	ms := c.activeStream
	if ms != nil {
		c.aborted = true
	}
	c.mu.Unlock()
	if ms != nil {
		ms.Close()
	}
}

func (c *Controller) wasAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// removeTurn drops every optimistic message of a failed turn, user and
// assistant placeholder alike. No tombstones remain.
func (c *Controller) removeTurn(tempIDs []string) {
	ids := make(map[string]bool, len(tempIDs))
	for _, id := range tempIDs {
		ids[id] = true
	}
	c.store.Remove(func(m *chat.Message) bool { return ids[m.ID] })
}

// reconcileID swaps a temporary message id for the server-issued one.
func (c *Controller) reconcileID(tempID, serverID string) {
	if serverID == "" || serverID == tempID {
		return
	}
	msg := c.store.Get(tempID)
	if msg == nil {
		return
	}
	copied := *msg
	copied.ID = serverID
	c.store.Replace(tempID, &copied)
}

// persistTurn mirrors the committed turn into the local cache.
func (c *Controller) persistTurn(conversationID string) {
	if c.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv != nil && conv.ID == conversationID {
		if err := c.cache.SaveConversation(ctx, conv); err != nil {
			log.Printf("conversation: cache save failed: %v", err)
		}
	}
	if err := c.cache.SaveMessages(ctx, c.store.Messages()); err != nil {
		log.Printf("conversation: cache save failed: %v", err)
	}
}

// refreshConversationsAsync re-reads the conversation list after a turn so
// title and ordering catch up. Best-effort; failure must not affect the
// delivered message.
func (c *Controller) refreshConversationsAsync() {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil || conv.IsLocal() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		list, err := c.client.ListConversations(ctx)
		if err != nil {
			log.Printf("conversation: list refresh failed: %v", err)
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conv == nil {
			return
		}
		for i := range list {
			if list[i].ID == c.conv.ID {
				copied := list[i]
				c.conv = &copied
				return
			}
		}
	}()
}

// generateTitleAsync fires the title-generation job after the first
// successful turn of a new conversation. Non-blocking; its failure never
// affects message delivery.
func (c *Controller) generateTitleAsync(conversationID string) {
	if c.poller == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		jobID, err := c.client.SubmitTitleJob(ctx, conversationID)
		if err != nil {
			log.Printf("conversation: title job submit failed: %v", err)
			return
		}
		title, err := c.poller.Wait(ctx, c.client, jobID)
		if err != nil {
			log.Printf("conversation: title job failed: %v", err)
			return
		}

		c.mu.Lock()
		if c.conv != nil && c.conv.ID == conversationID {
			c.conv.Title = title
		}
		c.mu.Unlock()
	}()
}

// =============================================================================
// PAGINATION
// =============================================================================

// LoadMessages fetches the most recent page and resets the store to it.
func (c *Controller) LoadMessages(ctx context.Context) error {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return ErrNoConversation
	}
	if conv.IsLocal() {
		// Nothing server-side yet.
		return nil
	}

	page, err := c.client.ListMessages(ctx, conv.ID, "", DefaultPageSize)
	if err != nil {
		return err
	}
	c.store.Reset(page.Messages)

	c.mu.Lock()
	c.nextCursor = page.NextCursor
	c.hasMore = page.NextCursor != ""
	c.mu.Unlock()
	return nil
}

// LoadMoreMessages pages older history in front of the current earliest
// message. An empty page marks the history exhausted and prepends nothing.
func (c *Controller) LoadMoreMessages(ctx context.Context) error {
	c.mu.Lock()
	conv := c.conv
	cursor := c.nextCursor
	hasMore := c.hasMore
	c.mu.Unlock()

	if conv == nil {
		return ErrNoConversation
	}
	if !hasMore {
		return nil
	}

	page, err := c.client.ListMessages(ctx, conv.ID, cursor, DefaultPageSize)
	if err != nil {
		return err
	}

	if len(page.Messages) == 0 {
		c.mu.Lock()
		c.hasMore = false
		c.mu.Unlock()
		return nil
	}

	c.store.Prepend(page.Messages)

	c.mu.Lock()
	c.nextCursor = page.NextCursor
	c.hasMore = page.NextCursor != ""
	c.mu.Unlock()
	return nil
}
