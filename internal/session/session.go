// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the per-request streaming state: which message is
// receiving the stream, the accumulated content, the ordered status-pill
// transcript and the latest search-result snapshot.
package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rynk-ai/rynk-go/internal/chat"
	"github.com/rynk-ai/rynk-go/internal/protocol"
)

// =============================================================================
// STATES
// =============================================================================

// State is the streaming session lifecycle state.
type State int

const (
	// StateIdle means no request is active.
	StateIdle State = iota

	// StateRequesting means a send was issued but no byte has arrived.
	StateRequesting

	// StateStreaming means events are being applied.
	StateStreaming

	// StateFinalizing means the final content is being committed.
	StateFinalizing

	// StateError means the last request failed.
	StateError
)

// String returns a short name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrActive is returned by Start when a session is already in flight.
var ErrActive = errors.New("streaming session already active")

// =============================================================================
// STREAMING SESSION
// =============================================================================

// Session is the single-writer streaming state machine. Only the active send
// mutates it; any number of observers may read concurrently.
type Session struct {
	mu sync.RWMutex

	state    State
	targetID string

	content       string
	pills         []protocol.StatusPill
	searchResults json.RawMessage
}

// New creates an idle session.
func New() *Session {
	return &Session{}
}

// Start transitions Idle or Error to Requesting, targeting the given
// placeholder message id. Prior buffer, pill log and search snapshot are
// cleared. Starting while a request is active returns ErrActive.
func (s *Session) Start(targetMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle && s.state != StateError {
		return ErrActive
	}
	s.state = StateRequesting
	s.targetID = targetMessageID
	s.content = ""
	s.pills = nil
	s.searchResults = nil
	return nil
}

// PushPill appends a synthetic status pill, used for the initial analyzing
// pill emitted before any network byte arrives.
func (s *Session) PushPill(phase, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pills = append(s.pills, protocol.StatusPill{
		Phase:     phase,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Apply folds one stream event into the session. The first status or content
// event moves Requesting to Streaming. Content events replace the buffer
// (the transport resends the complete running text, never a delta). Status
// pills append without collapsing: the log is a faithful transcript, and
// duplicate consecutive pills are allowed. Search results are
// last-write-wins with no merge.
func (s *Session) Apply(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRequesting && s.state != StateStreaming {
		return
	}

	switch ev.Kind {
	case protocol.EventContent:
		s.state = StateStreaming
		s.content = ev.Text
	case protocol.EventStatus:
		s.state = StateStreaming
		s.pills = append(s.pills, protocol.StatusPill{
			Phase:     ev.Phase,
			Message:   ev.Message,
			Timestamp: time.Now(),
		})
	case protocol.EventSearchResults:
		s.searchResults = ev.Payload
	case protocol.EventContextCards:
		// Ignored downstream.
	case protocol.EventError, protocol.EventDone:
		// Terminal handling belongs to Finish/Fail.
	}
}

// Finish transitions to Finalizing, commits the accumulated text into the
// target message in the store, and returns to Idle. The committed content is
// returned for caller-side persistence.
func (s *Session) Finish(store *chat.Store) string {
	s.mu.Lock()
	s.state = StateFinalizing
	content := s.content
	target := s.targetID
	s.mu.Unlock()

	if target != "" {
		store.SetContent(target, content)
	}

	s.mu.Lock()
	s.reset(StateIdle)
	s.mu.Unlock()
	return content
}

// Fail abandons the session without committing, leaving it in the Error
// state. Used when a failed send must leave no partial optimistic state.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(StateError)
}

// Abort handles an explicit cancellation. Partial content already flushed is
// committed when commitPartial is set, so visible work is not discarded; the
// session then returns to Idle either way.
func (s *Session) Abort(store *chat.Store, commitPartial bool) {
	if commitPartial {
		s.Finish(store)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(StateIdle)
}

// reset clears per-request state. Caller holds s.mu.
func (s *Session) reset(to State) {
	s.state = to
	s.targetID = ""
	s.content = ""
	s.pills = nil
	s.searchResults = nil
}

// =============================================================================
// OBSERVERS
// =============================================================================

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Active reports whether a request is in flight.
func (s *Session) Active() bool {
	st := s.State()
	return st == StateRequesting || st == StateStreaming || st == StateFinalizing
}

// TargetID returns the message id receiving the stream.
func (s *Session) TargetID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetID
}

// Content returns the accumulated text republished for UI consumption.
func (s *Session) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content
}

// Pills returns a snapshot of the status-pill transcript.
func (s *Session) Pills() []protocol.StatusPill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.StatusPill, len(s.pills))
	copy(out, s.pills)
	return out
}

// SearchResults returns the latest search-result snapshot, or nil.
func (s *Session) SearchResults() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchResults
}
