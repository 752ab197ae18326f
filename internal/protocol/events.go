// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventKind identifies the variant of a stream event.
type EventKind int

const (
	// EventContent carries assistant text. Text is the full accumulated
	// text seen so far, not a delta: the transport resends the complete
	// running text on each observable growth of the response buffer, so
	// consumers must replace their buffer, never append to it.
	EventContent EventKind = iota

	// EventStatus is a progress pill (phase + human-readable message).
	EventStatus

	// EventSearchResults carries a web-search result payload.
	EventSearchResults

	// EventContextCards carries a context-card payload. Emitted for
	// completeness; downstream components ignore it.
	EventContextCards

	// EventError is a backend-reported error.
	EventError

	// EventDone signals stream completion ([DONE] token).
	EventDone
)

// String returns a short name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventStatus:
		return "status"
	case EventSearchResults:
		return "search_results"
	case EventContextCards:
		return "context_cards"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// PhaseComplete is the status phase that terminates a stream.
const PhaseComplete = "complete"

// Event is one demultiplexed stream event. Only the fields relevant to the
// Kind are populated.
type Event struct {
	Kind EventKind

	// Text is the full accumulated assistant text (EventContent).
	Text string

	// Phase and Message describe a status pill (EventStatus). Message also
	// carries the error text for EventError.
	Phase   string
	Message string

	// Payload is the raw JSON line for EventSearchResults and
	// EventContextCards.
	Payload json.RawMessage
}

// Terminal reports whether the event ends the stream. A bare [DONE] token,
// a status pill with the complete phase, and a backend error all close the
// transport immediately.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventDone, EventError:
		return true
	case EventStatus:
		return e.Phase == PhaseComplete
	default:
		return false
	}
}

// =============================================================================
// STATUS PILLS
// =============================================================================

// StatusPill is one entry in the append-only status transcript shown while a
// response is being generated. Pills are never mutated or collapsed; the log
// is a faithful record of what the backend reported.
type StatusPill struct {
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// STRUCTURED LINE PARSING
// =============================================================================

// doneToken is the bare completion sentinel used by the SSE-style endpoints.
const doneToken = "[DONE]"

// structuredLine is the envelope shared by every control line.
type structuredLine struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// ParseLine converts one newline-terminated structured line (already stripped
// of any "data: " prefix) into an Event. It returns ok=false for lines that
// fail JSON parsing or carry an unknown type; such lines are dropped by the
// caller rather than surfaced as visible text, so malformed control data can
// never leak into the chat transcript.
func ParseLine(line string) (Event, bool) {
	if line == doneToken {
		return Event{Kind: EventDone}, true
	}

	var env structuredLine
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return Event{}, false
	}

	switch env.Type {
	case "status":
		return Event{Kind: EventStatus, Phase: env.Status, Message: env.Message}, true
	case "search_results":
		return Event{Kind: EventSearchResults, Payload: json.RawMessage(line)}, true
	case "context_cards":
		return Event{Kind: EventContextCards, Payload: json.RawMessage(line)}, true
	case "error":
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return Event{Kind: EventError, Message: msg}, true
	default:
		return Event{}, false
	}
}
