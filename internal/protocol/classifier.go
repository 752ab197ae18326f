// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"strings"
)

// =============================================================================
// CLASSIFIER
// =============================================================================

// OutcomeKind identifies the result of classifying the head of the buffer.
type OutcomeKind int

const (
	// NeedMoreData means the buffer does not yet hold a decidable unit;
	// the caller should wait for more bytes before classifying again.
	NeedMoreData OutcomeKind = iota

	// StructuredLine means a complete control line was extracted.
	StructuredLine

	// ContentChunk means raw assistant text was extracted.
	ContentChunk
)

// Outcome is the result of one Classify pass over the unconsumed buffer.
type Outcome struct {
	Kind OutcomeKind

	// Line is the structured line with any "data: " prefix stripped
	// (StructuredLine only). Empty lines are returned with Line == "" and
	// must be skipped without emitting an event.
	Line string

	// Text is the extracted raw content (ContentChunk only).
	Text string

	// Rest is the unconsumed remainder of the buffer.
	Rest string
}

const (
	ssePrefix = "data: "

	// Control-line prefixes that may appear concatenated directly after
	// raw content with no separating newline. When one is found
	// mid-buffer, everything before it is emitted as content and the
	// sentinel is left for reclassification as structured on the next
	// pass.
	sentinelStatus        = `{"type":"status"`
	sentinelSearchResults = `{"type":"search_results"`
	sentinelContextCards  = `{"type":"context_cards"`
)

var jsonSentinels = []string{sentinelStatus, sentinelSearchResults, sentinelContextCards}

// maxSentinelLen bounds the lookback when checking for a sentinel split
// across two transport deltas.
var maxSentinelLen = func() int {
	max := 0
	for _, s := range jsonSentinels {
		if len(s) > max {
			max = len(s)
		}
	}
	return max
}()

// Classify inspects the head of the unconsumed buffer and extracts either one
// structured control line or one chunk of raw content, returning NeedMoreData
// when a decision requires bytes that have not arrived yet.
//
// A buffer whose head (after leading whitespace) starts with "{", the SSE
// "data: " prefix, or the bare [DONE] token is treated as a structured
// region: a complete line requires a terminating newline, except for [DONE]
// which some endpoints emit as the very last bytes of the body with no
// terminator. Anything else is raw content, split at the earliest embedded
// control-line sentinel or, failing that, at the next newline.
//
// The outcome must not depend on where transport deltas happened to split the
// body, so a head or tail that could still grow into a structured prefix is
// withheld rather than emitted as content.
//
// The heuristic is inherently ambiguous (user text beginning with "{" at a
// line start is indistinguishable from a control message); keeping the whole
// decision inside this one function means a future framed transport can
// replace it without touching any downstream component.
func Classify(buf string) Outcome {
	trimmed := strings.TrimLeft(buf, " \t\r\n")
	if trimmed == "" {
		// Nothing but whitespace so far; wait for a decidable head.
		return Outcome{Kind: NeedMoreData, Rest: buf}
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, ssePrefix) || strings.HasPrefix(trimmed, doneToken) {
		return classifyStructured(trimmed)
	}

	// The head may still become "data: " or "[DONE]" once more bytes land.
	if strings.HasPrefix(ssePrefix, trimmed) || strings.HasPrefix(doneToken, trimmed) {
		return Outcome{Kind: NeedMoreData, Rest: buf}
	}

	return classifyContent(buf)
}

// classifyStructured extracts one newline-terminated control line. A
// structured message is assumed never to span forever without an eventual
// terminator, so an incomplete line waits rather than degrading to content.
func classifyStructured(buf string) Outcome {
	idx := strings.IndexByte(buf, '\n')
	if idx < 0 {
		// [DONE] may be the final bytes of the body with no newline.
		token := strings.TrimSpace(strings.TrimPrefix(buf, ssePrefix))
		if token == doneToken {
			return Outcome{Kind: StructuredLine, Line: doneToken, Rest: ""}
		}
		return Outcome{Kind: NeedMoreData, Rest: buf}
	}

	line := strings.TrimSpace(buf[:idx])
	line = strings.TrimPrefix(line, ssePrefix)

	return Outcome{Kind: StructuredLine, Line: line, Rest: buf[idx+1:]}
}

// classifyContent extracts raw assistant text from the head of the buffer.
func classifyContent(buf string) Outcome {
	// A control line may be glued straight onto content with no newline;
	// split at the earliest complete sentinel and leave it in the buffer.
	cut := -1
	for _, sentinel := range jsonSentinels {
		if i := strings.Index(buf, sentinel); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut > 0 {
		return Outcome{Kind: ContentChunk, Text: buf[:cut], Rest: buf[cut:]}
	}

	// Emit up to and including the next newline. A sentinel cannot span a
	// newline, so this split is always safe.
	if idx := strings.IndexByte(buf, '\n'); idx >= 0 {
		return Outcome{Kind: ContentChunk, Text: buf[:idx+1], Rest: buf[idx+1:]}
	}

	// No newline yet. Hold back a tail that could still complete into a
	// glued sentinel on the next delta.
	if i := partialSentinelStart(buf); i >= 0 {
		if i == 0 {
			return Outcome{Kind: NeedMoreData, Rest: buf}
		}
		return Outcome{Kind: ContentChunk, Text: buf[:i], Rest: buf[i:]}
	}

	return Outcome{Kind: ContentChunk, Text: buf, Rest: ""}
}

// partialSentinelStart returns the index of a trailing "{"-rooted suffix that
// is a proper prefix of a known sentinel, or -1 when the tail is plain text.
func partialSentinelStart(buf string) int {
	start := len(buf) - maxSentinelLen
	if start < 0 {
		start = 0
	}
	for i := start; i < len(buf); i++ {
		if buf[i] != '{' {
			continue
		}
		suffix := buf[i:]
		for _, sentinel := range jsonSentinels {
			if len(suffix) < len(sentinel) && strings.HasPrefix(sentinel, suffix) {
				return i
			}
		}
	}
	return -1
}
