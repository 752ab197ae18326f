// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"log"
	"strings"
	"sync"

	"github.com/rynk-ai/rynk-go/internal/protocol"
)

// =============================================================================
// DEMULTIPLEXER
// =============================================================================

// Handler receives each demultiplexed event in stream order.
type Handler func(protocol.Event)

// Demuxer turns successive buffer deltas from one response body into typed
// protocol events. It owns the single unconsumed buffer and drives the
// classifier against it until the classifier asks for more data.
//
// A Demuxer handles exactly one response and is not reusable. It is
// single-writer: only the goroutine reading the transport may call Write or
// Observe, but Close may be called from any goroutine and is idempotent.
type Demuxer struct {
	mu      sync.Mutex
	handler Handler

	pending string          // unconsumed buffer
	content strings.Builder // accumulated assistant text
	seen    int             // bytes consumed from the polled total buffer

	closed  bool
	dropped int // malformed structured lines discarded
}

// New creates a demuxer that delivers events to handler.
func New(handler Handler) *Demuxer {
	return &Demuxer{handler: handler}
}

// Write feeds one incremental transport delta into the demuxer.
func (d *Demuxer) Write(delta string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || delta == "" {
		return
	}
	d.pending += delta
	d.seen += len(delta)
	d.process()
}

// Observe feeds the full response buffer as seen so far. The demuxer computes
// the delta against what it has already consumed, so repeated polling of a
// growing buffer produces the same events as incremental writes.
func (d *Demuxer) Observe(total string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || len(total) <= d.seen {
		return
	}
	d.pending += total[d.seen:]
	d.seen = len(total)
	d.process()
}

// Close marks the transport as finished. Any leftover buffered text is
// flushed as one final content event: better to show trailing text than to
// lose it. Close after a terminal event (or a prior Close) is a no-op, so an
// abort racing a natural completion is harmless.
func (d *Demuxer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	leftover := strings.TrimRight(d.pending, "\r\n ")
	d.pending = ""
	if leftover != "" {
		d.content.WriteString(leftover)
		d.emit(protocol.Event{Kind: protocol.EventContent, Text: d.content.String()})
	}
}

// Closed reports whether the demuxer has seen a terminal event or been
// closed.
func (d *Demuxer) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Content returns the accumulated assistant text seen so far.
func (d *Demuxer) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content.String()
}

// Dropped returns the number of malformed structured lines discarded.
func (d *Demuxer) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// process repeatedly classifies the pending buffer until it is exhausted or
// the classifier needs more data. Caller holds d.mu.
func (d *Demuxer) process() {
	for !d.closed && d.pending != "" {
		outcome := protocol.Classify(d.pending)
		switch outcome.Kind {
		case protocol.NeedMoreData:
			return

		case protocol.StructuredLine:
			d.pending = outcome.Rest
			if outcome.Line == "" {
				continue // blank line, no event
			}
			ev, ok := protocol.ParseLine(outcome.Line)
			if !ok {
				// Dropped, never rendered: protocol noise must not
				// reach the user. Logged for an observability sink.
				d.dropped++
				log.Printf("stream: dropping malformed structured line (%d bytes)", len(outcome.Line))
				continue
			}
			d.emit(ev)
			if ev.Terminal() {
				d.closed = true
				d.pending = ""
			}

		case protocol.ContentChunk:
			d.pending = outcome.Rest
			if outcome.Text == "" {
				continue
			}
			d.content.WriteString(outcome.Text)
			d.emit(protocol.Event{Kind: protocol.EventContent, Text: d.content.String()})
		}
	}
}

// emit delivers one event. Caller holds d.mu; handlers must not call back
// into the demuxer.
func (d *Demuxer) emit(ev protocol.Event) {
	if d.handler != nil {
		d.handler(ev)
	}
}
