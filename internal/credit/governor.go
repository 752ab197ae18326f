// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credit tracks the remaining message quota for unauthenticated
// sessions and gates new sends once it is exhausted.
package credit

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
)

// HeaderRemaining is the response header carrying the remaining guest quota.
// Absence means "not applicable", not zero.
const HeaderRemaining = "x-guest-credits-remaining"

// ErrExhausted is the distinct error kind surfaced when the quota is spent.
// Callers present an upgrade path rather than a retry for this error, so it
// must never be folded into a generic failure.
var ErrExhausted = errors.New("guest credits exhausted")

// =============================================================================
// GOVERNOR
// =============================================================================

// Governor holds the remaining quota for one client session. The value is
// unknown until the first authoritative server response; between responses a
// pessimistic local decrement stands in until the next authoritative value
// reconciles it. The server is the source of truth: the tracked value is
// monotonically non-increasing except when refreshed from a header or body.
//
// Scoped as owned state (not a process-wide singleton) so independent
// sessions cannot cross-talk.
type Governor struct {
	mu        sync.Mutex
	remaining int
	known     bool
}

// New creates a governor with unknown quota.
func New() *Governor {
	return &Governor{}
}

// Remaining returns the tracked quota and whether it is known.
func (g *Governor) Remaining() (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining, g.known
}

// Exhausted reports whether sends must be rejected before any network call.
func (g *Governor) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.known && g.remaining <= 0
}

// Gate returns ErrExhausted when the quota is spent, nil otherwise.
func (g *Governor) Gate() error {
	if g.Exhausted() {
		return ErrExhausted
	}
	return nil
}

// Set records an authoritative remaining value from a server response.
func (g *Governor) Set(remaining int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	g.remaining = remaining
	g.known = true
}

// Exhaust forces the quota to zero, used when the backend rejects a send
// with a credit-limit error.
func (g *Governor) Exhaust() {
	g.Set(0)
}

// Decrement applies the pessimistic local decrement after a turn completes
// successfully. It never raises the value and never drops below zero; the
// next authoritative header or body value reconciles it.
func (g *Governor) Decrement() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.known {
		return
	}
	if g.remaining > 0 {
		g.remaining--
	}
}

// UpdateFromHeader refreshes the quota from a response header when present.
// The header is authoritative over any body-derived value; callers fall back
// to body parsing only when this returns false.
func (g *Governor) UpdateFromHeader(h http.Header) bool {
	raw := h.Get(HeaderRemaining)
	if raw == "" {
		return false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return false
	}
	g.Set(n)
	return true
}
