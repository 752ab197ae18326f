// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGovernor_UnknownByDefault(t *testing.T) {
	g := New()

	_, known := g.Remaining()
	assert.False(t, known)
	assert.False(t, g.Exhausted(), "unknown quota must not gate sends")
	assert.NoError(t, g.Gate())
}

func TestGovernor_SetAndGate(t *testing.T) {
	g := New()

	g.Set(2)
	n, known := g.Remaining()
	assert.True(t, known)
	assert.Equal(t, 2, n)
	assert.NoError(t, g.Gate())

	g.Set(0)
	assert.True(t, g.Exhausted())
	assert.ErrorIs(t, g.Gate(), ErrExhausted)
}

func TestGovernor_SetClampsNegative(t *testing.T) {
	g := New()
	g.Set(-5)
	n, _ := g.Remaining()
	assert.Equal(t, 0, n)
	assert.True(t, g.Exhausted())
}

func TestGovernor_Decrement(t *testing.T) {
	g := New()

	// Unknown quota: decrement is a no-op, not a guess.
	g.Decrement()
	_, known := g.Remaining()
	assert.False(t, known)

	g.Set(2)
	g.Decrement()
	n, _ := g.Remaining()
	assert.Equal(t, 1, n)

	g.Decrement()
	g.Decrement() // never below zero
	n, _ = g.Remaining()
	assert.Equal(t, 0, n)
	assert.True(t, g.Exhausted())
}

func TestGovernor_Exhaust(t *testing.T) {
	g := New()
	g.Set(10)
	g.Exhaust()
	assert.True(t, g.Exhausted())
}

func TestGovernor_UpdateFromHeader(t *testing.T) {
	g := New()

	h := http.Header{}
	assert.False(t, g.UpdateFromHeader(h), "absent header is not zero")
	_, known := g.Remaining()
	assert.False(t, known)

	h.Set(HeaderRemaining, "7")
	assert.True(t, g.UpdateFromHeader(h))
	n, known := g.Remaining()
	assert.True(t, known)
	assert.Equal(t, 7, n)

	h.Set(HeaderRemaining, "garbage")
	assert.False(t, g.UpdateFromHeader(h))
	n, _ = g.Remaining()
	assert.Equal(t, 7, n, "malformed header must not clobber the value")
}

func TestGovernor_HeaderReconcilesDecrement(t *testing.T) {
	g := New()
	g.Set(5)
	g.Decrement()
	g.Decrement()

	// The next authoritative header wins over local bookkeeping.
	h := http.Header{}
	h.Set(HeaderRemaining, "4")
	g.UpdateFromHeader(h)

	n, _ := g.Remaining()
	assert.Equal(t, 4, n)
}
