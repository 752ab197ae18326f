// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream demultiplexes a single Rynk response body into typed
// protocol events.
//
// The demuxer supports two delivery modes: a true incremental feed (Write is
// called with each transport delta) and a polled feed for runtimes that can
// only observe a monotonically growing total response buffer (Observe is
// called with the full buffer and the demuxer computes the delta itself).
// Both modes produce identical event sequences for identical final payloads.
package stream
