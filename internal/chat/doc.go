// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat contains the data structures for conversations, messages and
// sub-threads, and the ordered message store that reconciles optimistic
// inserts, streaming commits and backward pagination.
package chat
