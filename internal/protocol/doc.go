// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the typed events carried inside a Rynk response
// stream and the classifier that separates structured control lines from raw
// assistant text.
//
// The backend answers a send with a single HTTP response body that interleaves
// newline-terminated JSON control lines (optionally SSE-prefixed with
// "data: ") and free-form natural-language text. There is no framing layer,
// so all of the ambiguity of telling the two apart lives behind the narrow
// Classify interface in this package. Downstream components only ever see
// typed Events.
package protocol
