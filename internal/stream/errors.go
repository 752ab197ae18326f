// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"strings"
)

// MaxErrorBodyLen bounds how much raw error text is surfaced when a non-2xx
// response body is not parseable JSON.
const MaxErrorBodyLen = 512

// ErrorMessage extracts a human-readable message from a non-2xx response
// body. It tries the JSON {"message": ...} and {"error": ...} shapes first;
// a JSON body without either field yields "" rather than leaking protocol
// noise. The raw-text fallback, truncated to a bounded length, applies only
// to non-JSON bodies.
func ErrorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		return parsed.Error
	}

	text := strings.TrimSpace(string(body))
	if len(text) > MaxErrorBodyLen {
		text = text[:MaxErrorBodyLen]
	}
	return text
}
