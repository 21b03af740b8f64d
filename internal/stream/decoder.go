// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// errMarker prefixes payloads the proxy emits when the upstream model fails
// mid-stream.
const errMarker = "__ERR__:"

// =============================================================================
// SSE EVENT DECODER
// =============================================================================

// EventDecoder reassembles server-sent events from an arbitrarily-chunked
// byte stream. Events are delimited by a blank line; a partial event stays
// buffered until its terminator arrives.
type EventDecoder struct {
	buf bytes.Buffer
}

// Feed appends raw bytes and returns the payloads of every event completed
// so far, in order. Empty payloads are dropped.
func (d *EventDecoder) Feed(p []byte) []string {
	d.buf.Write(p)

	var payloads []string
	for {
		raw := d.buf.Bytes()
		i := bytes.Index(raw, []byte("\n\n"))
		if i < 0 {
			break
		}
		frame := string(raw[:i])
		d.buf.Next(i + 2)

		if payload := extractPayload(frame); payload != "" {
			payloads = append(payloads, payload)
		}
	}
	return payloads
}

// Remainder force-decodes whatever is still buffered, for streams that end
// without a final blank line. The buffer is consumed.
func (d *EventDecoder) Remainder() (string, bool) {
	if d.buf.Len() == 0 {
		return "", false
	}
	frame := d.buf.String()
	d.buf.Reset()

	payload := extractPayload(frame)
	return payload, payload != ""
}

// extractPayload pulls the data out of one SSE frame: every "data:" line
// contributes, joined by newlines, non-data lines (comments, event names)
// are ignored.
func extractPayload(frame string) string {
	var parts []string
	for _, line := range strings.Split(frame, "\n") {
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			parts = append(parts, strings.TrimPrefix(rest, " "))
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// =============================================================================
// PAYLOAD INTERPRETATION
// =============================================================================

// chatChunk is one NDJSON frame from the upstream model, as relayed by the
// proxy inside an SSE event.
type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// interpretPayload classifies one event payload.
//
// Error sentinels (the proxy's __ERR__: marker, or any payload starting
// with "error" case-insensitively) become bracketed error text appended to
// the response. Valid chunks yield their token content and done flag.
// Anything unparsable passes through literally so no proxy output is
// silently swallowed.
func interpretPayload(payload string) (text string, done bool) {
	if strings.HasPrefix(payload, errMarker) || hasErrorPrefix(payload) {
		return "[error] " + payload, false
	}

	var chunk chatChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return payload, false
	}
	return chunk.Message.Content, chunk.Done
}

func hasErrorPrefix(payload string) bool {
	const prefix = "error"
	return len(payload) >= len(prefix) && strings.EqualFold(payload[:len(prefix)], prefix)
}
