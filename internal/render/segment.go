// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render splits message content into prose and fenced code parts so
// the UI can style them differently.
package render

import "strings"

// Kind distinguishes prose from fenced code.
type Kind int

const (
	KindProse Kind = iota
	KindCode
)

// Part is one homogeneous run of message content.
type Part struct {
	Kind Kind
	// Lang is the fence info string, when the part is code.
	Lang string
	Text string
}

// Segment splits content on triple-backtick fences. An unterminated fence
// treats the rest of the content as code, which is the common shape while a
// reply is still streaming. Empty parts are dropped.
func Segment(content string) []Part {
	var parts []Part
	rest := content

	for {
		i := strings.Index(rest, "```")
		if i < 0 {
			if rest != "" {
				parts = append(parts, Part{Kind: KindProse, Text: rest})
			}
			return parts
		}

		if prose := rest[:i]; prose != "" {
			parts = append(parts, Part{Kind: KindProse, Text: prose})
		}
		rest = rest[i+3:]

		lang := ""
		if nl := strings.Index(rest, "\n"); nl >= 0 {
			candidate := strings.TrimSpace(rest[:nl])
			if isLangTag(candidate) {
				lang = candidate
				rest = rest[nl+1:]
			}
		}

		end := strings.Index(rest, "```")
		if end < 0 {
			if rest != "" {
				parts = append(parts, Part{Kind: KindCode, Lang: lang, Text: rest})
			}
			return parts
		}

		if code := rest[:end]; code != "" {
			parts = append(parts, Part{Kind: KindCode, Lang: lang, Text: strings.TrimSuffix(code, "\n")})
		}
		rest = strings.TrimPrefix(rest[end+3:], "\n")
	}
}

// isLangTag reports whether a fence info string looks like a language name
// rather than code that happens to follow the fence on the same line.
func isLangTag(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' || r == '-' || r == '+' || r == '#' || r == '.') {
			return false
		}
	}
	return true
}
