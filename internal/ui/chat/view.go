// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/ollamachat/internal/model"
	"github.com/jeranaias/ollamachat/internal/render"
	"github.com/jeranaias/ollamachat/internal/stream"
	"github.com/jeranaias/ollamachat/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	if m.editIndex >= 0 {
		b.WriteString(editBannerStyle.Render("editing") + " " + m.input.View())
	} else {
		b.WriteString("> " + m.input.View())
	}
	return b.String()
}

func (m Model) renderHeader() string {
	title := model.DefaultTitle
	if conv, ok := m.store.ActiveConversation(); ok {
		title = conv.Title
	}
	left := headerStyle.Render(util.TruncateString(title, 40))
	right := statusStyle.Render(m.modelName)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderStatus() string {
	switch m.state {
	case stream.StateRequesting:
		return m.spinner.View() + statusStyle.Render(" waiting for reply... (Esc to cancel)")
	case stream.StateStreaming:
		return m.spinner.View() + statusStyle.Render(" streaming... (Esc to cancel)")
	case stream.StateFailed:
		return statusStyle.Render("request failed · Enter to try again")
	case stream.StateCancelled:
		return statusStyle.Render("cancelled")
	default:
		n := len(m.store.Conversations())
		return statusStyle.Render(fmt.Sprintf(
			"%d conversation(s) · Enter send · C-n new · C-o switch · C-e edit · C-c quit", n))
	}
}

// =============================================================================
// TRANSCRIPT RENDERING
// =============================================================================

func (m Model) renderTranscript() string {
	conv, ok := m.store.ActiveConversation()
	if !ok || len(conv.Messages) == 0 {
		return statusStyle.Render("\n  No messages yet. Type below and press Enter.")
	}

	width := m.viewport.Width
	var b strings.Builder
	for i, msg := range conv.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg, width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg model.Message, width int) string {
	label := assistantLabelStyle.Render(msg.Role.DisplayName())
	if msg.Role == model.RoleUser {
		label = userLabelStyle.Render(msg.Role.DisplayName())
	}

	var b strings.Builder
	b.WriteString(label)
	b.WriteString("\n")

	for _, part := range render.Segment(msg.Content) {
		switch part.Kind {
		case render.KindCode:
			if part.Lang != "" {
				b.WriteString(codeLangStyle.Render(part.Lang))
				b.WriteString("\n")
			}
			b.WriteString(codeStyle.Render(padLines(part.Text, width-2)))
			b.WriteString("\n")
		default:
			b.WriteString(wrapText(part.Text, width))
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// padLines right-pads every line to the same display width so the code
// block's background forms a solid rectangle.
func padLines(text string, width int) string {
	lines := strings.Split(text, "\n")
	maxw := 0
	for _, line := range lines {
		if w := runewidth.StringWidth(line); w > maxw {
			maxw = w
		}
	}
	if width > 0 && maxw > width {
		maxw = width
	}
	for i, line := range lines {
		lines[i] = runewidth.FillRight(runewidth.Truncate(line, maxw, ""), maxw)
	}
	return strings.Join(lines, "\n")
}

// wrapText hard-wraps prose at display width, preserving existing newlines.
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	var b strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(wrapLine(line, width))
	}
	return b.String()
}

func wrapLine(line string, width int) string {
	if runewidth.StringWidth(line) <= width {
		return line
	}
	var b strings.Builder
	cur := 0
	for _, word := range strings.Fields(line) {
		w := runewidth.StringWidth(word)
		if cur > 0 && cur+1+w > width {
			b.WriteString("\n")
			cur = 0
		} else if cur > 0 {
			b.WriteString(" ")
			cur++
		}
		b.WriteString(word)
		cur += w
	}
	return b.String()
}
