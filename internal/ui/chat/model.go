// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI: a scrollback
// viewport over the active conversation, a single-line input, and key
// bindings for sending, cancelling, switching, and editing.
package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ollamachat/internal/history"
	"github.com/jeranaias/ollamachat/internal/model"
	"github.com/jeranaias/ollamachat/internal/stream"
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	store    *history.Store
	consumer *stream.Consumer
	keys     KeyMap

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	state stream.State

	// editIndex is the message being edited for resubmission, or -1.
	editIndex int

	modelName string
}

// New creates the chat view over the given store and consumer.
func New(store *history.Store, consumer *stream.Consumer, modelName string) Model {
	input := textinput.New()
	input.Placeholder = "Ask something..."
	input.Focus()
	input.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		store:     store,
		consumer:  consumer,
		keys:      DefaultKeyMap(),
		input:     input,
		spinner:   sp,
		state:     stream.StateIdle,
		editIndex: -1,
		modelName: modelName,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// SetModelName updates the model name shown in the header.
func (m *Model) SetModelName(name string) {
	m.modelName = name
}

func (m Model) busy() bool {
	return m.state == stream.StateRequesting || m.state == stream.StateStreaming
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case RefreshMsg:
		m.refreshViewport()
		return m, nil

	case ModelChangedMsg:
		m.modelName = msg.Name
		return m, nil

	case StreamStateMsg:
		wasBusy := m.busy()
		m.state = msg.State
		if m.busy() && !wasBusy {
			return m, m.spinner.Tick
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	chromeHeight := 3 // header + status + input
	if !m.ready {
		m.viewport = viewport.New(msg.Width, msg.Height-chromeHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - chromeHeight
	}
	m.input.Width = msg.Width - 4
	m.refreshViewport()
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.consumer.Cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.Cancel):
		if m.busy() {
			m.consumer.Cancel()
			return m, nil
		}
		if m.editIndex >= 0 {
			m.editIndex = -1
			m.input.Reset()
		}
		return m, nil

	case key.Matches(msg, m.keys.NewChat):
		if m.busy() {
			return m, nil
		}
		m.editIndex = -1
		m.input.Reset()
		m.store.CreateNewConversation()
		return m, nil

	case key.Matches(msg, m.keys.NextChat):
		if m.busy() {
			return m, nil
		}
		m.cycleConversation()
		return m, nil

	case key.Matches(msg, m.keys.EditLast):
		if m.busy() {
			return m, nil
		}
		m.beginEdit()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.busy() {
		return m, nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	var err error
	if m.editIndex >= 0 {
		err = m.consumer.Resend(m.editIndex, text)
	} else {
		err = m.consumer.Send(text)
	}
	if err == nil {
		m.editIndex = -1
		m.input.Reset()
	}
	return m, nil
}

// cycleConversation activates the next conversation in the list, wrapping
// around. A dangling active id restarts from the top.
func (m *Model) cycleConversation() {
	convs := m.store.Conversations()
	if len(convs) == 0 {
		return
	}
	next := 0
	if i := indexOf(convs, m.store.ActiveID()); i >= 0 {
		next = (i + 1) % len(convs)
	}
	m.store.SwitchConversation(convs[next].ID)
}

// beginEdit loads the last user message of the active conversation into the
// input for resubmission.
func (m *Model) beginEdit() {
	conv, ok := m.store.ActiveConversation()
	if !ok {
		return
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == model.RoleUser {
			m.editIndex = i
			m.input.SetValue(conv.Messages[i].Content)
			m.input.CursorEnd()
			return
		}
	}
}

func indexOf(convs []model.Conversation, id string) int {
	for i := range convs {
		if convs[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if atBottom {
		m.viewport.GotoBottom()
	}
}
