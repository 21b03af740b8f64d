// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream drives a chat request against the streaming proxy: it sends
// the conversation, consumes the SSE response token by token, and writes the
// growing assistant reply into the history store through a debounced
// coalescer so the UI never repaints per token.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/ollamachat/internal/history"
	"github.com/jeranaias/ollamachat/internal/model"
)

// =============================================================================
// STATES
// =============================================================================

// State is the consumer's position in the request lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrBusy is returned when a send is attempted while a request is in flight.
var ErrBusy = errors.New("a request is already in flight")

// =============================================================================
// CONSUMER
// =============================================================================

// Config holds the consumer's request parameters.
type Config struct {
	// Endpoint is the proxy's streaming chat URL.
	Endpoint string
	// Model is the model name sent with every request.
	Model string
	// FlushInterval is the coalescer debounce window. Zero means default.
	FlushInterval time.Duration
	// HTTPClient overrides the client used for requests. Nil means a
	// client with no timeout; streams are unbounded by design and are
	// ended through cancellation.
	HTTPClient *http.Client
}

// Consumer owns at most one in-flight chat request at a time.
type Consumer struct {
	mu      sync.Mutex
	cfg     Config
	store   *history.Store
	state   State
	cancel  context.CancelFunc
	convID  string
	sentLen int
	wg      sync.WaitGroup

	// OnState, when set, observes every state transition. Invoked
	// synchronously with the lock released, in transition order. Set it
	// before the consumer is shared.
	OnState func(State)
}

// NewConsumer creates an idle consumer writing into store.
func NewConsumer(cfg Config, store *history.Store) *Consumer {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Consumer{cfg: cfg, store: store, state: StateIdle}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a request is in flight.
func (c *Consumer) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRequesting || c.state == StateStreaming
}

// SetModel changes the model used for subsequent requests.
func (c *Consumer) SetModel(model string) {
	c.mu.Lock()
	c.cfg.Model = model
	c.mu.Unlock()
}

// Cancel aborts the in-flight request, if any. Idempotent.
func (c *Consumer) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the in-flight request goroutine, if any, has finished.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Send appends a user message to the active conversation (creating one if
// none resolves) and starts streaming the reply.
func (c *Consumer) Send(input string) error {
	return c.submit(input, -1)
}

// Resend truncates the conversation at the given user message, replaces its
// content, and streams a fresh reply. Everything after the edited message is
// discarded.
func (c *Consumer) Resend(index int, content string) error {
	if index < 0 {
		return fmt.Errorf("invalid message index %d", index)
	}
	return c.submit(content, index)
}

func (c *Consumer) submit(text string, editIndex int) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty message")
	}

	c.mu.Lock()
	if c.state == StateRequesting || c.state == StateStreaming {
		c.mu.Unlock()
		return ErrBusy
	}

	conv, ok := c.store.ActiveConversation()
	if !ok {
		conv = c.store.CreateNewConversation()
	}

	hadUser := conv.HasUserMessage()

	msgs := conv.Messages
	if editIndex >= 0 {
		if editIndex >= len(msgs) || msgs[editIndex].Role != model.RoleUser {
			c.mu.Unlock()
			return fmt.Errorf("message %d is not an editable user message", editIndex)
		}
		msgs = msgs[:editIndex]
	}
	msgs = append(msgs, model.NewUserMessage(text))

	c.store.UpdateConversationMessages(conv.ID, msgs)
	if !hadUser {
		c.store.UpdateConversationTitle(conv.ID, model.GenerateTitle(msgs))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.convID = conv.ID
	c.sentLen = len(msgs)
	c.setStateLocked(StateRequesting)

	payload := msgs
	c.wg.Add(1)
	c.mu.Unlock()

	// Notified before the request goroutine starts so observers never see
	// a later transition first.
	c.notifyState(StateRequesting)

	go func() {
		defer c.wg.Done()
		defer cancel()
		c.run(ctx, conv.ID, payload)
	}()
	return nil
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

// chatRequest is the proxy's request body.
type chatRequest struct {
	Messages []model.Message `json:"messages"`
	Model    string          `json:"model"`
}

func (c *Consumer) run(ctx context.Context, convID string, sent []model.Message) {
	c.mu.Lock()
	endpoint, modelName, interval := c.cfg.Endpoint, c.cfg.Model, c.cfg.FlushInterval
	client := c.cfg.HTTPClient
	c.mu.Unlock()

	body, err := json.Marshal(chatRequest{Messages: sent, Model: modelName})
	if err != nil {
		c.fail(convID, fmt.Sprintf("Network error: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		c.fail(convID, fmt.Sprintf("Network error: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Cancelled before any reply arrived: leave a visible marker
			// so the thread shows the question was abandoned.
			c.appendAssistant(convID, "[cancelled]")
			c.setState(StateCancelled)
			return
		}
		c.fail(convID, fmt.Sprintf("Network error: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.fail(convID, fmt.Sprintf("Request failed (%s): %s", resp.Status, bytes.TrimSpace(detail)))
		return
	}

	// Headers are in: the reply exists. Give it a visible home before the
	// first token lands.
	c.appendAssistant(convID, "")
	c.setState(StateStreaming)

	replyIndex := len(sent)
	coalescer := NewCoalescer(interval, func(text string) {
		c.appendToMessage(convID, replyIndex, text)
	})

	c.readLoop(ctx, convID, resp.Body, coalescer)
}

// readLoop pulls the SSE stream until done, EOF, cancellation, or error.
func (c *Consumer) readLoop(ctx context.Context, convID string, body io.Reader, coalescer *Coalescer) {
	var decoder EventDecoder
	buf := make([]byte, 4096)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, payload := range decoder.Feed(buf[:n]) {
				text, done := interpretPayload(payload)
				coalescer.Accumulate(text)
				if done {
					// Anything after the done frame is noise.
					coalescer.Flush()
					c.setState(StateCompleted)
					return
				}
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// Stream ended without a done frame. Salvage whatever is
				// buffered; losing tail tokens is worse than trusting a
				// truncated frame.
				if payload, ok := decoder.Remainder(); ok {
					text, _ := interpretPayload(payload)
					coalescer.Accumulate(text)
				}
				coalescer.Flush()
				c.setState(StateCompleted)
			case errors.Is(err, context.Canceled), ctx.Err() != nil:
				// User cancelled mid-reply: keep what was already flushed,
				// drop the rest, no marker.
				coalescer.Cancel()
				c.setState(StateCancelled)
			default:
				coalescer.Flush()
				c.fail(convID, fmt.Sprintf("Network error: %v", err))
			}
			return
		}
	}
}

// =============================================================================
// STORE WRITES
// =============================================================================

// appendAssistant appends a fresh assistant message to the conversation.
func (c *Consumer) appendAssistant(convID, content string) {
	conv, ok := c.store.Conversation(convID)
	if !ok {
		return
	}
	c.store.UpdateConversationMessages(convID, append(conv.Messages, model.NewAssistantMessage(content)))
}

// appendToMessage appends text to the message at index, if it still exists.
func (c *Consumer) appendToMessage(convID string, index int, text string) {
	conv, ok := c.store.Conversation(convID)
	if !ok || index >= len(conv.Messages) {
		return
	}
	msgs := conv.Messages
	msgs[index].Content += text
	c.store.UpdateConversationMessages(convID, msgs)
}

// fail replaces everything after the sent messages with a single assistant
// error message and transitions to Failed.
func (c *Consumer) fail(convID, message string) {
	log.Printf("stream: %s", message)

	c.mu.Lock()
	sentLen := c.sentLen
	c.mu.Unlock()

	conv, ok := c.store.Conversation(convID)
	if ok {
		msgs := conv.Messages
		if sentLen <= len(msgs) {
			msgs = msgs[:sentLen]
		}
		c.store.UpdateConversationMessages(convID, append(msgs, model.NewAssistantMessage(message)))
	}
	c.setState(StateFailed)
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()

	c.notifyState(s)
}

// setStateLocked records the transition. The caller holds the lock and is
// responsible for notifying afterwards.
func (c *Consumer) setStateLocked(s State) {
	c.state = s
	if s != StateRequesting && s != StateStreaming {
		c.cancel = nil
	}
}

// notifyState delivers a transition to the observer, lock released. All
// transitions after Requesting happen on the single request goroutine, so
// synchronous delivery preserves their order.
func (c *Consumer) notifyState(s State) {
	if c.OnState != nil {
		c.OnState(s)
	}
}
