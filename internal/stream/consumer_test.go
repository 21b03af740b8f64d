// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/ollamachat/internal/history"
	"github.com/jeranaias/ollamachat/internal/model"
)

func newTestStore() *history.Store {
	return history.New(nil, model.Empty())
}

func newConsumer(store *history.Store, endpoint string) *Consumer {
	return NewConsumer(Config{
		Endpoint:      endpoint,
		Model:         "llama3.1",
		FlushInterval: 5 * time.Millisecond,
	}, store)
}

// sseServer streams the given SSE frames, flushing after each.
func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chunkFrame(content string, done bool) string {
	return fmt.Sprintf("data: {\"message\":{\"content\":%q},\"done\":%v}\n\n", content, done)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func activeMessages(t *testing.T, store *history.Store) []model.Message {
	t.Helper()
	conv, ok := store.ActiveConversation()
	if !ok {
		t.Fatal("no active conversation")
	}
	return conv.Messages
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestSend_StreamsTokensIntoReply(t *testing.T) {
	srv := sseServer(t,
		chunkFrame("Hel", false),
		chunkFrame("lo", false),
		chunkFrame("", true),
	)
	store := newTestStore()
	c := newConsumer(store, srv.URL)

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Wait()

	if got := c.State(); got != StateCompleted {
		t.Errorf("state = %v, want completed", got)
	}
	msgs := activeMessages(t, store)
	if len(msgs) != 2 {
		t.Fatalf("expected user + reply, got %d messages", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "Hello" {
		t.Errorf("reply = %+v, want assembled %q", msgs[1], "Hello")
	}

	conv, _ := store.ActiveConversation()
	if conv.Title != "hi" {
		t.Errorf("title = %q, want derived from first user message", conv.Title)
	}
}

func TestSend_CreatesConversationAndPlaceholder(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, chunkFrame("", true))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	store := newTestStore()
	c := newConsumer(store, srv.URL)

	if err := c.Send("question"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The empty placeholder must exist before any token arrives.
	waitFor(t, "placeholder", func() bool {
		conv, ok := store.ActiveConversation()
		return ok && len(conv.Messages) == 2
	})

	msgs := activeMessages(t, store)
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "" {
		t.Errorf("placeholder = %+v, want empty assistant message", msgs[1])
	}
	if !c.Busy() {
		t.Error("consumer should be busy while streaming")
	}
	if err := c.Send("again"); err != ErrBusy {
		t.Errorf("second Send = %v, want ErrBusy", err)
	}
}

func TestSend_TitleSetOnce(t *testing.T) {
	srv := sseServer(t, chunkFrame("ok", false), chunkFrame("", true))
	store := newTestStore()
	c := newConsumer(store, srv.URL)

	if err := c.Send("first question"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Wait()
	if err := c.Send("second question"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Wait()

	conv, _ := store.ActiveConversation()
	if conv.Title != "first question" {
		t.Errorf("title = %q, should not be recomputed on later sends", conv.Title)
	}
}

// Observers must see transitions in lifecycle order; a Completed arriving
// before Streaming would leave the UI reading busy forever.
func TestOnState_TransitionsInOrder(t *testing.T) {
	srv := sseServer(t, chunkFrame("ok", false), chunkFrame("", true))
	store := newTestStore()
	c := newConsumer(store, srv.URL)

	var (
		mu     sync.Mutex
		states []State
	)
	c.OnState = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateRequesting, StateStreaming, StateCompleted}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("transitions = %v, want %v", states, want)
	}
}

// =============================================================================
// PAYLOAD EDGE CASES
// =============================================================================

func TestSend_ErrorSentinelAppended(t *testing.T) {
	srv := sseServer(t,
		chunkFrame("partial", false),
		"data: __ERR__:boom\n\n",
		chunkFrame("", true),
	)
	store := newTestStore()
	c := newConsumer(store, srv.URL)

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Wait()

	msgs := activeMessages(t, store)
	if got := msgs[1].Content; got != "partial[error] __ERR__:boom" {
		t.Errorf("reply = %q, want sentinel accumulated inline", got)
	}
	if c.State() != StateCompleted {
		t.Errorf("state = %v, want completed", c.State())
	}
}

func TestSend_UnparsablePayloadPassesThrough(t *testing.T) {
	srv := sseServer(t,
		"data: raw gibberish\n\n",
		chunkFrame("", true),
	)
	store := newTestStore()
	c := newConsumer(store, srv.URL)

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Wait()

	msgs := activeMessages(t, store)
	if msgs[1].Content != "raw gibberish" {
		t.Errorf("reply = %q, want literal passthrough", msgs[1].Content)
	}
}

func TestSend_EOFWithoutDoneFlushesTail(t *testing.T) {
	// Stream ends mid-frame with no done marker.
	srv := sseServer(t,
		chunkFrame("kept", false),
		"data: tail",
	)
	store := newTestStore()
	c := newConsumer(store, srv.URL)

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Wait()

	if c.State() != StateCompleted {
		t.Errorf("state = %v, want completed on EOF", c.State())
	}
	msgs := activeMessages(t, store)
	if msgs[1].Content != "kepttail" {
		t.Errorf("reply = %q, want buffered tail salvaged", msgs[1].Content)
	}
}

// =============================================================================
// FAILURES
// =============================================================================

func TestSend_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	store := newTestStore()
	c := newConsumer(store, srv.URL)

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Wait()

	if c.State() != StateFailed {
		t.Errorf("state = %v, want failed", c.State())
	}
	if c.Busy() {
		t.Error("consumer should be free after failure")
	}
	msgs := activeMessages(t, store)
	if len(msgs) != 2 {
		t.Fatalf("expected user + error message, got %d", len(msgs))
	}
	got := msgs[1].Content
	if !strings.Contains(got, "500") || !strings.Contains(got, "model not loaded") {
		t.Errorf("error message = %q, want status and body", got)
	}
}

func TestSend_ConnectionRefused(t *testing.T) {
	store := newTestStore()
	c := newConsumer(store, "http://127.0.0.1:1/api/chat/stream")

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Wait()

	if c.State() != StateFailed {
		t.Errorf("state = %v, want failed", c.State())
	}
	msgs := activeMessages(t, store)
	if !strings.HasPrefix(msgs[1].Content, "Network error:") {
		t.Errorf("error message = %q, want network error text", msgs[1].Content)
	}
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancel_MidStreamKeepsPartial(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, chunkFrame("partial ", false))
		w.(http.Flusher).Flush()
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	store := newTestStore()
	c := newConsumer(store, srv.URL)

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "partial reply", func() bool {
		conv, ok := store.ActiveConversation()
		return ok && len(conv.Messages) == 2 && conv.Messages[1].Content != ""
	})

	c.Cancel()
	c.Wait()

	if c.State() != StateCancelled {
		t.Errorf("state = %v, want cancelled", c.State())
	}
	msgs := activeMessages(t, store)
	// Flushed tokens stay; no marker is appended once a reply exists.
	if msgs[1].Content != "partial " {
		t.Errorf("reply = %q, want flushed partial kept verbatim", msgs[1].Content)
	}
}

func TestCancel_BeforeResponseAppendsMarker(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	store := newTestStore()
	c := newConsumer(store, srv.URL)

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-started
	c.Cancel()
	c.Wait()

	if c.State() != StateCancelled {
		t.Errorf("state = %v, want cancelled", c.State())
	}
	msgs := activeMessages(t, store)
	if len(msgs) != 2 || msgs[1].Content != "[cancelled]" {
		t.Errorf("messages = %+v, want [cancelled] marker appended", msgs)
	}
}

// =============================================================================
// RESEND
// =============================================================================

func TestResend_TruncatesAndReplaces(t *testing.T) {
	srv := sseServer(t, chunkFrame("new answer", false), chunkFrame("", true))
	store := newTestStore()
	conv := store.CreateNewConversation()
	store.UpdateConversationMessages(conv.ID, []model.Message{
		model.NewUserMessage("old question"),
		model.NewAssistantMessage("old answer"),
		model.NewUserMessage("followup"),
		model.NewAssistantMessage("followup answer"),
	})
	store.UpdateConversationTitle(conv.ID, "old question")

	c := newConsumer(store, srv.URL)
	if err := c.Resend(0, "edited question"); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	c.Wait()

	msgs := activeMessages(t, store)
	if len(msgs) != 2 {
		t.Fatalf("expected truncation to edited message + reply, got %d messages", len(msgs))
	}
	if msgs[0].Content != "edited question" {
		t.Errorf("edited message = %q", msgs[0].Content)
	}
	if msgs[1].Content != "new answer" {
		t.Errorf("reply = %q", msgs[1].Content)
	}

	// Title was set before the edit; it stays.
	got, _ := store.Conversation(conv.ID)
	if got.Title != "old question" {
		t.Errorf("title = %q, want unchanged by edit", got.Title)
	}
}

func TestResend_RejectsNonUserIndex(t *testing.T) {
	store := newTestStore()
	conv := store.CreateNewConversation()
	store.UpdateConversationMessages(conv.ID, []model.Message{
		model.NewUserMessage("q"),
		model.NewAssistantMessage("a"),
	})

	c := newConsumer(store, "http://unused")
	if err := c.Resend(1, "x"); err == nil {
		t.Error("expected error editing an assistant message")
	}
	if err := c.Resend(7, "x"); err == nil {
		t.Error("expected error for out-of-range index")
	}
	if err := c.Resend(-1, "x"); err == nil {
		t.Error("expected error for negative index")
	}
}
