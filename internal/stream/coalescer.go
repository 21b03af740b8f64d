// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"sync"
	"time"
)

// DefaultFlushInterval is the debounce window for token batching.
const DefaultFlushInterval = 50 * time.Millisecond

// =============================================================================
// COALESCER
// =============================================================================

// Coalescer batches token fragments so the UI repaints at most once per
// debounce window instead of once per token. Trailing-edge: the timer is
// armed when the first fragment of a batch arrives and is NOT re-armed by
// later fragments, so a steady token stream flushes every interval rather
// than being starved forever.
//
// The flush callback runs on the timer goroutine (or the caller's, for
// explicit flushes) with the state lock released. Deliveries are serialized
// by their own lock, so an explicit flush always lands after any timer flush
// already in flight, and batches reach the callback in accumulation order.
type Coalescer struct {
	// mu guards the pending cell and timer; deliver serializes callback
	// invocations. Lock order: deliver before mu.
	mu      sync.Mutex
	deliver sync.Mutex
	pending strings.Builder
	timer   *time.Timer
	delay   time.Duration
	flush   func(text string)
}

// NewCoalescer creates a coalescer that delivers batched text to flush.
// A non-positive delay falls back to DefaultFlushInterval.
func NewCoalescer(delay time.Duration, flush func(text string)) *Coalescer {
	if delay <= 0 {
		delay = DefaultFlushInterval
	}
	return &Coalescer{delay: delay, flush: flush}
}

// Accumulate buffers a fragment, arming the flush timer if this fragment
// started a new batch.
func (c *Coalescer) Accumulate(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	c.pending.WriteString(text)
	if c.timer == nil {
		c.timer = time.AfterFunc(c.delay, c.fire)
	}
	c.mu.Unlock()
}

func (c *Coalescer) fire() {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	c.timer = nil
	text := c.pending.String()
	c.pending.Reset()
	c.mu.Unlock()

	if text != "" {
		c.flush(text)
	}
}

// Flush synchronously delivers anything pending and disarms the timer.
// Called at end of stream so the tail is never held hostage to the window.
// Blocks until a timer flush already in flight has landed, so the explicit
// flush is always the last delivery.
func (c *Coalescer) Flush() {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	text := c.pending.String()
	c.pending.Reset()
	c.mu.Unlock()

	if text != "" {
		c.flush(text)
	}
}

// Cancel disarms the timer and discards anything pending. Blocks until an
// in-flight delivery finishes; after Cancel returns no further flush runs.
func (c *Coalescer) Cancel() {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending.Reset()
	c.mu.Unlock()
}
