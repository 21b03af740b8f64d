// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/ollamachat/internal/stream"
)

// =============================================================================
// EXTERNAL MESSAGES
// =============================================================================

// RefreshMsg tells the view the history store changed and the transcript
// needs a repaint. Sent through the program from the store's OnChange hook.
type RefreshMsg struct{}

// StreamStateMsg carries a consumer state transition into the update loop.
type StreamStateMsg struct {
	State stream.State
}

// ModelChangedMsg announces a model name change from a config reload.
type ModelChangedMsg struct {
	Name string
}
