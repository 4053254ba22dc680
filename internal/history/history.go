// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"errors"
	"log/slog"

	"github.com/morganforge/hivemind-tui/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidMessage is returned when an append is rejected for a
	// missing role or content.
	ErrInvalidMessage = errors.New("invalid message: role and content required")
)

// =============================================================================
// MANAGER
// =============================================================================

// Manager layers append-only transcript semantics over the store.
type Manager struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewManager creates a history manager over the given store.
func NewManager(store *storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "history"),
	}
}

// Append validates and persists one message. Invalid messages are
// rejected, never written.
func (m *Manager) Append(conversationID string, msg storage.Message) error {
	if !msg.Valid() {
		m.logger.Warn("dropping invalid message",
			"conversation", conversationID, "role", msg.Role)
		return ErrInvalidMessage
	}
	return m.store.AppendMessage(conversationID, msg)
}

// History returns the conversation's messages, creating the conversation
// if it does not exist.
func (m *Manager) History(conversationID string) ([]storage.Message, error) {
	return m.store.Messages(conversationID)
}

// Sanitize removes messages that fail the validity predicate or that are
// raw backend response objects leaked into history by older builds. It
// returns the number of messages removed.
func (m *Manager) Sanitize(conversationID string) (int, error) {
	msgs, err := m.store.Messages(conversationID)
	if err != nil {
		return 0, err
	}

	kept := msgs[:0]
	removed := 0
	for _, msg := range msgs {
		if msg.Valid() {
			kept = append(kept, msg)
			continue
		}
		removed++
	}

	if removed == 0 {
		return 0, nil
	}

	m.logger.Info("sanitized conversation history",
		"conversation", conversationID, "removed", removed)
	if err := m.store.SetMessages(conversationID, kept); err != nil {
		return 0, err
	}
	return removed, nil
}
