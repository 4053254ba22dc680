// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/morganforge/hivemind-tui/internal/storage"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter writes the transcript as indented JSON with an export
// envelope.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string { return ".json" }

// jsonEnvelope wraps the conversation with export provenance.
type jsonEnvelope struct {
	Generator  string                `json:"generator"`
	ExportedAt time.Time             `json:"exported_at"`
	Data       *storage.Conversation `json:"conversation"`
}

// Export converts a conversation to JSON.
func (e *JSONExporter) Export(conv *storage.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if len(conv.Messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}

	out, err := json.MarshalIndent(jsonEnvelope{
		Generator:  "hivemind",
		ExportedAt: time.Now(),
		Data:       conv,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}
	return out, nil
}
