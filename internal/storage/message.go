// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"time"

	"github.com/morganforge/hivemind-tui/internal/telemetry"
)

// =============================================================================
// ROLES
// =============================================================================

// Message roles. The gateway only ever produces these two in transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// =============================================================================
// MESSAGE MODEL
// =============================================================================

// Message is one transcript entry. User messages carry role, content and
// timestamp; assistant messages may additionally carry the agent name,
// an error marker, orchestration metadata and action hints.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Assistant-only fields
	AgentName      string    `json:"agentName,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Metadata       *Metadata `json:"metadata,omitempty"`
	RequiresAction bool      `json:"requires_action,omitempty"`
	ActionType     string    `json:"action_type,omitempty"`

	// Legacy fields: older gateway builds wrote raw API responses straight
	// into history. We never write these; their presence marks an entry
	// for removal during sanitation.
	Response     string `json:"response,omitempty"`
	CurrentAgent string `json:"current_agent,omitempty"`
}

// Metadata describes how an orchestrated assistant reply was produced.
type Metadata struct {
	Collaboration      string                    `json:"collaboration,omitempty"`
	ContributingAgents []string                  `json:"contributing_agents,omitempty"`
	SubtaskOutputs     []SubtaskOutput           `json:"subtask_outputs,omitempty"`
	TokenUsage         *telemetry.TokenUsage     `json:"token_usage,omitempty"`
	ProcessingTime     *telemetry.ProcessingTime `json:"processing_time,omitempty"`
}

// SubtaskOutput is the result of one subtask within an orchestration run.
// Subtask text is the uniqueness key; see orchestration for merge rules.
type SubtaskOutput struct {
	Subtask   string            `json:"subtask"`
	Output    string            `json:"output"`
	Agents    []string          `json:"agents,omitempty"`
	Telemetry *telemetry.Sample `json:"telemetry,omitempty"`
}

// NewUserMessage creates a user message stamped now.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage creates an assistant message stamped now.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// Valid reports whether the message may be persisted or rendered.
// A message is invalid when role or content is missing, or when it is a
// raw backend response that leaked into history (both legacy keys set).
func (m Message) Valid() bool {
	if m.Role == "" || m.Content == "" {
		return false
	}
	if m.Response != "" && m.CurrentAgent != "" {
		return false
	}
	return true
}

// IsError reports whether this assistant message records a failed send.
func (m Message) IsError() bool {
	return m.ErrorMessage != ""
}

// =============================================================================
// CONVERSATION MODEL
// =============================================================================

// Conversation is one keyed transcript.
type Conversation struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Messages        []Message `json:"messages"`
	CreatedAt       time.Time `json:"createdAt"`
	HasUploadedFile bool      `json:"hasUploadedFile,omitempty"`
}

// clone returns a deep copy so callers never alias store-owned slices.
func (c *Conversation) clone() *Conversation {
	dup := *c
	dup.Messages = make([]Message, len(c.Messages))
	copy(dup.Messages, c.Messages)
	return &dup
}
