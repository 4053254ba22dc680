// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/morganforge/hivemind-tui/internal/storage"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a transcript as a Markdown document.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// Export converts a conversation to Markdown.
func (e *MarkdownExporter) Export(conv *storage.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if len(conv.Messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(conv.Name)))
		sb.WriteString(fmt.Sprintf("id: %s\n", conv.ID))
		sb.WriteString(fmt.Sprintf("created: %s\n", conv.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(conv.Messages)))
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("generator: hivemind\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", conv.Name))

	for i, msg := range conv.Messages {
		label := e.roleLabel(msg)
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n", label, formatTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", label))
		}

		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")

		if msg.IsError() {
			sb.WriteString(fmt.Sprintf("> Failed: %s\n\n", msg.ErrorMessage))
		}
		if e.options.IncludeMetadata && msg.Metadata != nil {
			e.writeMetadata(&sb, msg.Metadata)
		}

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// roleLabel names the speaker, using the agent name when one is set.
func (e *MarkdownExporter) roleLabel(msg storage.Message) string {
	switch msg.Role {
	case storage.RoleUser:
		return "User"
	case storage.RoleAssistant:
		if msg.AgentName != "" {
			return fmt.Sprintf("Assistant (%s)", msg.AgentName)
		}
		return "Assistant"
	default:
		return msg.Role
	}
}

// writeMetadata renders the orchestration details of one reply.
func (e *MarkdownExporter) writeMetadata(sb *strings.Builder, meta *storage.Metadata) {
	if len(meta.ContributingAgents) > 0 {
		sb.WriteString(fmt.Sprintf("*Agents: %s*\n\n", strings.Join(meta.ContributingAgents, ", ")))
	}
	for _, out := range meta.SubtaskOutputs {
		sb.WriteString(fmt.Sprintf("- **%s**", out.Subtask))
		if out.Output != "" {
			sb.WriteString(fmt.Sprintf(": %s", out.Output))
		}
		sb.WriteString("\n")
	}
	if len(meta.SubtaskOutputs) > 0 {
		sb.WriteString("\n")
	}
	if meta.TokenUsage != nil && meta.TokenUsage.TotalTokens > 0 {
		sb.WriteString(fmt.Sprintf("*Tokens: %d*\n\n", meta.TokenUsage.TotalTokens))
	}
	if meta.ProcessingTime != nil && meta.ProcessingTime.Duration > 0 {
		sb.WriteString(fmt.Sprintf("*Processing time: %.1fs*\n\n", meta.ProcessingTime.Duration))
	}
}

// escapeYAML keeps frontmatter values on one line.
func escapeYAML(s string) string {
	return fmt.Sprintf("%q", strings.ReplaceAll(s, "\n", " "))
}
