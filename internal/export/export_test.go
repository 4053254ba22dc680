// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/morganforge/hivemind-tui/internal/storage"
	"github.com/morganforge/hivemind-tui/internal/telemetry"
)

func testConversation() *storage.Conversation {
	return &storage.Conversation{
		ID:        "chat_1",
		Name:      "Price research",
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Messages: []storage.Message{
			{Role: storage.RoleUser, Content: "what is the price", Timestamp: time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC)},
			{
				Role:      storage.RoleAssistant,
				Content:   "The price is 42 USD",
				Timestamp: time.Date(2025, 3, 1, 10, 2, 0, 0, time.UTC),
				AgentName: "orchestrator",
				Metadata: &storage.Metadata{
					Collaboration:      "orchestrated",
					ContributingAgents: []string{"codex"},
					SubtaskOutputs: []storage.SubtaskOutput{
						{Subtask: "find price", Output: "42 USD", Agents: []string{"codex"}},
					},
					TokenUsage: &telemetry.TokenUsage{TotalTokens: 10},
				},
			},
		},
	}
}

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(nil).Export(testConversation())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	text := string(out)

	for _, want := range []string{
		"# Price research",
		"### User",
		"### Assistant (orchestrator)",
		"The price is 42 USD",
		"**find price**: 42 USD",
		"*Agents: codex*",
		"*Tokens: 10*",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestMarkdownExportRejectsEmpty(t *testing.T) {
	if _, err := NewMarkdownExporter(nil).Export(&storage.Conversation{ID: "x", Name: "empty"}); err == nil {
		t.Fatal("empty conversation must fail")
	}
	if _, err := NewMarkdownExporter(nil).Export(nil); err == nil {
		t.Fatal("nil conversation must fail")
	}
}

func TestMarkdownExportErrorMarker(t *testing.T) {
	conv := &storage.Conversation{
		ID: "chat_2", Name: "failed",
		Messages: []storage.Message{
			{Role: storage.RoleAssistant, Content: "The request could not be completed.",
				ErrorMessage: "gateway unavailable", Timestamp: time.Now()},
		},
	}
	out, err := NewMarkdownExporter(nil).Export(conv)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "> Failed: gateway unavailable") {
		t.Errorf("error marker not rendered:\n%s", out)
	}
}

func TestJSONExportRoundTrip(t *testing.T) {
	out, err := NewJSONExporter(nil).Export(testConversation())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var env jsonEnvelope
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if env.Generator != "hivemind" {
		t.Errorf("generator = %q", env.Generator)
	}
	if env.Data.ID != "chat_1" || len(env.Data.Messages) != 2 {
		t.Errorf("conversation = %+v", env.Data)
	}
}

func TestForFormat(t *testing.T) {
	if _, err := ForFormat("md", nil); err != nil {
		t.Errorf("md: %v", err)
	}
	if _, err := ForFormat("JSON", nil); err != nil {
		t.Errorf("JSON: %v", err)
	}
	if _, err := ForFormat("html", nil); err == nil {
		t.Error("unknown format must fail")
	}
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	path, err := ExportToFile(testConversation(), NewMarkdownExporter(nil), &Options{
		OutputDir:         dir,
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	})
	if err != nil {
		t.Fatalf("ExportToFile failed: %v", err)
	}
	if !strings.HasPrefix(path, dir) || !strings.HasSuffix(path, ".md") {
		t.Errorf("path = %q", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "Price research") {
		t.Error("file content missing title")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Price research":     "Price_research",
		"../../etc/passwd":   "etcpasswd",
		"":                   "conversation",
		"///":                "conversation",
		"name with  spaces!": "name_with__spaces",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
