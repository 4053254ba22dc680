// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestration

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/morganforge/hivemind-tui/internal/sse"
	"github.com/morganforge/hivemind-tui/internal/telemetry"
)

func dataFrame(t *testing.T, body string) sse.Frame {
	t.Helper()
	if !json.Valid([]byte(body)) {
		t.Fatalf("test frame is not valid JSON: %s", body)
	}
	return sse.Frame{Kind: sse.FrameData, Data: json.RawMessage(body)}
}

// =============================================================================
// DECODING
// =============================================================================

func TestDecodeFrameVariants(t *testing.T) {
	ev := DecodeFrame(dataFrame(t, `{"type":"subtask_dispatch","timestamp":"t1","data":{"subtask":"find price","agents":["codex"]}}`))
	d, ok := ev.(SubtaskDispatch)
	if !ok {
		t.Fatalf("expected SubtaskDispatch, got %T", ev)
	}
	if d.Subtask != "find price" || len(d.Agents) != 1 || d.Agents[0] != "codex" {
		t.Errorf("bad dispatch decode: %+v", d)
	}

	ev = DecodeFrame(dataFrame(t, `{"type":"subtask_result","data":{"subtask":"find price","output":"42 USD","telemetry":{"token_usage":{"total_tokens":10}}}}`))
	r, ok := ev.(SubtaskResult)
	if !ok {
		t.Fatalf("expected SubtaskResult, got %T", ev)
	}
	if r.Output != "42 USD" || r.Telemetry == nil || r.Telemetry.TokenUsage.TotalTokens != 10 {
		t.Errorf("bad result decode: %+v", r)
	}

	ev = DecodeFrame(dataFrame(t, `{"type":"synthesis_complete","data":{"final_answer":"The price is 42 USD"}}`))
	if s, ok := ev.(SynthesisComplete); !ok || s.FinalAnswer != "The price is 42 USD" {
		t.Errorf("bad synthesis decode: %#v", ev)
	}

	ev = DecodeFrame(dataFrame(t, `{"type":"stream_complete"}`))
	if _, ok := ev.(StreamComplete); !ok {
		t.Errorf("expected StreamComplete, got %T", ev)
	}

	ev = DecodeFrame(dataFrame(t, `{"type":"error","data":{"message":"backend down"}}`))
	if e, ok := ev.(ErrorEvent); !ok || e.Message != "backend down" {
		t.Errorf("bad error decode: %#v", ev)
	}
}

func TestDecodeFrameUnknownType(t *testing.T) {
	ev := DecodeFrame(dataFrame(t, `{"type":"agent_gossip","data":{"x":1}}`))
	u, ok := ev.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", ev)
	}
	if u.Kind() != "agent_gossip" {
		t.Errorf("Kind() = %q", u.Kind())
	}
}

func TestDecodeFrameHeartbeatAndParseError(t *testing.T) {
	ev := DecodeFrame(sse.Frame{Kind: sse.FrameHeartbeat, Event: "ping"})
	if h, ok := ev.(Heartbeat); !ok || h.Name != "ping" {
		t.Errorf("bad heartbeat: %#v", ev)
	}

	ev = DecodeFrame(sse.Frame{Kind: sse.FrameParseError, Raw: "data: {oops"})
	if _, ok := ev.(ParseError); !ok {
		t.Errorf("expected ParseError, got %T", ev)
	}
}

func TestDecodeFrameBadEnvelope(t *testing.T) {
	// Valid JSON at the frame layer but not an object envelope.
	ev := DecodeFrame(sse.Frame{Kind: sse.FrameData, Data: json.RawMessage(`[1,2,3]`)})
	if _, ok := ev.(ParseError); !ok {
		t.Errorf("expected ParseError for non-object envelope, got %T", ev)
	}
}

// =============================================================================
// ACCUMULATION
// =============================================================================

func TestAccumulatorFullRun(t *testing.T) {
	acc := NewAccumulator(nil)

	acc.Apply(SubtaskDispatch{Subtask: "find price", Agents: []string{"codex"}})
	if got := acc.State().Status; got != StatusProcessing {
		t.Errorf("status after dispatch = %q", got)
	}

	acc.Apply(SubtaskResult{
		Subtask: "find price",
		Output:  "42 USD",
		Agents:  []string{"codex"},
		Telemetry: &telemetry.Sample{
			TokenUsage: &telemetry.TokenUsage{TotalTokens: 10},
		},
	})
	acc.Apply(SynthesisComplete{FinalAnswer: "The price is 42 USD"})
	if got := acc.State().Status; got != StatusSynthesizing {
		t.Errorf("status after synthesis = %q", got)
	}
	acc.Apply(StreamComplete{})

	if !acc.Done() {
		t.Fatal("run should be done")
	}
	if err := acc.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	msg := acc.FinalMessage()
	if msg.Content != "The price is 42 USD" {
		t.Errorf("final content = %q", msg.Content)
	}
	if msg.AgentName != Orchestrator {
		t.Errorf("agent name = %q", msg.AgentName)
	}
	if msg.Metadata == nil {
		t.Fatal("final message missing metadata")
	}
	if msg.Metadata.Collaboration != "orchestrated" {
		t.Errorf("collaboration = %q", msg.Metadata.Collaboration)
	}
	if !reflect.DeepEqual(msg.Metadata.ContributingAgents, []string{"codex"}) {
		t.Errorf("contributing agents = %v", msg.Metadata.ContributingAgents)
	}
	if len(msg.Metadata.SubtaskOutputs) != 1 {
		t.Fatalf("subtask outputs = %d", len(msg.Metadata.SubtaskOutputs))
	}
	entry := msg.Metadata.SubtaskOutputs[0]
	if entry.Subtask != "find price" || entry.Output != "42 USD" {
		t.Errorf("merged entry = %+v", entry)
	}
	if msg.Metadata.TokenUsage == nil || msg.Metadata.TokenUsage.TotalTokens != 10 {
		t.Errorf("token usage = %+v", msg.Metadata.TokenUsage)
	}
	if msg.Metadata.ProcessingTime != nil {
		t.Errorf("no duration observed, got %+v", msg.Metadata.ProcessingTime)
	}
}

func TestSubtaskMergeRules(t *testing.T) {
	acc := NewAccumulator(nil)

	acc.Apply(SubtaskDispatch{Subtask: "summarize", Agents: []string{"scribe"}})
	acc.Apply(SubtaskResult{Subtask: "summarize", Output: "draft", Agents: []string{"scribe", "critic"}})
	// Empty output must not clobber an earlier result.
	acc.Apply(SubtaskResult{Subtask: "summarize", Agents: []string{"scribe"}})
	acc.Apply(SubtaskResult{Subtask: "summarize", Output: "final summary"})
	acc.Apply(SubtaskDispatch{Subtask: "translate", Agents: []string{"linguist"}})

	entries := acc.SubtaskOutputs()
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	if entries[0].Output != "final summary" {
		t.Errorf("last non-empty output should win, got %q", entries[0].Output)
	}
	if !reflect.DeepEqual(entries[0].Agents, []string{"scribe", "critic"}) {
		t.Errorf("agent union = %v", entries[0].Agents)
	}
	if entries[1].Subtask != "translate" || entries[1].Output != "" {
		t.Errorf("second entry = %+v", entries[1])
	}

	st := acc.State()
	if st.SubtasksDone != 1 || st.SubtasksTotal != 2 {
		t.Errorf("progress = %d/%d", st.SubtasksDone, st.SubtasksTotal)
	}
}

func TestTelemetryFoldedOncePerSubtask(t *testing.T) {
	acc := NewAccumulator(nil)
	sample := &telemetry.Sample{
		TokenUsage:     &telemetry.TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
		ProcessingTime: &telemetry.ProcessingTime{Duration: 1.5},
	}

	acc.Apply(SubtaskDispatch{Subtask: "search", Agents: []string{"codex"}, Telemetry: sample})
	// The same subtask repeats its telemetry on the result; it must not
	// double the totals.
	acc.Apply(SubtaskResult{Subtask: "search", Output: "ok", Telemetry: sample})
	acc.Apply(SubtaskResult{Subtask: "search", Output: "ok again", Telemetry: sample})

	totals := acc.State().Totals
	if totals.Tokens.TotalTokens != 7 {
		t.Errorf("total tokens = %d, want 7", totals.Tokens.TotalTokens)
	}
	if totals.Duration != 1.5 {
		t.Errorf("duration = %v, want 1.5", totals.Duration)
	}

	// A distinct subtask folds independently.
	acc.Apply(SubtaskResult{Subtask: "verify", Output: "ok", Telemetry: &telemetry.Sample{
		TokenUsage: &telemetry.TokenUsage{TotalTokens: 2},
	}})
	if got := acc.State().Totals.Tokens.TotalTokens; got != 9 {
		t.Errorf("total tokens after second subtask = %d, want 9", got)
	}
}

func TestTerminalIdempotence(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Apply(SubtaskResult{Subtask: "a", Output: "one"})
	acc.Apply(StreamComplete{})

	// Nothing after the terminal event may change the run.
	acc.Apply(SubtaskResult{Subtask: "a", Output: "two", Telemetry: &telemetry.Sample{
		TokenUsage: &telemetry.TokenUsage{TotalTokens: 99},
	}})
	acc.Apply(ErrorEvent{Message: "late failure"})
	acc.Apply(StreamComplete{})

	if acc.State().Status != StatusComplete {
		t.Errorf("status = %q, want complete", acc.State().Status)
	}
	if err := acc.Err(); err != nil {
		t.Errorf("late error event must be ignored, got %v", err)
	}
	if got := acc.SubtaskOutputs()[0].Output; got != "one" {
		t.Errorf("output changed after terminal event: %q", got)
	}
	if acc.State().Totals.HasTokens() {
		t.Error("telemetry folded after terminal event")
	}
}

func TestErrorRun(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Apply(SubtaskDispatch{Subtask: "risky", Agents: []string{"codex"}})
	acc.Apply(ErrorEvent{Message: "upstream timeout"})

	if !acc.Done() {
		t.Fatal("error event is terminal")
	}
	if acc.State().Status != StatusError {
		t.Errorf("status = %q", acc.State().Status)
	}
	err := acc.Err()
	if err == nil {
		t.Fatal("expected stream error")
	}
	var se *StreamError
	if !errorsAs(err, &se) || se.Message != "upstream timeout" {
		t.Errorf("err = %v", err)
	}
}

// errorsAs avoids importing errors just for one assertion.
func errorsAs(err error, target **StreamError) bool {
	se, ok := err.(*StreamError)
	if ok {
		*target = se
	}
	return ok
}

func TestFinalMessageFallbackContent(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Apply(SubtaskResult{Subtask: "a", Output: "done"})
	acc.Apply(StreamComplete{})

	msg := acc.FinalMessage()
	if msg.Content != "Request completed." {
		t.Errorf("fallback content = %q", msg.Content)
	}
	if msg.Metadata.TokenUsage != nil {
		t.Errorf("zero telemetry must stay omitted, got %+v", msg.Metadata.TokenUsage)
	}
}

func TestCallbackFiresPerAppliedEvent(t *testing.T) {
	var kinds []string
	var last State
	acc := NewAccumulator(func(ev Event, st State) {
		kinds = append(kinds, ev.Kind())
		last = st
	})

	acc.Apply(Heartbeat{Name: "ping"})
	acc.Apply(SubtaskDispatch{Subtask: "a", Agents: []string{"codex"}})
	acc.Apply(StreamComplete{})
	// Post-terminal events are dropped without a callback.
	acc.Apply(Heartbeat{Name: "ping"})

	want := []string{"heartbeat", "subtask_dispatch", "stream_complete"}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("callback kinds = %v, want %v", kinds, want)
	}
	if last.Status != StatusComplete {
		t.Errorf("last snapshot status = %q", last.Status)
	}
}

func TestDecodeThenAccumulateFromWire(t *testing.T) {
	frames := []string{
		`{"type":"subtask_dispatch","timestamp":"t1","data":{"subtask":"find price","agents":["codex"]}}`,
		`{"type":"subtask_result","timestamp":"t2","data":{"subtask":"find price","output":"42 USD","agents":["codex"],"telemetry":{"token_usage":{"total_tokens":10}}}}`,
		`{"type":"synthesis_complete","timestamp":"t3","data":{"final_answer":"The price is 42 USD"}}`,
		`{"type":"stream_complete","timestamp":"t4"}`,
	}

	acc := NewAccumulator(nil)
	for _, body := range frames {
		acc.Apply(DecodeFrame(dataFrame(t, body)))
	}

	msg := acc.FinalMessage()
	if msg.Content != "The price is 42 USD" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Metadata.TokenUsage == nil || msg.Metadata.TokenUsage.TotalTokens != 10 {
		t.Errorf("token usage = %+v", msg.Metadata.TokenUsage)
	}
}
