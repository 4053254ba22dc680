// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestration

import (
	"encoding/json"
	"fmt"

	"github.com/morganforge/hivemind-tui/internal/sse"
	"github.com/morganforge/hivemind-tui/internal/telemetry"
)

// =============================================================================
// EVENT VARIANTS
// =============================================================================

// Event is one decoded stream event. The set of implementations is
// closed: adding a wire type means adding a variant here and handling it
// in the accumulator's switch, a compile-time decision rather than a
// silent no-op.
type Event interface {
	// Kind returns the wire `type` (or a synthetic name for frames the
	// decoder manufactured).
	Kind() string
}

// SubtaskDispatch announces that a subtask was handed to one or more
// agents.
type SubtaskDispatch struct {
	Subtask   string
	Agents    []string
	Telemetry *telemetry.Sample
	Timestamp string
}

// SubtaskResult delivers (or updates) the output of a subtask.
type SubtaskResult struct {
	Subtask   string
	Output    string
	Agents    []string
	Telemetry *telemetry.Sample
	Timestamp string
}

// SynthesisComplete carries the synthesized final answer.
type SynthesisComplete struct {
	FinalAnswer string
	Timestamp   string
}

// StreamComplete is the terminal success event.
type StreamComplete struct {
	Timestamp string
}

// ErrorEvent is the terminal failure event.
type ErrorEvent struct {
	Message   string
	Timestamp string
}

// Heartbeat is synthesized from SSE `event:` lines. Informational only.
type Heartbeat struct {
	Name string
}

// ParseError is synthesized from lines that failed to parse. The stream
// continues past it.
type ParseError struct {
	Raw string
	Err error
}

// Unknown wraps an unrecognized wire type. It is forwarded to the
// caller untouched and mutates no state.
type Unknown struct {
	Type      string
	Data      json.RawMessage
	Timestamp string
}

func (SubtaskDispatch) Kind() string   { return "subtask_dispatch" }
func (SubtaskResult) Kind() string     { return "subtask_result" }
func (SynthesisComplete) Kind() string { return "synthesis_complete" }
func (StreamComplete) Kind() string    { return "stream_complete" }
func (ErrorEvent) Kind() string        { return "error" }
func (Heartbeat) Kind() string         { return "heartbeat" }
func (ParseError) Kind() string        { return "parse_error" }
func (e Unknown) Kind() string         { return e.Type }

// =============================================================================
// WIRE DECODING
// =============================================================================

// envelope is the outer shape of every data frame.
type envelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// payload is the union of per-type data fields.
type payload struct {
	Subtask     string            `json:"subtask"`
	Output      string            `json:"output"`
	Agents      []string          `json:"agents"`
	Telemetry   *telemetry.Sample `json:"telemetry"`
	FinalAnswer string            `json:"final_answer"`
	Message     string            `json:"message"`
}

// DecodeFrame turns one SSE frame into a typed event. It never fails:
// undecodable payloads become ParseError events so a single bad frame
// cannot abort the run.
func DecodeFrame(frame sse.Frame) Event {
	switch frame.Kind {
	case sse.FrameHeartbeat:
		return Heartbeat{Name: frame.Event}
	case sse.FrameParseError:
		return ParseError{Raw: frame.Raw, Err: frame.Err}
	}

	var env envelope
	if err := json.Unmarshal(frame.Data, &env); err != nil {
		return ParseError{Raw: string(frame.Data), Err: fmt.Errorf("bad event envelope: %w", err)}
	}

	var p payload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return ParseError{Raw: string(frame.Data), Err: fmt.Errorf("bad %q payload: %w", env.Type, err)}
		}
	}

	switch env.Type {
	case "subtask_dispatch":
		return SubtaskDispatch{Subtask: p.Subtask, Agents: p.Agents, Telemetry: p.Telemetry, Timestamp: env.Timestamp}
	case "subtask_result":
		return SubtaskResult{Subtask: p.Subtask, Output: p.Output, Agents: p.Agents, Telemetry: p.Telemetry, Timestamp: env.Timestamp}
	case "synthesis_complete":
		return SynthesisComplete{FinalAnswer: p.FinalAnswer, Timestamp: env.Timestamp}
	case "stream_complete":
		return StreamComplete{Timestamp: env.Timestamp}
	case "error":
		return ErrorEvent{Message: p.Message, Timestamp: env.Timestamp}
	default:
		return Unknown{Type: env.Type, Data: env.Data, Timestamp: env.Timestamp}
	}
}
