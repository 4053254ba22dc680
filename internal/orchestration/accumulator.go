// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestration

import (
	"fmt"

	"github.com/morganforge/hivemind-tui/internal/storage"
	"github.com/morganforge/hivemind-tui/internal/telemetry"
)

// =============================================================================
// RUN STATE
// =============================================================================

// Status is the lifecycle phase of one orchestration run.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusProcessing   Status = "processing"
	StatusSynthesizing Status = "synthesizing"
	StatusComplete     Status = "complete"
	StatusError        Status = "error"
)

// Orchestrator is the agent name stamped on synthesized final messages.
const Orchestrator = "orchestrator"

// State is a snapshot of run progress, safe to hand to a renderer. The
// accumulator copies it out on every applied event.
type State struct {
	Status Status

	// Most recently dispatched subtask, for progress display.
	Subtask string
	Agents  []string

	// Progress counters over distinct subtasks seen so far.
	SubtasksDone  int
	SubtasksTotal int

	Totals telemetry.Totals
}

// StreamError is the terminal failure of a run, carried from an error
// event on the wire.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return "orchestration stream failed"
	}
	return fmt.Sprintf("orchestration stream failed: %s", e.Message)
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Accumulator folds stream events into the state of one orchestration
// run. It is not safe for concurrent use; each run gets its own.
type Accumulator struct {
	state State

	// Subtask entries in first-seen order, indexed by subtask text.
	entries []storage.SubtaskOutput
	byKey   map[string]int

	// Contributing agents in first-seen order.
	agents   []string
	agentSet map[string]struct{}

	finalAnswer string
	err         *StreamError
	onEvent     func(Event, State)
}

// NewAccumulator creates an accumulator for a fresh run. onEvent, if
// non-nil, is invoked after every applied event with the updated state
// snapshot; it is not invoked for events ignored after a terminal one.
func NewAccumulator(onEvent func(Event, State)) *Accumulator {
	return &Accumulator{
		state:    State{Status: StatusIdle},
		byKey:    make(map[string]int),
		agentSet: make(map[string]struct{}),
		onEvent:  onEvent,
	}
}

// Apply folds one event into the run. Events arriving after a terminal
// stream_complete or error are ignored, so replays and stray trailing
// frames cannot alter a finished run.
func (a *Accumulator) Apply(ev Event) {
	if a.Done() {
		return
	}

	switch e := ev.(type) {
	case SubtaskDispatch:
		a.state.Status = StatusProcessing
		a.state.Subtask = e.Subtask
		a.state.Agents = append([]string(nil), e.Agents...)
		a.upsert(e.Subtask, "", e.Agents, e.Telemetry)

	case SubtaskResult:
		a.state.Status = StatusProcessing
		a.upsert(e.Subtask, e.Output, e.Agents, e.Telemetry)

	case SynthesisComplete:
		a.state.Status = StatusSynthesizing
		a.finalAnswer = e.FinalAnswer

	case StreamComplete:
		a.state.Status = StatusComplete

	case ErrorEvent:
		a.state.Status = StatusError
		a.err = &StreamError{Message: e.Message}

	case Heartbeat, ParseError, Unknown:
		// Forwarded to the callback; no run state changes.
	}

	a.refreshProgress()
	if a.onEvent != nil {
		a.onEvent(ev, a.State())
	}
}

// upsert merges one dispatch or result into the entry keyed by subtask
// text. Agents are unioned, the last non-empty output wins, and a
// subtask's telemetry is folded into the run totals exactly once, no
// matter how many events repeat it.
func (a *Accumulator) upsert(subtask, output string, agents []string, sample *telemetry.Sample) {
	if subtask == "" {
		return
	}

	idx, ok := a.byKey[subtask]
	if !ok {
		idx = len(a.entries)
		a.byKey[subtask] = idx
		a.entries = append(a.entries, storage.SubtaskOutput{Subtask: subtask})
	}
	entry := &a.entries[idx]

	if output != "" {
		entry.Output = output
	}
	for _, agent := range agents {
		entry.Agents = unionAppend(entry.Agents, agent)
		if _, seen := a.agentSet[agent]; !seen {
			a.agentSet[agent] = struct{}{}
			a.agents = append(a.agents, agent)
		}
	}
	if sample != nil && entry.Telemetry == nil {
		entry.Telemetry = sample
		a.state.Totals = a.state.Totals.Add(*sample)
	}
}

func unionAppend(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}

func (a *Accumulator) refreshProgress() {
	done := 0
	for _, e := range a.entries {
		if e.Output != "" {
			done++
		}
	}
	a.state.SubtasksDone = done
	a.state.SubtasksTotal = len(a.entries)
}

// =============================================================================
// RESULTS
// =============================================================================

// Done reports whether the run reached a terminal event.
func (a *Accumulator) Done() bool {
	return a.state.Status == StatusComplete || a.state.Status == StatusError
}

// Err returns the terminal stream error, or nil on a clean run.
func (a *Accumulator) Err() error {
	if a.err == nil {
		return nil
	}
	return a.err
}

// State returns a snapshot safe to retain; slices are copied.
func (a *Accumulator) State() State {
	s := a.state
	s.Agents = append([]string(nil), a.state.Agents...)
	return s
}

// FinalAnswer returns the synthesized answer, if one arrived.
func (a *Accumulator) FinalAnswer() string {
	return a.finalAnswer
}

// SubtaskOutputs returns the merged entries in first-seen order.
func (a *Accumulator) SubtaskOutputs() []storage.SubtaskOutput {
	out := make([]storage.SubtaskOutput, len(a.entries))
	copy(out, a.entries)
	return out
}

// FinalMessage builds the assistant message for a completed run. Token
// and duration totals are attached only when something was observed, so
// zero-valued telemetry never clutters stored transcripts.
func (a *Accumulator) FinalMessage() storage.Message {
	content := a.finalAnswer
	if content == "" {
		content = "Request completed."
	}

	msg := storage.NewAssistantMessage(content)
	msg.AgentName = Orchestrator

	meta := &storage.Metadata{
		Collaboration:      "orchestrated",
		ContributingAgents: append([]string(nil), a.agents...),
		SubtaskOutputs:     a.SubtaskOutputs(),
	}
	if a.state.Totals.HasTokens() {
		usage := a.state.Totals.Tokens
		meta.TokenUsage = &usage
	}
	if a.state.Totals.HasDuration() {
		meta.ProcessingTime = &telemetry.ProcessingTime{Duration: a.state.Totals.Duration}
	}
	msg.Metadata = meta
	return msg
}
