// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

// =============================================================================
// SAMPLE TYPES
// =============================================================================

// TokenUsage counts tokens for one subtask or one whole run.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// IsZero reports whether no token counts have been recorded.
func (u TokenUsage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// ProcessingTime carries the wall-clock duration of one subtask, in seconds.
type ProcessingTime struct {
	Duration float64 `json:"duration,omitempty"`
}

// Sample is one telemetry report attached to a subtask event. Either field
// may be absent on the wire.
type Sample struct {
	TokenUsage     *TokenUsage     `json:"token_usage,omitempty"`
	ProcessingTime *ProcessingTime `json:"processing_time,omitempty"`
}

// =============================================================================
// RUNNING TOTALS
// =============================================================================

// Totals holds running sums across all subtask telemetry seen in one
// orchestration run. The zero value is ready to use.
type Totals struct {
	Tokens   TokenUsage
	Duration float64 // seconds
}

// Add folds one sample into the totals and returns the new totals.
// Missing fields count as zero; addition is field-wise, so the fold is
// associative and order-independent.
func (t Totals) Add(s Sample) Totals {
	if s.TokenUsage != nil {
		t.Tokens.PromptTokens += s.TokenUsage.PromptTokens
		t.Tokens.CompletionTokens += s.TokenUsage.CompletionTokens
		t.Tokens.TotalTokens += s.TokenUsage.TotalTokens
	}
	if s.ProcessingTime != nil {
		t.Duration += s.ProcessingTime.Duration
	}
	return t
}

// HasTokens reports whether any token usage was observed.
func (t Totals) HasTokens() bool {
	return !t.Tokens.IsZero()
}

// HasDuration reports whether any processing time was observed.
func (t Totals) HasDuration() bool {
	return t.Duration > 0
}

// Sum folds a set of samples into totals. Equivalent to chaining Add in
// any order.
func Sum(samples ...Sample) Totals {
	var t Totals
	for _, s := range samples {
		t = t.Add(s)
	}
	return t
}
