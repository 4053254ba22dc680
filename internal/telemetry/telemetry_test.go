// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// AGGREGATION TESTS
// =============================================================================

func TestTotals_Add(t *testing.T) {
	var totals Totals

	totals = totals.Add(Sample{
		TokenUsage:     &TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		ProcessingTime: &ProcessingTime{Duration: 1.5},
	})
	totals = totals.Add(Sample{
		TokenUsage: &TokenUsage{TotalTokens: 7},
	})
	totals = totals.Add(Sample{
		ProcessingTime: &ProcessingTime{Duration: 0.5},
	})

	if totals.Tokens.PromptTokens != 10 {
		t.Errorf("PromptTokens = %d, want 10", totals.Tokens.PromptTokens)
	}
	if totals.Tokens.CompletionTokens != 5 {
		t.Errorf("CompletionTokens = %d, want 5", totals.Tokens.CompletionTokens)
	}
	if totals.Tokens.TotalTokens != 22 {
		t.Errorf("TotalTokens = %d, want 22", totals.Tokens.TotalTokens)
	}
	if totals.Duration != 2.0 {
		t.Errorf("Duration = %v, want 2.0", totals.Duration)
	}
}

func TestTotals_MissingFieldsAreZero(t *testing.T) {
	totals := Sum(Sample{}, Sample{TokenUsage: &TokenUsage{}})

	if totals.HasTokens() {
		t.Error("empty samples should not report tokens")
	}
	if totals.HasDuration() {
		t.Error("empty samples should not report duration")
	}
}

// TestTotals_OrderIndependent verifies field-wise sums do not depend on
// the order samples arrive in.
func TestTotals_OrderIndependent(t *testing.T) {
	samples := []Sample{
		{TokenUsage: &TokenUsage{PromptTokens: 1, TotalTokens: 3}},
		{TokenUsage: &TokenUsage{CompletionTokens: 2, TotalTokens: 2}, ProcessingTime: &ProcessingTime{Duration: 0.25}},
		{ProcessingTime: &ProcessingTime{Duration: 4}},
		{TokenUsage: &TokenUsage{PromptTokens: 9, CompletionTokens: 9, TotalTokens: 18}},
	}

	want := Sum(samples...)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]Sample, len(samples))
		copy(shuffled, samples)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		if got := Sum(shuffled...); got != want {
			t.Fatalf("shuffled sum = %+v, want %+v", got, want)
		}
	}
}

// =============================================================================
// RUN RECORDER TESTS
// =============================================================================

func TestRunRecorder_RecordAndHistory(t *testing.T) {
	rec, err := NewRunRecorder(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewRunRecorder failed: %v", err)
	}
	defer rec.Close()

	ctx := context.Background()
	now := time.Now()

	run := Run{
		ID:             "run-1",
		ConversationID: "chat_1",
		CompletedAt:    now,
		Tokens:         TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		Duration:       3.25,
		SubtaskCount:   2,
		AgentCount:     3,
	}
	if err := rec.Record(ctx, run); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	runs, err := rec.History(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("History returned %d runs, want 1", len(runs))
	}
	if runs[0].Tokens.TotalTokens != 150 {
		t.Errorf("TotalTokens = %d, want 150", runs[0].Tokens.TotalTokens)
	}
	if runs[0].SubtaskCount != 2 || runs[0].AgentCount != 3 {
		t.Errorf("counts = (%d, %d), want (2, 3)", runs[0].SubtaskCount, runs[0].AgentCount)
	}
}

func TestRunRecorder_RecordSameRunTwice(t *testing.T) {
	rec, err := NewRunRecorder(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewRunRecorder failed: %v", err)
	}
	defer rec.Close()

	ctx := context.Background()
	run := Run{ID: "run-1", ConversationID: "chat_1", Tokens: TokenUsage{TotalTokens: 10}}

	if err := rec.Record(ctx, run); err != nil {
		t.Fatalf("first Record failed: %v", err)
	}
	run.Tokens.TotalTokens = 12
	if err := rec.Record(ctx, run); err != nil {
		t.Fatalf("second Record failed: %v", err)
	}

	runs, err := rec.History(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected replace semantics, got %d rows", len(runs))
	}
	if runs[0].Tokens.TotalTokens != 12 {
		t.Errorf("TotalTokens = %d, want 12 (last write wins)", runs[0].Tokens.TotalTokens)
	}
}

func TestRunRecorder_TrendsBucketsByLocalDay(t *testing.T) {
	rec, err := NewRunRecorder(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewRunRecorder failed: %v", err)
	}
	defer rec.Close()

	ctx := context.Background()
	now := time.Now()
	yesterday := now.AddDate(0, 0, -1)

	runs := []Run{
		{ID: "run-1", ConversationID: "chat_1", CompletedAt: yesterday, Tokens: TokenUsage{TotalTokens: 10}, Duration: 1},
		{ID: "run-2", ConversationID: "chat_1", CompletedAt: now, Tokens: TokenUsage{TotalTokens: 20}, Duration: 2},
		{ID: "run-3", ConversationID: "chat_2", CompletedAt: now, Tokens: TokenUsage{TotalTokens: 5}, Duration: 0.5},
	}
	for _, run := range runs {
		if err := rec.Record(ctx, run); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	trends, err := rec.Trends(ctx, 7)
	if err != nil {
		t.Fatalf("Trends failed: %v", err)
	}
	if len(trends) != 2 {
		t.Fatalf("Trends returned %d days, want 2", len(trends))
	}
	if !trends[0].Date.Before(trends[1].Date) {
		t.Errorf("days out of order: %v then %v", trends[0].Date, trends[1].Date)
	}
	today := trends[1]
	if today.RunCount != 2 || today.TotalTokens != 25 || today.Duration != 2.5 {
		t.Errorf("today's rollup = %+v", today)
	}

	// The reported Date is the midnight of the local day the runs
	// completed on, matching the bucket they were summed into.
	wantDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !today.Date.Equal(wantDay) {
		t.Errorf("Date = %v, want %v", today.Date, wantDay)
	}
}

func TestRunRecorder_Closed(t *testing.T) {
	rec, err := NewRunRecorder(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewRunRecorder failed: %v", err)
	}
	rec.Close()

	if err := rec.Record(context.Background(), Run{ID: "x"}); err != ErrRecorderClosed {
		t.Errorf("Record after Close = %v, want ErrRecorderClosed", err)
	}
}
