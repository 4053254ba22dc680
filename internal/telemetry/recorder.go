// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRecorderClosed is returned after Close has been called.
	ErrRecorderClosed = errors.New("telemetry recorder closed")
)

// =============================================================================
// RUN RECORD
// =============================================================================

// Run is the archived telemetry of one completed orchestration run.
type Run struct {
	ID             string
	ConversationID string
	CompletedAt    time.Time
	Tokens         TokenUsage
	Duration       float64 // seconds
	SubtaskCount   int
	AgentCount     int
}

// DailyUsage aggregates archived runs for a single day.
type DailyUsage struct {
	Date        time.Time
	RunCount    int
	TotalTokens int
	Duration    float64
}

// =============================================================================
// RUN RECORDER
// =============================================================================

// RunRecorder archives completed run telemetry in a SQLite database so
// usage trends survive process restarts.
type RunRecorder struct {
	db *sql.DB
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	conversation_id   TEXT NOT NULL,
	completed_at      INTEGER NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	duration_secs     REAL NOT NULL DEFAULT 0,
	subtask_count     INTEGER NOT NULL DEFAULT 0,
	agent_count       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON runs(completed_at);
CREATE INDEX IF NOT EXISTS idx_runs_conversation ON runs(conversation_id);
`

// NewRunRecorder opens (or creates) the run archive at path.
func NewRunRecorder(path string) (*RunRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry db: %w", err)
	}

	if _, err := db.Exec(runsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init telemetry schema: %w", err)
	}

	return &RunRecorder{db: db}, nil
}

// Close releases the underlying database handle.
func (r *RunRecorder) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Record archives one completed run. Recording the same run ID twice
// overwrites the earlier row, so a retried commit never double-counts.
func (r *RunRecorder) Record(ctx context.Context, run Run) error {
	if r.db == nil {
		return ErrRecorderClosed
	}
	if run.CompletedAt.IsZero() {
		run.CompletedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, conversation_id, completed_at, prompt_tokens, completion_tokens,
			 total_tokens, duration_secs, subtask_count, agent_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ConversationID, run.CompletedAt.Unix(),
		run.Tokens.PromptTokens, run.Tokens.CompletionTokens, run.Tokens.TotalTokens,
		run.Duration, run.SubtaskCount, run.AgentCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// History returns archived runs completed in [from, to], most recent first.
func (r *RunRecorder) History(ctx context.Context, from, to time.Time) ([]Run, error) {
	if r.db == nil {
		return nil, ErrRecorderClosed
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, completed_at, prompt_tokens, completion_tokens,
		       total_tokens, duration_secs, subtask_count, agent_count
		FROM runs
		WHERE completed_at BETWEEN ? AND ?
		ORDER BY completed_at DESC`,
		from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var completed int64
		if err := rows.Scan(&run.ID, &run.ConversationID, &completed,
			&run.Tokens.PromptTokens, &run.Tokens.CompletionTokens,
			&run.Tokens.TotalTokens, &run.Duration,
			&run.SubtaskCount, &run.AgentCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.CompletedAt = time.Unix(completed, 0)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Trends aggregates the last N days of archived runs by calendar day,
// oldest day first.
func (r *RunRecorder) Trends(ctx context.Context, days int) ([]DailyUsage, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -days)

	runs, err := r.History(ctx, from, to)
	if err != nil {
		return nil, err
	}

	dailyMap := make(map[time.Time]*DailyUsage)
	for _, run := range runs {
		t := run.CompletedAt
		// Bucket on the local calendar day.
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		daily, ok := dailyMap[day]
		if !ok {
			daily = &DailyUsage{Date: day}
			dailyMap[day] = daily
		}
		daily.RunCount++
		daily.TotalTokens += run.Tokens.TotalTokens
		daily.Duration += run.Duration
	}

	trends := make([]DailyUsage, 0, len(dailyMap))
	for _, daily := range dailyMap {
		trends = append(trends, *daily)
	}
	sort.Slice(trends, func(i, j int) bool {
		return trends[i].Date.Before(trends[j].Date)
	})
	return trends, nil
}
