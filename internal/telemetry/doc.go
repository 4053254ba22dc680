// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides token-usage and timing aggregation for
// orchestration runs.
//
// # Key Types
//
//   - TokenUsage / ProcessingTime: per-subtask samples as reported by the
//     gateway event stream
//   - Totals: running sums over one orchestration run (pure, order-independent)
//   - RunRecorder: SQLite-backed archive of completed runs for trend queries
//
// Aggregation is a pure fold: missing fields count as zero and the result
// does not depend on sample order.
package telemetry
