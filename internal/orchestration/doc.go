// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestration reconstructs the state of one multi-agent
// orchestration run from its decoded event stream.
//
// # Key Types
//
//   - Event: closed set of typed stream events (one concrete type per
//     wire `type`, plus synthetic heartbeat/parse-error events)
//   - Accumulator: folds events into subtask outputs, the contributing
//     agent set and running telemetry totals, and builds the terminal
//     assistant message
//   - State: the ephemeral per-run view a UI can render while streaming
//
// The accumulator owns only ephemeral state; it never touches the
// conversation store. The caller commits the final message after the
// terminal event.
package orchestration
