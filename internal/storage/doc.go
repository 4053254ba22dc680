// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for hivemind-tui.
//
// All conversations live in a single JSON root object on disk, mirroring
// the gateway's keyed-conversation model. Every mutating operation
// read-modify-writes the whole root and commits it atomically.
//
// # Key Types
//
//   - Store: the conversation store (create, delete, clear, rename, append)
//   - Conversation / Message: the persisted transcript model
//   - SubtaskOutput: per-subtask result attached to orchestrated replies
//
// # Invariants
//
//   - The conversation with ID "default" always exists. Deleting it only
//     resets its messages to the seed message.
//   - A root file that fails to parse is reinitialized to a fresh
//     single-conversation state. This is silent data loss by design; the
//     store logs it and carries on.
//
// Subscribers receive change notifications after every committed mutation
// and (when the watcher is running) after external modifications of the
// root file.
package storage
