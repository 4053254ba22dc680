// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the session engine tying the store, history, gateway
// and orchestration together.
//
// Sends are serialized per conversation with a keyed mutex; independent
// conversations send concurrently. The user turn is appended
// optimistically before the request goes out and is never rolled back;
// a failed send instead appends an assistant message carrying an error
// marker, so the transcript records the failure.
package chat
