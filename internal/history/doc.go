// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history provides append/read helpers over the conversation
// store and enforces message shape on the way in.
//
// Appends are validated (role and content required); reads auto-create
// missing conversations; Sanitize removes malformed or legacy entries
// that upstream bugs may have written.
package history
