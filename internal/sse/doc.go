// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes server-sent-event text into logical frames.
//
// The gateway's stream endpoint delivers newline-delimited `data:` lines
// whose chunking bears no relation to line boundaries. The decoder keeps
// a single carry-over buffer so a payload split across any number of
// chunks at any byte offset decodes identically to the same payload
// delivered whole.
//
// Problem lines never abort the stream: `event:` lines become heartbeat
// frames and lines with malformed JSON become parse-error frames, both
// surfaced to the caller instead of dropped.
package sse
