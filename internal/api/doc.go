// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the hivemind gateway.
//
// It covers the four endpoints the client consumes: synchronous chat,
// streaming (research) chat, title generation and RAG file upload. The
// synchronous path retries transient failures with exponential backoff;
// the streaming path is context-controlled and never retried, since a
// half-consumed stream cannot be safely replayed.
//
// All requests share pooled HTTP transports with TLS 1.2 minimum. An
// optional client-side rate limiter throttles request starts.
package api
