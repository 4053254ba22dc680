// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the interactive hivemind REPL.
//
// The REPL is a thin consumer of the chat engine: it reads lines with
// history support, routes slash commands, and prints streamed
// orchestration progress as plain styled lines. It holds no
// conversation state of its own beyond the currently selected
// conversation ID and the research-mode toggle.
package cli
