// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for hivemind-tui.
//
// It contains the atomic file-write primitive used by every persistence
// layer and rune/width-aware string truncation used by the CLI.
package util
