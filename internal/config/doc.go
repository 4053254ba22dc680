// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates hivemind configuration.
//
// Configuration is a single TOML file under the data directory, with
// built-in defaults and HIVEMIND_* environment variable overrides.
// Precedence, lowest to highest: defaults, config file, environment.
package config
