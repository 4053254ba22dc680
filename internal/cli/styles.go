// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// promptStyle renders the input prompt.
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // Cyan
			Bold(true)

	// welcomeStyle renders the session banner.
	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")). // Purple
			Bold(true)

	// infoStyle renders secondary information.
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	// commandStyle renders command feedback and highlights.
	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")) // Green

	// agentStyle renders agent names in progress lines.
	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Amber

	// errorStyle renders errors.
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// assistantStyle renders assistant replies.
	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")) // Off-white
)
