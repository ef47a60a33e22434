// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/charmbracelet/lipgloss"
)

func init() {
	lipgloss.SetColorProfile(colorProfile())
}

// =============================================================================
// PALETTE
// =============================================================================

var (
	purple    = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	cyan      = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	emerald   = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	rose      = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	amber     = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	textMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
)

// =============================================================================
// SHARED STYLES FOR ALL CLI COMMANDS
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cyan)

	// PromptStyle is the REPL input prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(purple).
			Bold(true)

	// ReasoningStyle renders the model's thinking, kept visually secondary
	// to the answer.
	ReasoningStyle = lipgloss.NewStyle().
			Foreground(textMuted).
			Italic(true)

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(textMuted).
			Width(14)

	// SelectedStyle marks the selected entry in a list.
	SelectedStyle = lipgloss.NewStyle().
			Foreground(emerald).
			Bold(true)

	// SuccessStyle is used for success messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(emerald)

	// ErrorStyle is used for error messages and failures
	ErrorStyle = lipgloss.NewStyle().
			Foreground(rose).
			Bold(true)

	// WarningStyle is used for warnings and cancellation notices
	WarningStyle = lipgloss.NewStyle().
			Foreground(amber)

	// DimStyle is used for less important information
	DimStyle = lipgloss.NewStyle().
			Foreground(textMuted)
)
