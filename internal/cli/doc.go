// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the megpt command line.
//
// The command tree is built with cobra. The chat command wires the session
// controller to a Printer, which follows message updates and writes only new
// text, so answers appear as they stream in. Interactive input uses liner for
// line editing and history.
//
// Output is styled with lipgloss and completed answers are rendered as
// markdown with glamour, but only when writing to a terminal. Piped output
// stays plain.
package cli
