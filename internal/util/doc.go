// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across megpt.
//
// # Key Functions
//
// String Utilities:
//   - TruncateWidth: column-aware truncation with ellipsis (go-runewidth)
//   - TruncateRunes: UTF-8 safe truncation by character count
//   - OneLine, Preview: single-line previews of message text
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	// Fit a conversation title into a 40 column listing
//	title := util.Preview(conv.Title, 40)
//
//	// Write the settings file atomically
//	err := util.AtomicWriteFile(path, data, 0600)
package util
