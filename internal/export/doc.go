// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes saved conversations to files.
//
// # Key Types
//
//   - Exporter: converts a conversation to bytes in one format
//   - Options: what to include and where files go
//
// # Supported Formats
//
//   - Markdown: readable transcript with YAML frontmatter
//   - JSON: the conversation as stored, for scripting
//
// # Usage
//
//	exp, err := export.ForFormat("md", nil)
//	path, err := export.ToFile(conv, exp, opts)
package export
