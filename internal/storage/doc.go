// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for megpt.
//
// Conversations, their messages, and a few preferences (selected model,
// server base URL) live in a single SQLite database opened with the pure Go
// modernc.org/sqlite driver.
//
// # Key Types
//
//   - Store: the database handle; satisfies the session controller's store
//     and the model registry's preferences
//   - ConversationMeta: lightweight metadata for listing
//
// # Usage
//
//	store, err := storage.Open(path)
//	defer store.Close()
//
//	conv, err := store.CreateConversation(ctx)
//	msg, err := store.CreateMessage(ctx, conv, "Hello", true)
//
//	metas, err := store.ListConversations(ctx)
//	conv, err = store.LoadConversation(ctx, metas[0].ID)
//
// # Storage Location
//
// The database defaults to ~/.megpt/megpt.db.
package storage
