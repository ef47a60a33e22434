// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages
// and the registry of models offered by the server.
//
// # Key Types
//
//   - Conversation: timestamp-ordered messages plus title and usage times
//   - Message: a single user or assistant message
//   - Registry: cached server model list and the selected model id
//
// # Usage
//
// Build the message list for a request:
//
//	conv := model.NewConversation()
//	conv.AppendOrUpdate(model.NewUserMessage("Hello!"))
//	req := lmstudio.Request{Model: reg.Selected(), Messages: conv.ChatMessages()}
//
// Keep the model list fresh:
//
//	reg := model.NewRegistry(client, store)
//	if err := reg.Refresh(ctx); err != nil {
//	    fmt.Println(lmstudio.Describe(err))
//	}
package model
