// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates one chat turn at a time.
//
// A Controller validates the send, appends the user's message, issues the
// request in streaming or non-streaming mode, and materializes assistant
// messages as output arrives. While streaming, the reasoning and content
// channels are drained concurrently and every message update goes through a
// single serialized path before it is persisted and reported.
//
// # Key Types
//
//   - Controller: runs sends, owns cancellation, tracks State
//   - AppContext: the selected model source and current conversation
//   - Outcome: terminal state plus the materialized messages
//
// # Usage
//
//	ctrl := session.New(client, store, session.WithListener(render))
//	out, err := ctrl.Send(ctx, app, "Why is the sky blue?", cfg.Params())
//	if err != nil {
//	    fmt.Println(out.ErrorText)
//	}
//
// # States
//
// Idle, AwaitingResponse, Streaming, then one of Completed, Cancelled, or
// Failed. Cancellation is never reported as an error.
package session
