// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lmstudio provides the HTTP client for a local inference server that
// speaks the OpenAI-compatible chat completions API (LM Studio, llama.cpp
// server, and friends).
//
// The package covers the whole wire path of a chat turn: building request
// bodies, the non-streaming request/response call, the streaming call that
// exposes the raw server-sent-event body line by line, the frame parser that
// turns those lines into delta chunks, and the splitter that demultiplexes the
// chunks into a reasoning channel and a content channel.
//
// # Key Types
//
//   - Client: HTTP client for the /v1/models and /v1/chat/completions endpoints
//   - Request / Params: one chat request and its optional generation parameters
//   - LineStream: lazy, single-pass, cancellable source of response lines
//   - DeltaReader: SSE frame parser yielding DeltaChunk values
//   - Channels: reasoning and content output sequences produced by Split
//   - ClientError: classified transport error (connection, TLS, server, ...)
//
// # Usage
//
//	client := lmstudio.NewClient()
//	lines, err := client.OpenStream(ctx, lmstudio.Request{
//	    Model:    "qwen2.5-7b-instruct",
//	    Messages: []lmstudio.ChatMessage{lmstudio.NewUserMessage("Hello")},
//	    Params:   lmstudio.Params{Stream: true},
//	})
//	if err != nil {
//	    return err
//	}
//	defer lines.Close()
//
//	out := lmstudio.Split(ctx, lmstudio.NewDeltaReader(lines))
//	for fragment := range out.Content {
//	    fmt.Print(fragment)
//	}
//
// Errors returned by this package are always *ClientError values; use
// Describe to turn one into the text shown to a user.
package lmstudio
