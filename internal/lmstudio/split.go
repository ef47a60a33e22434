// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lmstudio

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ReasoningMarker prefixes the first reasoning emission of a session so a
// reasoning message can be told apart from an answer by its text.
const ReasoningMarker = "[Reasoning]: "

// channelBuffer is the per-channel queue depth between producer and consumers.
const channelBuffer = 32

// DeltaSource yields decoded chunks until io.EOF.
type DeltaSource interface {
	Next() (DeltaChunk, error)
}

// =============================================================================
// CHANNELS
// =============================================================================

// Channels are the two output sequences of one streamed response. Reasoning
// and Content are drained independently and concurrently; both close when the
// upstream chunk sequence ends.
type Channels struct {
	Reasoning <-chan string
	Content   <-chan string

	done chan struct{}

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	reasoning strings.Builder
	content   strings.Builder
	finish    string
	err       error

	mu sync.Mutex
}

// Split starts demultiplexing src. For every chunk the reasoning fragment is
// handled before the content fragment. Empty fragments are not emitted.
//
// Both channels must be drained until closed or ctx cancelled; a consumer
// that stops early must cancel ctx so the producer can exit.
func Split(ctx context.Context, src DeltaSource) *Channels {
	reasoningCh := make(chan string, channelBuffer)
	contentCh := make(chan string, channelBuffer)

	c := &Channels{
		Reasoning: reasoningCh,
		Content:   contentCh,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(c.done)
		defer close(contentCh)
		defer close(reasoningCh)

		marked := false
		for {
			if ctx.Err() != nil {
				c.setErr(ErrCancelled)
				return
			}

			chunk, err := src.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.setErr(err)
				}
				return
			}

			if chunk.ReasoningContent != "" {
				out := chunk.ReasoningContent
				if !marked {
					out = ReasoningMarker + out
					marked = true
				}
				c.mu.Lock()
				c.reasoning.WriteString(chunk.ReasoningContent)
				c.mu.Unlock()
				if !emit(ctx, reasoningCh, out) {
					c.setErr(ErrCancelled)
					return
				}
			}

			if chunk.Content != "" {
				c.mu.Lock()
				c.content.WriteString(chunk.Content)
				c.mu.Unlock()
				if !emit(ctx, contentCh, chunk.Content) {
					c.setErr(ErrCancelled)
					return
				}
			}

			if chunk.FinishReason != "" {
				c.mu.Lock()
				c.finish = chunk.FinishReason
				c.mu.Unlock()
			}
		}
	}()

	return c
}

func emit(ctx context.Context, ch chan<- string, s string) bool {
	select {
	case ch <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Done is closed after both channels have been closed.
func (c *Channels) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the upstream sequence early, or nil when
// it ended at [DONE] or a clean close.
func (c *Channels) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ReasoningText returns the reasoning accumulated so far, without the marker.
func (c *Channels) ReasoningText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reasoning.String()
}

// ContentText returns the answer text accumulated so far.
func (c *Channels) ContentText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content.String()
}

// FinishReason returns the last finish_reason seen, if any.
func (c *Channels) FinishReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finish
}
