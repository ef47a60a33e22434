// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GioPalusa/MeGPT/internal/lmstudio"
	"github.com/GioPalusa/MeGPT/internal/util"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single turn fragment of a conversation. Assistant messages are
// mutated in place while a response streams and are immutable afterwards.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID, stamped now.
func NewMessage(text string, isUser bool) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Text:      text,
		IsUser:    isUser,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(text string) *Message {
	return NewMessage(text, true)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(text string) *Message {
	return NewMessage(text, false)
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Role returns the chat role the message is sent upstream with.
func (m *Message) Role() string {
	if m.IsUser {
		return lmstudio.RoleUser
	}
	return lmstudio.RoleAssistant
}

// IsReasoning reports whether this is a model reasoning message. Those are
// recognized by the marker the stream splitter puts on their first fragment.
func (m *Message) IsReasoning() bool {
	return !m.IsUser && strings.HasPrefix(m.Text, lmstudio.ReasoningMarker)
}

// ReasoningText returns the reasoning without its marker.
func (m *Message) ReasoningText() string {
	return strings.TrimPrefix(m.Text, lmstudio.ReasoningMarker)
}

// IsEmpty returns true if the message has no text.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == ""
}

// Preview returns a single-line preview at most maxWidth columns wide.
func (m *Message) Preview(maxWidth int) string {
	return util.Preview(m.Text, maxWidth)
}

// Clone returns a copy that is safe to hand to another goroutine.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
