// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/GioPalusa/MeGPT/internal/lmstudio"
)

// DefaultTitle is shown for conversations that have not been titled yet.
const DefaultTitle = "New Conversation"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds messages ordered by timestamp plus metadata.
//
// A Conversation is not safe for concurrent mutation; the session controller
// is its single writer.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  time.Time  `json:"last_used"`
	Messages  []*Message `json:"messages"`
}

// NewConversation creates a new, untitled conversation.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		LastUsed:  now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AppendOrUpdate adds msg, keeping timestamp order, or replaces the message
// with the same ID. It reports whether msg was newly added. LastUsed is
// bumped either way.
func (c *Conversation) AppendOrUpdate(msg *Message) bool {
	c.LastUsed = time.Now()

	for i, existing := range c.Messages {
		if existing.ID == msg.ID {
			c.Messages[i] = msg
			return false
		}
	}

	// Fast path: streamed messages almost always arrive last.
	n := len(c.Messages)
	if n == 0 || !msg.Timestamp.Before(c.Messages[n-1].Timestamp) {
		c.Messages = append(c.Messages, msg)
		return true
	}

	idx := sort.Search(n, func(i int) bool {
		return c.Messages[i].Timestamp.After(msg.Timestamp)
	})
	c.Messages = append(c.Messages, nil)
	copy(c.Messages[idx+1:], c.Messages[idx:])
	c.Messages[idx] = msg
	return true
}

// MessageByID returns a message by its ID.
func (c *Conversation) MessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// FirstUserMessage returns the earliest user message, or nil.
func (c *Conversation) FirstUserMessage() *Message {
	for _, msg := range c.Messages {
		if msg.IsUser {
			return msg
		}
	}
	return nil
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// Clone returns a deep copy that can be read while the original keeps
// changing.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = make([]*Message, len(c.Messages))
	for i, msg := range c.Messages {
		cp.Messages[i] = msg.Clone()
	}
	return &cp
}

// =============================================================================
// UPSTREAM CONVERSION
// =============================================================================

// ChatMessages converts the conversation into the message list sent with a
// chat request. Reasoning messages are local annotations of earlier answers
// and are not sent back; neither are empty messages.
func (c *Conversation) ChatMessages() []lmstudio.ChatMessage {
	messages := make([]lmstudio.ChatMessage, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if msg.IsReasoning() || msg.Text == "" {
			continue
		}
		messages = append(messages, lmstudio.ChatMessage{Role: msg.Role(), Content: msg.Text})
	}
	return messages
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// HasTitle reports whether the conversation has been titled.
func (c *Conversation) HasTitle() bool {
	return c.Title != ""
}

// DisplayTitle returns the conversation title or a default.
func (c *Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return DefaultTitle
}

// Preview returns a short preview of the first user message.
func (c *Conversation) Preview(maxWidth int) string {
	if first := c.FirstUserMessage(); first != nil {
		return first.Preview(maxWidth)
	}
	return "Empty conversation"
}
