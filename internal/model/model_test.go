// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GioPalusa/MeGPT/internal/lmstudio"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage(t *testing.T) {
	a := NewUserMessage("Hello")
	b := NewAssistantMessage("Hi")

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("IDs = %q, %q, want distinct non-empty", a.ID, b.ID)
	}
	if a.Role() != "user" {
		t.Errorf("Role() = %q, want 'user'", a.Role())
	}
	if b.Role() != "assistant" {
		t.Errorf("Role() = %q, want 'assistant'", b.Role())
	}
	if a.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestMessage_IsReasoning(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want bool
	}{
		{"reasoning", NewAssistantMessage(lmstudio.ReasoningMarker + "Because X"), true},
		{"answer", NewAssistantMessage("Answer Y"), false},
		{"user typing the marker", NewUserMessage(lmstudio.ReasoningMarker + "hi"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsReasoning(); got != tt.want {
				t.Errorf("IsReasoning() = %v, want %v", got, tt.want)
			}
		})
	}

	msg := NewAssistantMessage(lmstudio.ReasoningMarker + "Because X")
	if got := msg.ReasoningText(); got != "Because X" {
		t.Errorf("ReasoningText() = %q, want 'Because X'", got)
	}
}

func TestMessage_Clone(t *testing.T) {
	msg := NewAssistantMessage("a")
	c := msg.Clone()
	msg.Text = "b"

	if c.Text != "a" || c.ID != msg.ID {
		t.Errorf("Clone = %+v", c)
	}
	if (*Message)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_AppendOrUpdate(t *testing.T) {
	conv := NewConversation()
	before := conv.LastUsed

	time.Sleep(time.Millisecond)
	user := NewUserMessage("Hello")
	assert.True(t, conv.AppendOrUpdate(user))
	assert.True(t, conv.LastUsed.After(before), "LastUsed should be bumped")

	reply := NewAssistantMessage("Hel")
	assert.True(t, conv.AppendOrUpdate(reply))

	reply.Text = "Hello there"
	assert.False(t, conv.AppendOrUpdate(reply))
	require.Equal(t, 2, conv.MessageCount())
	assert.Equal(t, "Hello there", conv.LastMessage().Text)
}

func TestConversation_KeepsTimestampOrder(t *testing.T) {
	conv := NewConversation()
	base := time.Now()

	third := &Message{ID: "3", Text: "c", Timestamp: base.Add(2 * time.Second)}
	first := &Message{ID: "1", Text: "a", Timestamp: base}
	second := &Message{ID: "2", Text: "b", Timestamp: base.Add(time.Second)}

	conv.AppendOrUpdate(third)
	conv.AppendOrUpdate(first)
	conv.AppendOrUpdate(second)

	var ids []string
	for _, m := range conv.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestConversation_ChatMessagesSkipsReasoning(t *testing.T) {
	conv := NewConversation()
	conv.AppendOrUpdate(NewUserMessage("Why?"))
	conv.AppendOrUpdate(NewAssistantMessage(lmstudio.ReasoningMarker + "Because X"))
	conv.AppendOrUpdate(NewAssistantMessage("Answer Y"))
	conv.AppendOrUpdate(NewAssistantMessage(""))

	got := conv.ChatMessages()
	want := []lmstudio.ChatMessage{
		{Role: "user", Content: "Why?"},
		{Role: "assistant", Content: "Answer Y"},
	}
	assert.Equal(t, want, got)
}

func TestConversation_Clone(t *testing.T) {
	conv := NewConversation()
	conv.Title = "Birds"
	conv.AppendOrUpdate(NewUserMessage("Why do birds sing?"))

	cp := conv.Clone()
	require.Len(t, cp.Messages, 1)
	assert.Equal(t, conv.ID, cp.ID)

	cp.Title = "Fish"
	cp.Messages[0].Text = "Why do fish swim?"
	cp.Messages = append(cp.Messages, NewAssistantMessage("extra"))

	assert.Equal(t, "Birds", conv.Title)
	assert.Equal(t, "Why do birds sing?", conv.Messages[0].Text)
	assert.Len(t, conv.Messages, 1)

	var nilConv *Conversation
	assert.Nil(t, nilConv.Clone())
}

func TestConversation_Title(t *testing.T) {
	conv := NewConversation()

	if conv.HasTitle() {
		t.Error("new conversation should not have a title")
	}
	if got := conv.DisplayTitle(); got != DefaultTitle {
		t.Errorf("DisplayTitle() = %q, want %q", got, DefaultTitle)
	}
	if got := conv.Preview(20); got != "Empty conversation" {
		t.Errorf("Preview() = %q", got)
	}

	conv.AppendOrUpdate(NewUserMessage("How do\nI bake bread?"))
	if got := conv.Preview(20); got != "How do I bake bread?" {
		t.Errorf("Preview() = %q", got)
	}

	conv.Title = "Bread Baking"
	if got := conv.DisplayTitle(); got != "Bread Baking" {
		t.Errorf("DisplayTitle() = %q", got)
	}
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

type fakeLister struct {
	models []lmstudio.ModelInfo
	err    error
	calls  int
}

func (f *fakeLister) ListModels(ctx context.Context) ([]lmstudio.ModelInfo, error) {
	f.calls++
	return f.models, f.err
}

type memPrefs struct {
	selected string
	sets     int
}

func (p *memPrefs) SelectedModel(ctx context.Context) (string, error) { return p.selected, nil }

func (p *memPrefs) SetSelectedModel(ctx context.Context, id string) error {
	p.selected = id
	p.sets++
	return nil
}

func models(ids ...string) []lmstudio.ModelInfo {
	out := make([]lmstudio.ModelInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, lmstudio.ModelInfo{ID: id, Object: "model"})
	}
	return out
}

func TestRegistry_RefreshKeepsSelection(t *testing.T) {
	ctx := context.Background()
	prefs := &memPrefs{selected: "gemma"}
	reg := NewRegistry(&fakeLister{models: models("qwen", "gemma")}, prefs)

	require.NoError(t, reg.Load(ctx))
	require.NoError(t, reg.Refresh(ctx))

	assert.Equal(t, "gemma", reg.Selected())
	assert.Len(t, reg.Models(), 2)
	assert.Equal(t, 0, prefs.sets, "unchanged selection should not be rewritten")
}

func TestRegistry_RefreshFallsBackToFirst(t *testing.T) {
	ctx := context.Background()
	prefs := &memPrefs{selected: "removed-model"}
	reg := NewRegistry(&fakeLister{models: models("qwen", "gemma")}, prefs)

	require.NoError(t, reg.Load(ctx))
	require.NoError(t, reg.Refresh(ctx))

	assert.Equal(t, "qwen", reg.Selected())
	assert.Equal(t, "qwen", prefs.selected)
}

func TestRegistry_RefreshEmptyList(t *testing.T) {
	reg := NewRegistry(&fakeLister{models: nil}, nil)
	require.NoError(t, reg.Select(context.Background(), "qwen"))

	require.NoError(t, reg.Refresh(context.Background()))
	assert.Equal(t, "", reg.Selected())
}

func TestRegistry_RefreshErrorLeavesListUnchanged(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{models: models("qwen")}
	reg := NewRegistry(lister, nil)
	require.NoError(t, reg.Refresh(ctx))

	lister.models = models("other")
	lister.err = lmstudio.NewServerError(500, "")
	err := reg.Refresh(ctx)

	require.Error(t, err)
	assert.Equal(t, 500, lmstudio.StatusCode(err))
	assert.Equal(t, models("qwen"), reg.Models())
	assert.Equal(t, "qwen", reg.Selected())
}

func TestRegistry_Select(t *testing.T) {
	ctx := context.Background()
	prefs := &memPrefs{}
	reg := NewRegistry(&fakeLister{models: models("qwen", "gemma")}, prefs)
	require.NoError(t, reg.Refresh(ctx))

	require.NoError(t, reg.Select(ctx, "gemma"))
	assert.Equal(t, "gemma", reg.Selected())
	assert.Equal(t, "gemma", prefs.selected)

	err := reg.Select(ctx, "missing")
	assert.True(t, errors.Is(err, ErrUnknownModel))
	assert.Equal(t, "gemma", reg.Selected())
}

func TestShortName(t *testing.T) {
	tests := map[string]string{
		"lmstudio-community/qwen3-8b": "qwen3-8b",
		"qwen3-8b":                    "qwen3-8b",
		"trailing/":                   "trailing/",
		"":                            "",
	}
	for in, want := range tests {
		if got := ShortName(in); got != want {
			t.Errorf("ShortName(%q) = %q, want %q", in, got, want)
		}
	}
}
