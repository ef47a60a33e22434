// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GioPalusa/MeGPT/internal/lmstudio"
)

type captureChatter struct {
	req   lmstudio.Request
	reply string
	err   error
}

func (c *captureChatter) Chat(ctx context.Context, req lmstudio.Request) (string, error) {
	c.req = req
	return c.reply, c.err
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Sky Color", "Sky Color"},
		{`  "Sky Color"  `, "Sky Color"},
		{"\n\n'Baking Bread'\nextra line", "Baking Bread"},
		{"“Curly Quotes”", "Curly Quotes"},
		{"Café Visit", "Café Visit"},
		{`""`, ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenerateTitle(t *testing.T) {
	chat := &captureChatter{reply: `"Sky Color"`}

	title, err := GenerateTitle(context.Background(), chat, "qwen", "Why is the sky blue?")
	require.NoError(t, err)
	assert.Equal(t, "Sky Color", title)

	assert.Equal(t, "qwen", chat.req.Model)
	require.Len(t, chat.req.Messages, 2)
	assert.Equal(t, lmstudio.NewAssistantMessage(TitlePrompt), chat.req.Messages[0])
	assert.Equal(t, lmstudio.NewUserMessage("Why is the sky blue?"), chat.req.Messages[1])

	p := chat.req.Params
	assert.False(t, p.Stream)
	assert.Equal(t, 15, *p.MaxTokens)
	assert.Equal(t, 0.2, *p.Temperature)
	assert.Equal(t, 0.5, *p.TopP)
	assert.Equal(t, 0.5, *p.PresencePenalty)
	assert.Equal(t, 0.5, *p.FrequencyPenalty)
}

func TestGenerateTitle_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := GenerateTitle(ctx, &captureChatter{reply: "x"}, "", "text")
	assert.ErrorIs(t, err, lmstudio.ErrNoModelSelected)

	_, err = GenerateTitle(ctx, &captureChatter{reply: "x"}, "qwen", " ")
	assert.ErrorIs(t, err, lmstudio.ErrEmptyPrompt)

	_, err = GenerateTitle(ctx, &captureChatter{reply: "\n  \n"}, "qwen", "text")
	assert.ErrorIs(t, err, lmstudio.ErrNoContent)

	_, err = GenerateTitle(ctx, &captureChatter{err: lmstudio.NewServerError(503, "")}, "qwen", "text")
	assert.Equal(t, 503, lmstudio.StatusCode(err))
}
