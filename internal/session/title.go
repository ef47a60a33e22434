// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/GioPalusa/MeGPT/internal/lmstudio"
)

// TitlePrompt is the instruction sent ahead of the first user message.
const TitlePrompt = "Provide a very short, descriptive title for this message. " +
	"Limit to max 6 words and focus only on the main topic or purpose.\n" +
	"Respond only with the title."

// Chatter performs a non-streaming chat request.
type Chatter interface {
	Chat(ctx context.Context, req lmstudio.Request) (string, error)
}

// TitleParams are the generation settings for title requests: a tiny token
// budget and a low temperature, independent of the user's settings.
func TitleParams() lmstudio.Params {
	return lmstudio.Params{
		TopP:             lmstudio.Ptr(0.5),
		Temperature:      lmstudio.Ptr(0.2),
		MaxTokens:        lmstudio.Ptr(15),
		PresencePenalty:  lmstudio.Ptr(0.5),
		FrequencyPenalty: lmstudio.Ptr(0.5),
		Stream:           false,
	}
}

// GenerateTitle asks the model for a short title for text.
func GenerateTitle(ctx context.Context, client Chatter, modelID, text string) (string, error) {
	if modelID == "" {
		return "", lmstudio.ErrNoModelSelected
	}
	if strings.TrimSpace(text) == "" {
		return "", lmstudio.ErrEmptyPrompt
	}

	reply, err := client.Chat(ctx, lmstudio.Request{
		Model: modelID,
		Messages: []lmstudio.ChatMessage{
			lmstudio.NewAssistantMessage(TitlePrompt),
			lmstudio.NewUserMessage(text),
		},
		Params: TitleParams(),
	})
	if err != nil {
		return "", err
	}

	title := CleanTitle(reply)
	if title == "" {
		return "", lmstudio.ErrNoContent
	}
	return title, nil
}

// CleanTitle keeps the first non-empty line of a model reply and trims
// whitespace and surrounding quotes, in NFC form.
func CleanTitle(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "\"'“”")
		line = strings.TrimSpace(line)
		if line != "" {
			return norm.NFC.String(line)
		}
	}
	return ""
}
