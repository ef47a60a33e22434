// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lmstudio

import (
	"encoding/json"
	"maps"
	"slices"
)

// Chat roles understood by the server.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage is one {role, content} pair of the conversation sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// Params holds the generation parameters for one request. Nil fields are
// left out of the request body so the server applies its own defaults.
type Params struct {
	Temperature      *float64           // 0..2
	TopP             *float64           // 0..1
	MaxTokens        *int               // sent as max_completion_tokens
	PresencePenalty  *float64           // -2..2
	FrequencyPenalty *float64           // -2..2
	RepeatPenalty    *float64           // 0..2
	Seed             *string            // passed through verbatim
	Stop             []string           // stop sequences
	LogitBias        map[string]float64 // token id -> bias
	Stream           bool
}

// Clone returns a deep copy, so a request keeps the settings it was sent with
// even if the source changes afterwards.
func (p Params) Clone() Params {
	out := p
	out.Temperature = clonePtr(p.Temperature)
	out.TopP = clonePtr(p.TopP)
	out.MaxTokens = clonePtr(p.MaxTokens)
	out.PresencePenalty = clonePtr(p.PresencePenalty)
	out.FrequencyPenalty = clonePtr(p.FrequencyPenalty)
	out.RepeatPenalty = clonePtr(p.RepeatPenalty)
	out.Seed = clonePtr(p.Seed)
	out.Stop = slices.Clone(p.Stop)
	out.LogitBias = maps.Clone(p.LogitBias)
	return out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Ptr returns a pointer to v. Handy for filling Params literals.
func Ptr[T any](v T) *T {
	return &v
}

// Request is a single chat completion request.
type Request struct {
	Model    string
	Messages []ChatMessage
	Params   Params
}

// chatRequestBody is the JSON body for /v1/chat/completions.
type chatRequestBody struct {
	Model               string             `json:"model"`
	Messages            []ChatMessage      `json:"messages"`
	Stream              bool               `json:"stream"`
	TopP                *float64           `json:"top_p,omitempty"`
	Temperature         *float64           `json:"temperature,omitempty"`
	MaxCompletionTokens *int               `json:"max_completion_tokens,omitempty"`
	Stop                []string           `json:"stop,omitempty"`
	PresencePenalty     *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64           `json:"frequency_penalty,omitempty"`
	LogitBias           map[string]float64 `json:"logit_bias,omitempty"`
	RepeatPenalty       *float64           `json:"repeat_penalty,omitempty"`
	Seed                *string            `json:"seed,omitempty"`
}

func newChatRequestBody(req Request, stream bool) chatRequestBody {
	messages := req.Messages
	if messages == nil {
		messages = []ChatMessage{}
	}
	p := req.Params
	return chatRequestBody{
		Model:               req.Model,
		Messages:            messages,
		Stream:              stream,
		TopP:                p.TopP,
		Temperature:         p.Temperature,
		MaxCompletionTokens: p.MaxTokens,
		Stop:                p.Stop,
		PresencePenalty:     p.PresencePenalty,
		FrequencyPenalty:    p.FrequencyPenalty,
		LogitBias:           p.LogitBias,
		RepeatPenalty:       p.RepeatPenalty,
		Seed:                p.Seed,
	}
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is the non-streaming response from /v1/chat/completions.
type ChatResponse struct {
	ID      string `json:"id,omitempty"`
	Model   string `json:"model,omitempty"`
	Choices []struct {
		Index        int              `json:"index"`
		Message      *ResponseMessage `json:"message"`
		FinishReason string           `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// ResponseMessage is the assistant message of a non-streaming choice.
type ResponseMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// FirstMessage returns the first choice's message, or nil when there is none.
func (r *ChatResponse) FirstMessage() *ResponseMessage {
	if len(r.Choices) == 0 {
		return nil
	}
	return r.Choices[0].Message
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is the JSON payload of one `data: ` frame.
type StreamChunk struct {
	ID                string         `json:"id"`
	Object            string         `json:"object"`
	Created           int64          `json:"created"`
	Model             string         `json:"model"`
	SystemFingerprint string         `json:"system_fingerprint"`
	Choices           []StreamChoice `json:"choices"`
}

// StreamChoice is one choice of a stream frame.
type StreamChoice struct {
	Index        int             `json:"index"`
	FinishReason *string         `json:"finish_reason"`
	Logprobs     json.RawMessage `json:"logprobs,omitempty"`
	Delta        struct {
		Role             string  `json:"role,omitempty"`
		Content          *string `json:"content"`
		ReasoningContent *string `json:"reasoning_content"`
	} `json:"delta"`
}

// DeltaChunk is the first choice's delta of one decoded frame. Absent
// fields are empty strings.
type DeltaChunk struct {
	Content          string
	ReasoningContent string
	FinishReason     string
}

// =============================================================================
// MODEL TYPES
// =============================================================================

// ModelInfo is one entry of /v1/models.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelsResponse is the response from /v1/models.
type ModelsResponse struct {
	Data   []ModelInfo `json:"data"`
	Object string      `json:"object"`
}

// apiError is the error body some servers send with a non-2xx status.
// "error" is either a string or an object with a message.
type apiError struct {
	Error json.RawMessage `json:"error"`
}

func (e apiError) message() string {
	if len(e.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Error, &obj); err == nil {
		return obj.Message
	}
	return ""
}
