// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lmstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("Hello")

	if msg.Role != "user" {
		t.Errorf("Role = %q, want 'user'", msg.Role)
	}
	if msg.Content != "Hello" {
		t.Errorf("Content = %q, want 'Hello'", msg.Content)
	}
}

func TestNewAssistantMessage(t *testing.T) {
	msg := NewAssistantMessage("Response")

	if msg.Role != "assistant" {
		t.Errorf("Role = %q, want 'assistant'", msg.Role)
	}
	if msg.Content != "Response" {
		t.Errorf("Content = %q, want 'Response'", msg.Content)
	}
}

// =============================================================================
// REQUEST BODY TESTS
// =============================================================================

func TestRequestBody_OmitsUnsetParams(t *testing.T) {
	req := Request{Model: "qwen", Messages: []ChatMessage{NewUserMessage("hi")}}

	data, err := json.Marshal(newChatRequestBody(req, true))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))

	assert.Equal(t, "qwen", body["model"])
	assert.Equal(t, true, body["stream"])
	for _, key := range []string{"top_p", "temperature", "max_completion_tokens", "stop",
		"presence_penalty", "frequency_penalty", "logit_bias", "repeat_penalty", "seed"} {
		assert.NotContains(t, body, key)
	}
}

func TestRequestBody_IncludesSetParams(t *testing.T) {
	req := Request{
		Model:    "qwen",
		Messages: []ChatMessage{NewUserMessage("hi")},
		Params: Params{
			Temperature:      Ptr(0.7),
			TopP:             Ptr(0.9),
			MaxTokens:        Ptr(256),
			PresencePenalty:  Ptr(0.5),
			FrequencyPenalty: Ptr(-0.5),
			RepeatPenalty:    Ptr(1.1),
			Seed:             Ptr("42"),
			Stop:             []string{"\n\n"},
			LogitBias:        map[string]float64{"50256": -100},
		},
	}

	data, err := json.Marshal(newChatRequestBody(req, false))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))

	assert.Equal(t, false, body["stream"])
	assert.Equal(t, 0.7, body["temperature"])
	assert.Equal(t, 0.9, body["top_p"])
	assert.Equal(t, float64(256), body["max_completion_tokens"])
	assert.Equal(t, "42", body["seed"])
	assert.Equal(t, []any{"\n\n"}, body["stop"])
	assert.Equal(t, map[string]any{"50256": float64(-100)}, body["logit_bias"])
	assert.NotContains(t, body, "max_tokens")
}

func TestParamsClone(t *testing.T) {
	p := Params{Temperature: Ptr(1.0), Stop: []string{"a"}, LogitBias: map[string]float64{"1": 1}}
	c := p.Clone()

	*p.Temperature = 2
	p.Stop[0] = "b"
	p.LogitBias["1"] = 5

	if *c.Temperature != 1.0 {
		t.Errorf("Temperature = %v, want 1.0", *c.Temperature)
	}
	if c.Stop[0] != "a" {
		t.Errorf("Stop[0] = %q, want 'a'", c.Stop[0])
	}
	if c.LogitBias["1"] != 1 {
		t.Errorf("LogitBias[1] = %v, want 1", c.LogitBias["1"])
	}
}

// =============================================================================
// FRAME PARSER TESTS
// =============================================================================

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
		want DeltaChunk
	}{
		{"content", `data: {"choices":[{"delta":{"content":"Hel"}}]}`, true, DeltaChunk{Content: "Hel"}},
		{"reasoning", `data: {"choices":[{"delta":{"reasoning_content":"hmm"}}]}`, true, DeltaChunk{ReasoningContent: "hmm"}},
		{"finish", `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`, true, DeltaChunk{FinishReason: "stop"}},
		{"both", `data: {"choices":[{"delta":{"content":"a","reasoning_content":"b"}}]}`, true, DeltaChunk{Content: "a", ReasoningContent: "b"}},
		{"done", "data: [DONE]", false, DeltaChunk{}},
		{"blank", "", false, DeltaChunk{}},
		{"comment", ": keep-alive", false, DeltaChunk{}},
		{"no space after colon", `data:{"choices":[{"delta":{"content":"x"}}]}`, false, DeltaChunk{}},
		{"malformed", `data: {"choices":[{"delta":`, false, DeltaChunk{}},
		{"empty choices", `data: {"choices":[]}`, false, DeltaChunk{}},
		{"event line", "event: message", false, DeltaChunk{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseFrame(tt.line)
			if ok != tt.ok {
				t.Fatalf("ParseFrame(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("ParseFrame(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestDeltaReader_StopsAtDone(t *testing.T) {
	input := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		"",
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		"data: [DONE]",
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
	}, "\n")

	r := NewDeltaReader(NewLineStream(strings.NewReader(input)))

	var got []string
	for {
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk.Content)
	}

	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, 2, r.Count())

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDeltaReader_MalformedOnly(t *testing.T) {
	input := "data: {not json\ndata: {\"choices\":\ndata: 42\n"
	r := NewDeltaReader(NewLineStream(strings.NewReader(input)))

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, r.Count())
}

func TestDeltaReader_EndsWithoutDone(t *testing.T) {
	input := `data: {"choices":[{"delta":{"content":"x"}}]}`
	r := NewDeltaReader(NewLineStream(strings.NewReader(input)))

	chunk, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", chunk.Content)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestLineStream_ReadErrorIsClassified(t *testing.T) {
	ls := NewLineStream(io.MultiReader(
		strings.NewReader("data: [DONE]\n"),
		failingReader{err: io.ErrUnexpectedEOF},
	))

	line, err := ls.Next()
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]", line)

	_, err = ls.Next()
	require.Error(t, err)
	assert.True(t, IsConnection(err), "err = %v, want connection error", err)
	assert.Equal(t, err, ls.Err())
}

// =============================================================================
// SPLIT TESTS
// =============================================================================

type sliceSource struct {
	chunks []DeltaChunk
	err    error
}

func (s *sliceSource) Next() (DeltaChunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return DeltaChunk{}, s.err
		}
		return DeltaChunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func drain(ch <-chan string) []string {
	var out []string
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func TestSplit_MarksFirstReasoningOnly(t *testing.T) {
	src := &sliceSource{chunks: []DeltaChunk{
		{ReasoningContent: "Because "},
		{ReasoningContent: "X"},
		{Content: "Answer "},
		{ReasoningContent: "", Content: "Y"},
	}}

	ch := Split(context.Background(), src)

	reasoningDone := make(chan []string)
	go func() { reasoningDone <- drain(ch.Reasoning) }()
	content := drain(ch.Content)
	reasoning := <-reasoningDone
	<-ch.Done()

	assert.Equal(t, []string{ReasoningMarker + "Because ", "X"}, reasoning)
	assert.Equal(t, []string{"Answer ", "Y"}, content)
	assert.Equal(t, "Because X", ch.ReasoningText())
	assert.Equal(t, "Answer Y", ch.ContentText())
	assert.NoError(t, ch.Err())
}

func TestSplit_BothFieldsInOneChunk(t *testing.T) {
	src := &sliceSource{chunks: []DeltaChunk{{ReasoningContent: "r", Content: "c", FinishReason: "stop"}}}
	ch := Split(context.Background(), src)

	go drain(ch.Reasoning)
	content := drain(ch.Content)
	<-ch.Done()

	assert.Equal(t, []string{"c"}, content)
	assert.Equal(t, "r", ch.ReasoningText())
	assert.Equal(t, "stop", ch.FinishReason())
}

func TestSplit_ConcatenationMatchesBuffers(t *testing.T) {
	var chunks []DeltaChunk
	var wantContent, wantReasoning strings.Builder
	for i := 0; i < 200; i++ {
		c := DeltaChunk{Content: fmt.Sprintf("c%d ", i)}
		if i%3 == 0 {
			c.ReasoningContent = fmt.Sprintf("r%d ", i)
			wantReasoning.WriteString(c.ReasoningContent)
		}
		if i%7 == 0 {
			c.Content = ""
		}
		wantContent.WriteString(c.Content)
		chunks = append(chunks, c)
	}

	ch := Split(context.Background(), &sliceSource{chunks: chunks})
	reasoningDone := make(chan []string)
	go func() { reasoningDone <- drain(ch.Reasoning) }()
	content := strings.Join(drain(ch.Content), "")
	reasoning := strings.Join(<-reasoningDone, "")

	assert.Equal(t, wantContent.String(), content)
	assert.Equal(t, ReasoningMarker+wantReasoning.String(), reasoning)
	assert.Equal(t, wantContent.String(), ch.ContentText())
	assert.Equal(t, wantReasoning.String(), ch.ReasoningText())
}

func TestSplit_PropagatesUpstreamError(t *testing.T) {
	boom := &ClientError{Type: ErrTypeConnection, Message: "connection closed"}
	ch := Split(context.Background(), &sliceSource{chunks: []DeltaChunk{{Content: "a"}}, err: boom})

	go drain(ch.Reasoning)
	assert.Equal(t, []string{"a"}, drain(ch.Content))
	<-ch.Done()
	assert.ErrorIs(t, ch.Err(), boom)
}

type endlessSource struct{}

func (endlessSource) Next() (DeltaChunk, error) { return DeltaChunk{Content: "x"}, nil }

func TestSplit_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := Split(ctx, endlessSource{})

	<-ch.Content
	cancel()

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancel")
	}
	assert.True(t, IsCancelled(ch.Err()))
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseURL != "http://127.0.0.1:1234" {
		t.Errorf("BaseURL = %q, want 'http://127.0.0.1:1234'", cfg.BaseURL)
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.Timeout)
	}
}

func TestSetBaseURL(t *testing.T) {
	c := NewClient()

	require.NoError(t, c.SetBaseURL("https://example.test:8443/"))
	assert.Equal(t, "https://example.test:8443", c.BaseURL())

	for _, bad := range []string{"", "ftp://x", "localhost:1234", "http://"} {
		err := c.SetBaseURL(bad)
		assert.True(t, IsValidation(err), "SetBaseURL(%q) err = %v", bad, err)
	}
	assert.Equal(t, "https://example.test:8443", c.BaseURL())
}

func TestListModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"object":"list","data":[{"id":"qwen3-8b","object":"model"},{"id":"gemma","object":"model"}]}`)
	})

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "qwen3-8b", models[0].ID)
	assert.Equal(t, "model", models[1].Object)
}

func TestListModels_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"model crashed"}}`)
	})

	_, err := c.ListModels(context.Background())
	require.Error(t, err)
	assert.True(t, IsServer(err))
	assert.Equal(t, 500, StatusCode(err))
	assert.Contains(t, err.Error(), "model crashed")
}

func TestListModels_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://" + addr, Timeout: 2 * time.Second})
	_, err = c.ListModels(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnection(err), "err = %v, want connection error", err)
}

func TestListModels_UntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
	_, err := c.ListModels(context.Background())
	require.Error(t, err)
	assert.True(t, IsSSL(err), "err = %v, want TLS error", err)
	assert.False(t, IsConnection(err))
	assert.Contains(t, Describe(err), "certificate")
}

func TestChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, false, body["stream"])
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hi there"}}]}`)
	})

	text, err := c.Chat(context.Background(), Request{Model: "m", Messages: []ChatMessage{NewUserMessage("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
}

func TestChat_NoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := c.Chat(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, ErrNoContent)
	assert.True(t, IsNoContent(err))
}

func TestChat_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Chat(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.True(t, IsConnection(err), "err = %v, want connection error", err)
}

func TestOpenStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		w.(http.Flusher).Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	lines, err := c.OpenStream(context.Background(), Request{Model: "m", Params: Params{Stream: true}})
	require.NoError(t, err)
	defer lines.Close()

	ch := Split(context.Background(), NewDeltaReader(lines))
	go drain(ch.Reasoning)
	assert.Equal(t, []string{"Hel", "lo"}, drain(ch.Content))
	<-ch.Done()
	assert.Equal(t, "Hello", ch.ContentText())
	assert.NoError(t, ch.Err())
	assert.Empty(t, ch.ReasoningText())
}

func TestOpenStream_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no model loaded"}`, http.StatusNotFound)
	})

	_, err := c.OpenStream(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 404, StatusCode(err))
}

func TestOpenStream_CancelClosesConnection(t *testing.T) {
	var closed atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for {
			if _, err := fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n"); err != nil {
				break
			}
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				closed.Store(true)
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	lines, err := c.OpenStream(ctx, Request{Model: "m"})
	require.NoError(t, err)

	ch := Split(ctx, NewDeltaReader(lines))
	go drain(ch.Reasoning)
	<-ch.Content
	cancel()
	lines.Close()

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after cancel")
	}
	assert.True(t, IsCancelled(ch.Err()), "err = %v, want cancellation", ch.Err())
	assert.Eventually(t, closed.Load, 2*time.Second, 10*time.Millisecond)
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"canceled", context.Canceled, ErrTypeCancelled},
		{"deadline", context.DeadlineExceeded, ErrTypeConnection},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, ErrTypeConnection},
		{"op", &net.OpError{Op: "dial", Err: errors.New("boom")}, ErrTypeConnection},
		{"tls", fmt.Errorf("Get x: %w", errors.New("tls: handshake failure")), ErrTypeSSL},
		{"unexpected eof", io.ErrUnexpectedEOF, ErrTypeConnection},
		{"other", errors.New("weird"), ErrTypeUnexpected},
		{"already classified", ErrNoContent, ErrTypeNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ce *ClientError
			require.ErrorAs(t, Classify(tt.err), &ce)
			if ce.Type != tt.want {
				t.Errorf("Classify(%v).Type = %v, want %v", tt.err, ce.Type, tt.want)
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"cancelled", ErrCancelled, ""},
		{"raw cancel", context.Canceled, ""},
		{"no model", ErrNoModelSelected, "Please select a model"},
		{"empty prompt", ErrEmptyPrompt, "Please enter a message"},
		{"server", NewServerError(503, ""), "The server returned an error (HTTP 503)"},
		{"no content", ErrNoContent, "The server returned no content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Describe(tt.err); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}

	assert.True(t, strings.HasPrefix(Describe(errors.New("x")), "Failed to get a response"))
	assert.Contains(t, Describe(&ClientError{Type: ErrTypeSSL, Message: "secure connection failed"}), "certificate")
}

func TestClientError_Is(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", &ClientError{Type: ErrTypeValidation, Message: "no model selected"})

	assert.ErrorIs(t, wrapped, ErrNoModelSelected)
	assert.NotErrorIs(t, wrapped, ErrEmptyPrompt)
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsServer(wrapped))
}
