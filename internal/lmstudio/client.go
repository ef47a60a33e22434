// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lmstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GioPalusa/MeGPT/internal/logger"
)

// maxErrorBody caps how much of a failed response body is read for details.
const maxErrorBody = 4 * 1024

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the client.
type ClientConfig struct {
	// BaseURL is the server base URL (default: http://127.0.0.1:1234)
	BaseURL string

	// Timeout for non-streaming requests (default: 60s).
	// Streaming requests have no timeout and end on cancellation or close.
	Timeout time.Duration
}

// DefaultBaseURL is where LM Studio listens out of the box.
const DefaultBaseURL = "http://127.0.0.1:1234"

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: DefaultBaseURL,
		Timeout: 60 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the inference server.
//
// The Client is safe for concurrent use. The base URL may be changed between
// requests; a request already in flight keeps the URL it was sent to.
type Client struct {
	mu      sync.RWMutex
	baseURL string

	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		// No timeout: generation can legitimately take a long time.
		streamClient: &http.Client{},
	}
}

// BaseURL returns the current base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL changes the server base URL for subsequent requests.
func (c *Client) SetBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &ClientError{Type: ErrTypeValidation, Message: "invalid base URL", Cause: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ClientError{Type: ErrTypeValidation, Message: "base URL must be an http or https URL: " + raw}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(u.String(), "/")
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.BaseURL() + path
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves the models the server has available.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	target := c.endpoint("/v1/models")
	logger.Debug("Listing models", "url", target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnexpected, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, decodeError(err)
	}

	return result.Data, nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// Chat sends a non-streaming chat request and returns the assistant text of
// the first choice. A response without a message fails with ErrNoContent.
func (c *Client) Chat(ctx context.Context, request Request) (string, error) {
	resp, err := c.post(ctx, c.httpClient, request, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", decodeError(err)
	}

	msg := result.FirstMessage()
	if msg == nil {
		return "", ErrNoContent
	}
	return msg.Content, nil
}

// OpenStream sends a streaming chat request and returns the response body as
// a LineStream once the headers have arrived. The caller must Close it.
//
// Failures before the headers (connection, TLS, non-2xx) are returned here.
// Failures while reading the body end the line sequence; see LineStream.Err.
func (c *Client) OpenStream(ctx context.Context, request Request) (*LineStream, error) {
	resp, err := c.post(ctx, c.streamClient, request, true)
	if err != nil {
		return nil, err
	}
	return newLineStream(resp.Body), nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, request Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(newChatRequestBody(request, stream))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnexpected, Message: "failed to marshal request", Cause: err}
	}

	target := c.endpoint("/v1/chat/completions")
	logger.Debug("Sending chat completion", "url", target, "model", request.Model,
		"messages", len(request.Messages), "stream", stream)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnexpected, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, Classify(err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkStatus maps a non-2xx response to a server error, reading the error
// body for detail when the server sent one.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr apiError
	detail := ""
	if json.Unmarshal(data, &apiErr) == nil {
		detail = apiErr.message()
	}
	logger.Debug("Server returned error status", "status", resp.StatusCode, "detail", detail)
	return NewServerError(resp.StatusCode, detail)
}

func decodeError(err error) error {
	classified := Classify(err)
	if IsCancelled(classified) || IsConnection(classified) {
		return classified
	}
	return &ClientError{Type: ErrTypeUnexpected, Message: "failed to decode response", Cause: err}
}

// String describes the client for logs.
func (c *Client) String() string {
	return fmt.Sprintf("lmstudio.Client(%s)", c.BaseURL())
}
