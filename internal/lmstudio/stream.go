// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lmstudio

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
)

// STREAMING: tolerant SSE parsing; a bad frame never loses the rest of a generation

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// FramePrefix marks a data line of the event stream.
	FramePrefix = "data: "

	// DoneMarker is the payload of the terminating frame.
	DoneMarker = "[DONE]"

	// MaxLineSize is the maximum allowed size of a single stream line (1MB).
	MaxLineSize = 1024 * 1024
)

// =============================================================================
// LINE STREAM
// =============================================================================

// LineSource yields lines until io.EOF.
type LineSource interface {
	Next() (string, error)
}

// LineStream is the lazy, single-pass sequence of lines of a streaming
// response body. It is not restartable; every request gets a fresh one.
type LineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	mu     sync.Mutex
	err    error
	closed bool
}

func newLineStream(body io.ReadCloser) *LineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &LineStream{body: body, scanner: scanner}
}

// NewLineStream wraps any reader, typically for tests or replaying a capture.
func NewLineStream(r io.Reader) *LineStream {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return newLineStream(rc)
}

// Next returns the next line without its line terminator. It returns io.EOF
// once the server closes the connection, or the classified read error if the
// connection fails.
func (s *LineStream) Next() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}

	err := s.scanner.Err()
	if err == nil {
		return "", io.EOF
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Reads fail once Close tears the connection down mid-stream.
		s.err = ErrCancelled
	} else {
		s.err = Classify(err)
	}
	return "", s.err
}

// Err returns the error that ended the stream, or nil for a clean end.
func (s *LineStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the underlying connection. It is safe to call more than once
// and from another goroutine than the one calling Next.
func (s *LineStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.body.Close()
}

// =============================================================================
// FRAME PARSER
// =============================================================================

// ParseFrame decodes one stream line. It reports false for lines that are
// not data frames, blank, malformed, carry no choices, or are the [DONE]
// terminator.
func ParseFrame(line string) (DeltaChunk, bool) {
	payload, ok := strings.CutPrefix(line, FramePrefix)
	if !ok {
		return DeltaChunk{}, false
	}
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == DoneMarker {
		return DeltaChunk{}, false
	}

	var chunk StreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return DeltaChunk{}, false
	}
	if len(chunk.Choices) == 0 {
		return DeltaChunk{}, false
	}

	choice := chunk.Choices[0]
	var delta DeltaChunk
	if choice.Delta.Content != nil {
		delta.Content = *choice.Delta.Content
	}
	if choice.Delta.ReasoningContent != nil {
		delta.ReasoningContent = *choice.Delta.ReasoningContent
	}
	if choice.FinishReason != nil {
		delta.FinishReason = *choice.FinishReason
	}
	return delta, true
}

// isDone reports whether line is the terminating frame.
func isDone(line string) bool {
	payload, ok := strings.CutPrefix(line, FramePrefix)
	return ok && strings.TrimSpace(payload) == DoneMarker
}

// DeltaReader turns a LineSource into a sequence of DeltaChunk values, one per
// valid frame, in arrival order.
type DeltaReader struct {
	lines LineSource
	done  bool
	err   error
	count int
}

// NewDeltaReader creates a frame parser reading from lines.
func NewDeltaReader(lines LineSource) *DeltaReader {
	return &DeltaReader{lines: lines}
}

// Next returns the next decoded chunk. It returns io.EOF at the [DONE] frame
// or when the connection closes cleanly. Lines that do not decode are
// skipped. Any other error is the connection failure that ended the stream.
func (r *DeltaReader) Next() (DeltaChunk, error) {
	if r.done {
		return DeltaChunk{}, io.EOF
	}
	if r.err != nil {
		return DeltaChunk{}, r.err
	}

	for {
		line, err := r.lines.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.done = true
				return DeltaChunk{}, io.EOF
			}
			r.err = err
			return DeltaChunk{}, err
		}

		if isDone(line) {
			r.done = true
			return DeltaChunk{}, io.EOF
		}

		chunk, ok := ParseFrame(line)
		if !ok {
			continue
		}
		r.count++
		return chunk, nil
	}
}

// Count returns the number of chunks yielded so far.
func (r *DeltaReader) Count() int {
	return r.count
}
