// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/GioPalusa/MeGPT/internal/config"
	"github.com/GioPalusa/MeGPT/internal/logger"
	"github.com/GioPalusa/MeGPT/internal/util"
)

// maxHistory bounds the saved input history.
const maxHistory = 500

// ErrInputClosed is returned by ReadInput when the user ends input with
// Ctrl+D, or Ctrl+C at an empty prompt.
var ErrInputClosed = errors.New("input closed")

// InputReader reads prompts from the user.
type InputReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatInput provides input history and line editing for interactive chat.
type ChatInput struct {
	line        *liner.State
	historyFile string
}

// NewChatInput creates a ChatInput with history loaded from
// ~/.megpt/chat_history.
func NewChatInput() *ChatInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	in := &ChatInput{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	in.loadHistory()
	return in
}

func (c *ChatInput) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
// Supports history navigation with arrow keys.
func (c *ChatInput) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
		return "", ErrInputClosed
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists history with owner-only permissions.
func (c *ChatInput) saveHistory() {
	var sb strings.Builder
	if _, err := c.line.WriteHistory(&sb); err != nil {
		return
	}
	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) > maxHistory {
		lines = lines[len(lines)-maxHistory:]
	}
	data := strings.Join(lines, "\n") + "\n"
	if err := util.AtomicWriteFile(c.historyFile, []byte(data), 0600); err != nil {
		logger.Debug("failed to save input history", "err", err)
	}
}

// Close saves history and closes the liner.
func (c *ChatInput) Close() {
	c.saveHistory()
	c.line.Close()
}

// =============================================================================
// PLAIN INPUT
// =============================================================================

// lineInput reads prompts from a non-terminal reader, one line at a time.
// Used when stdin is piped, so no prompt is echoed.
type lineInput struct {
	r *bufio.Reader
}

func newLineInput(r io.Reader) *lineInput {
	return &lineInput{r: bufio.NewReader(r)}
}

func (l *lineInput) ReadInput(string) (string, error) {
	line, err := l.r.ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return "", ErrInputClosed
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (l *lineInput) Close() {}
