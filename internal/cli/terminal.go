// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Markdown wraps at the terminal width, clamped to this range.
const (
	fallbackWidth  = 80
	minRenderWidth = 40
	maxRenderWidth = 120
)

// =============================================================================
// TTY DETECTION
// =============================================================================

func isTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// isTerminalWriter is false for anything but a terminal file, so test
// buffers always get plain output.
func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isTerminal(f)
}

// isTerminalReader selects liner. Only the process stdin qualifies because
// liner reads from it directly.
func isTerminalReader(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && f == os.Stdin && isTerminal(f)
}

// renderWidth returns the wrap width for markdown written to f.
func renderWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	switch {
	case err != nil || width <= 0:
		return fallbackWidth
	case width < minRenderWidth:
		return minRenderWidth
	case width > maxRenderWidth:
		return maxRenderWidth
	}
	return width
}

// =============================================================================
// COLOR PROFILE
// =============================================================================

// colorProfile picks the termenv profile for stdout. NO_COLOR wins over
// FORCE_COLOR, which wins over TTY detection (https://no-color.org/).
func colorProfile() termenv.Profile {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return termenv.Ascii
	case os.Getenv("FORCE_COLOR") != "":
		return termenv.EnvColorProfile()
	case !isTerminal(os.Stdout):
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
