// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"

	"github.com/GioPalusa/MeGPT/internal/model"
	"github.com/GioPalusa/MeGPT/internal/session"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// newMarkdownRenderer returns nil when glamour cannot be set up; callers
// fall back to plain text.
func newMarkdownRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// =============================================================================
// PRINTER
// =============================================================================

// Printer writes chat output. It follows the message snapshots delivered by
// the session listener and prints only the text not yet shown.
//
// Reasoning is always shown as it arrives. Answer text is shown live when
// streaming; otherwise it is printed once the send finishes, rendered as
// markdown when the output is a terminal.
type Printer struct {
	mu  sync.Mutex
	out io.Writer

	markdown *glamour.TermRenderer
	profile  termenv.Profile

	live    bool
	shown   map[string]int
	current string
}

// NewPrinter creates a printer for out. Markdown rendering and styling are
// only enabled when out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	p := &Printer{
		out:     out,
		profile: termenv.Ascii,
		shown:   make(map[string]int),
	}
	if isTerminalWriter(out) {
		p.markdown = newMarkdownRenderer(renderWidth(out.(*os.File)))
		p.profile = colorProfile()
	}
	return p
}

// Begin prepares for a new send. live reports whether answer text streams.
func (p *Printer) Begin(live bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = live
	p.shown = make(map[string]int)
	p.current = ""
}

// Update is the session listener. It must not call back into the controller.
func (p *Printer) Update(msg *model.Message) {
	if msg == nil || msg.IsUser {
		return
	}
	reasoning := msg.IsReasoning()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !reasoning && !p.live {
		return
	}

	shown := p.shown[msg.ID]
	if shown > len(msg.Text) {
		shown = 0
	}
	delta := msg.Text[shown:]
	if delta == "" {
		return
	}
	p.shown[msg.ID] = len(msg.Text)

	if p.current != msg.ID {
		if p.current != "" {
			fmt.Fprint(p.out, "\n\n")
		}
		p.current = msg.ID
	}

	if reasoning {
		fmt.Fprint(p.out, p.profile.String(delta).Faint().Italic())
		return
	}
	fmt.Fprint(p.out, delta)
}

// Finish prints whatever the outcome adds: the answer for non-streamed
// sends, a cancellation notice, or the error text.
func (p *Printer) Finish(out *session.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if out == nil {
		return
	}

	if !p.live && out.Reply != nil && out.Reply.Text != "" {
		if p.current != "" {
			fmt.Fprint(p.out, "\n\n")
		}
		p.writeAnswer(out.Reply.Text)
		p.current = out.Reply.ID
	}
	if p.current != "" {
		fmt.Fprintln(p.out)
	}

	switch out.State {
	case session.Cancelled:
		fmt.Fprintln(p.out, WarningStyle.Render("[Cancelled]"))
	case session.Failed:
		fmt.Fprintln(p.out, ErrorStyle.Render("[Error]")+" "+out.ErrorText)
	}
	p.current = ""
}

// PrintConversation writes a stored conversation, one block per message.
func (p *Printer) PrintConversation(conv *model.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out, TitleStyle.Render(conv.DisplayTitle()))
	for _, msg := range conv.Messages {
		fmt.Fprintln(p.out)
		switch {
		case msg.IsUser:
			fmt.Fprintln(p.out, PromptStyle.Render("you>")+" "+msg.Text)
		case msg.IsReasoning():
			fmt.Fprintln(p.out, p.profile.String(msg.Text).Faint().Italic())
		default:
			p.writeAnswer(msg.Text)
			fmt.Fprintln(p.out)
		}
	}
}

func (p *Printer) writeAnswer(text string) {
	if p.markdown != nil {
		if rendered, err := p.markdown.Render(text); err == nil {
			fmt.Fprint(p.out, strings.TrimRight(rendered, "\n"))
			return
		}
	}
	fmt.Fprint(p.out, text)
}
