// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GioPalusa/MeGPT/internal/config"
	"github.com/GioPalusa/MeGPT/internal/lmstudio"
	"github.com/GioPalusa/MeGPT/internal/logger"
	"github.com/GioPalusa/MeGPT/internal/model"
	"github.com/GioPalusa/MeGPT/internal/session"
	"github.com/GioPalusa/MeGPT/internal/storage"
)

func newChatCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Start an interactive chat, or send one prompt",
		Long: `Start an interactive chat session. With a prompt argument the prompt is
sent once, the answer printed, and megpt exits.

Press Ctrl+C while an answer is arriving to stop it. Type /help for commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, args)
		},
	}
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// chatSession is one run of the chat command.
type chatSession struct {
	app     *App
	ctrl    *session.Controller
	printer *Printer
	appCtx  *session.AppContext
}

func runChat(cmd *cobra.Command, opts *Options, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := openApp(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	cs, err := newChatSession(ctx, app)
	if err != nil {
		return err
	}
	defer cs.ctrl.Wait()

	if len(args) > 0 {
		return cs.sendOnce(ctx, strings.Join(args, " "))
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if err := config.Watch(watchCtx, app.configPath, app.reload); err != nil {
		logger.Debug("Config hot reload disabled", "err", err)
	}

	var input InputReader
	if isTerminalReader(cmd.InOrStdin()) {
		input = NewChatInput()
	} else {
		input = newLineInput(cmd.InOrStdin())
	}
	defer input.Close()

	return cs.loop(ctx, input)
}

func newChatSession(ctx context.Context, app *App) (*chatSession, error) {
	if err := app.registry.Refresh(ctx); err != nil {
		app.warn("Could not load models from %s: %s", app.client.BaseURL(), describe(err))
	}
	if app.opts.Model != "" {
		if err := app.registry.Select(ctx, app.opts.Model); err != nil {
			return nil, fmt.Errorf("cannot select model %q: %w", app.opts.Model, err)
		}
	}

	var conv *model.Conversation
	if !app.opts.NewChat {
		latest, err := app.store.LatestConversation(ctx)
		switch {
		case errors.Is(err, storage.ErrConversationNotFound):
		case err != nil:
			return nil, err
		default:
			conv = latest
		}
	}

	printer := NewPrinter(app.out)
	ctrl := session.New(app.client, app.store,
		session.WithListener(printer.Update),
		session.WithTitleListener(func(c *model.Conversation) {
			logger.Debug("Conversation titled", "id", c.ID, "title", c.Title)
		}),
	)

	return &chatSession{
		app:     app,
		ctrl:    ctrl,
		printer: printer,
		appCtx:  &session.AppContext{Models: app.registry, Conversation: conv},
	}, nil
}

// send runs one prompt. Ctrl+C during the send cancels it without leaving
// the session.
func (cs *chatSession) send(ctx context.Context, prompt string) (*session.Outcome, error) {
	sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	params := cs.app.settings().Params()
	cs.printer.Begin(params.Stream)
	out, err := cs.ctrl.Send(sendCtx, cs.appCtx, prompt, params)
	cs.printer.Finish(out)
	return out, err
}

func (cs *chatSession) sendOnce(ctx context.Context, prompt string) error {
	out, err := cs.send(ctx, prompt)
	if err != nil {
		// Failed outcomes were already printed by the printer.
		if out != nil && out.State == session.Failed {
			return &ReportedError{Err: errors.New(out.ErrorText)}
		}
		return errors.New(describe(err))
	}
	if out.State == session.Cancelled {
		return lmstudio.ErrCancelled
	}
	return nil
}

// loop is the REPL.
func (cs *chatSession) loop(ctx context.Context, input InputReader) error {
	cs.printWelcome()

	for {
		line, err := input.ReadInput(PromptStyle.Render("megpt> "))
		if errors.Is(err, ErrInputClosed) {
			fmt.Fprintln(cs.app.out)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := cs.handleSlashCommand(ctx, line)
			if err != nil {
				fmt.Fprintln(cs.app.errOut, ErrorStyle.Render("[Error]")+" "+describe(err))
			}
			if quit {
				return nil
			}
			continue
		}

		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		out, err := cs.send(ctx, line)
		if err != nil && out != nil && out.State == session.Idle {
			// Rejected before anything was sent.
			fmt.Fprintln(cs.app.errOut, WarningStyle.Render(out.ErrorText))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (cs *chatSession) printWelcome() {
	out := cs.app.out
	fmt.Fprintln(out, TitleStyle.Render("megpt")+" "+DimStyle.Render(Version))
	fmt.Fprintln(out, LabelStyle.Render("Server")+cs.app.client.BaseURL())

	selected := cs.app.registry.Selected()
	if selected == "" {
		selected = DimStyle.Render("none (use /model <id>)")
	}
	fmt.Fprintln(out, LabelStyle.Render("Model")+selected)

	if conv := cs.appCtx.Conversation; conv != nil {
		fmt.Fprintln(out, LabelStyle.Render("Resuming")+fmt.Sprintf("%s (%d messages)", conv.DisplayTitle(), conv.MessageCount()))
	}
	fmt.Fprintln(out, DimStyle.Render("Type /help for commands, Ctrl+D to quit."))
	fmt.Fprintln(out)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `Commands:
  /new             start a new conversation
  /history         show the current conversation
  /models          list available models
  /model <id>      select a model
  /url [<url>]     show or change the server base URL
  /help            show this help
  /exit            quit`

// handleSlashCommand runs one command. It reports whether the REPL should
// end.
func (cs *chatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	out := cs.app.out

	switch name {
	case "/exit", "/quit", "/q":
		return true, nil

	case "/help", "/?":
		fmt.Fprintln(out, chatHelp)

	case "/new":
		if cs.ctrl.State().IsActive() {
			return false, lmstudio.ErrBusy
		}
		cs.appCtx.Conversation = nil
		fmt.Fprintln(out, SuccessStyle.Render("Started a new conversation."))

	case "/history":
		conv := cs.ctrl.Snapshot(cs.appCtx.Conversation)
		if conv == nil || conv.IsEmpty() {
			fmt.Fprintln(out, DimStyle.Render("No messages yet."))
			return false, nil
		}
		cs.printer.PrintConversation(conv)

	case "/models":
		if err := cs.app.registry.Refresh(ctx); err != nil {
			return false, err
		}
		printModels(out, cs.app.registry)

	case "/model":
		if len(args) != 1 {
			return false, errors.New("usage: /model <id>")
		}
		if err := cs.app.registry.Select(ctx, args[0]); err != nil {
			return false, err
		}
		fmt.Fprintln(out, SuccessStyle.Render("Selected "+args[0]))

	case "/url":
		if len(args) == 0 {
			fmt.Fprintln(out, cs.app.client.BaseURL())
			return false, nil
		}
		if err := cs.app.setBaseURL(ctx, args[0]); err != nil {
			return false, err
		}
		fmt.Fprintln(out, SuccessStyle.Render("Using "+cs.app.client.BaseURL()))

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}
