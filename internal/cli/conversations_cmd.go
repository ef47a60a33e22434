// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GioPalusa/MeGPT/internal/export"
	"github.com/GioPalusa/MeGPT/internal/storage"
	"github.com/GioPalusa/MeGPT/internal/util"
)

// shortIDLen is how much of a conversation id listings show. Commands
// accept any unique prefix.
const shortIDLen = 8

func newConversationsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "history"},
		Short:   "List saved conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				metas, err := app.store.ListConversations(ctx)
				if err != nil {
					return err
				}
				printConversationList(app.out, metas)
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "search <text>",
			Short: "Find conversations whose title or messages contain text",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, app *App) error {
					metas, err := app.store.SearchConversations(ctx, strings.Join(args, " "))
					if err != nil {
						return err
					}
					printConversationList(app.out, metas)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, app *App) error {
					id, err := resolveConversationID(ctx, app.store, args[0])
					if err != nil {
						return err
					}
					conv, err := app.store.LoadConversation(ctx, id)
					if err != nil {
						return err
					}
					NewPrinter(app.out).PrintConversation(conv)
					return nil
				})
			},
		},
		newExportCmd(opts),
		&cobra.Command{
			Use:     "delete <id>",
			Aliases: []string{"rm"},
			Short:   "Delete a conversation and its messages",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, app *App) error {
					id, err := resolveConversationID(ctx, app.store, args[0])
					if err != nil {
						return err
					}
					if err := app.store.DeleteConversation(ctx, id); err != nil {
						return err
					}
					fmt.Fprintln(app.out, SuccessStyle.Render("Deleted "+shortID(id)))
					return nil
				})
			},
		},
	)

	return cmd
}

func newExportCmd(opts *Options) *cobra.Command {
	var (
		format      string
		outputDir   string
		noReasoning bool
		stdout      bool
	)

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a conversation to a Markdown or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				exportOpts := export.DefaultOptions()
				exportOpts.OutputDir = outputDir
				exportOpts.IncludeReasoning = !noReasoning

				exporter, err := export.ForFormat(format, exportOpts)
				if err != nil {
					return err
				}
				id, err := resolveConversationID(ctx, app.store, args[0])
				if err != nil {
					return err
				}
				conv, err := app.store.LoadConversation(ctx, id)
				if err != nil {
					return err
				}

				if stdout {
					data, err := exporter.Export(conv)
					if err != nil {
						return err
					}
					_, err = app.out.Write(data)
					return err
				}

				path, err := export.ToFile(conv, exporter, exportOpts)
				if err != nil {
					return err
				}
				fmt.Fprintln(app.out, SuccessStyle.Render("Exported to "+path))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "md", "export format: "+strings.Join(export.Formats(), ", "))
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "directory to write into")
	cmd.Flags().BoolVar(&noReasoning, "no-reasoning", false, "leave reasoning out of Markdown exports")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write to standard output instead of a file")
	return cmd
}

// resolveConversationID expands a unique id prefix to the full id.
func resolveConversationID(ctx context.Context, store *storage.Store, prefix string) (string, error) {
	metas, err := store.ListConversations(ctx)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, m := range metas {
		if m.ID == prefix {
			return m.ID, nil
		}
		if strings.HasPrefix(m.ID, prefix) {
			matches = append(matches, m.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", storage.ErrConversationNotFound
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("id prefix %q matches %d conversations", prefix, len(matches))
	}
}

func printConversationList(out io.Writer, metas []storage.ConversationMeta) {
	if len(metas) == 0 {
		fmt.Fprintln(out, DimStyle.Render("No conversations."))
		return
	}

	for _, m := range metas {
		title := util.PadRight(util.TruncateWidth(m.DisplayTitle(), 36), 36)
		fmt.Fprintf(out, "%s  %s  %s  %s\n",
			SelectedStyle.Render(shortID(m.ID)),
			title,
			DimStyle.Render(fmt.Sprintf("%3d msgs  %s", m.MessageCount, formatAge(m.LastUsed))),
			DimStyle.Render(m.Preview),
		)
	}
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

// formatAge renders t relative to now, coarsely.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
