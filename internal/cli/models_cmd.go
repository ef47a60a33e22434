// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GioPalusa/MeGPT/internal/model"
)

func newModelsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if err := app.registry.Refresh(ctx); err != nil {
					return errors.New(describe(err))
				}
				printModels(app.out, app.registry)
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "select <id>",
		Short: "Select the model used for new messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				// Validate against the server when it is reachable.
				if err := app.registry.Refresh(ctx); err != nil {
					app.warn("Could not check the model list: %s", describe(err))
				}
				if err := app.registry.Select(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(app.out, SuccessStyle.Render("Selected "+args[0]))
				return nil
			})
		},
	})

	return cmd
}

// printModels lists the cached models, marking the selected one.
func printModels(out io.Writer, reg *model.Registry) {
	models := reg.Models()
	if len(models) == 0 {
		fmt.Fprintln(out, DimStyle.Render("The server offers no models. Load one in LM Studio first."))
		return
	}

	selected := reg.Selected()
	for _, m := range models {
		if m.ID == selected {
			fmt.Fprintln(out, SelectedStyle.Render("* "+m.ID))
			continue
		}
		fmt.Fprintln(out, "  "+m.ID)
	}
}

// withApp opens the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *Options, fn func(context.Context, *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := openApp(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}
