// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GioPalusa/MeGPT/internal/config"
)

func newConfigCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := opts.configPath()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write a config file with the defaults",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := opts.configPath()
				if err != nil {
					return err
				}
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists", path)
				}
				if err := config.Save(config.Default(), path); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Wrote "+path))
				return nil
			},
		},
		&cobra.Command{
			Use:       "get <key>",
			Short:     "Print one setting",
			Args:      cobra.ExactArgs(1),
			ValidArgs: config.GetAllKeys(),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := opts.loadConfig()
				if err != nil {
					return err
				}
				v, err := cfg.Get(args[0])
				if err != nil {
					return err
				}
				if v == nil {
					fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("(unset, server default)"))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting in the config file",
			Long: `Change one setting in the config file. An empty value removes an optional
generation setting so the server default applies again. Lists such as
generation.stop take a comma-separated value.`,
			Args:      cobra.ExactArgs(2),
			ValidArgs: config.GetAllKeys(),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setConfigValue(cmd, opts, args[0], args[1])
			},
		},
	)

	return cmd
}

// setConfigValue edits the file itself, so flag and environment overrides
// are not written back.
func setConfigValue(cmd *cobra.Command, opts *Options, key, value string) error {
	path, err := opts.configPath()
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, statErr := os.Stat(path); statErr == nil {
		if cfg, err = config.ReadFile(path); err != nil {
			return err
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return statErr
	}

	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render(fmt.Sprintf("Set %s in %s", key, path)))
	return nil
}

func newURLCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "url [<base-url>]",
		Short: "Show or change the server base URL",
		Long: `Without an argument, print the base URL in use. With one, switch to that
server, remember it for later runs, and load its model list.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if len(args) == 0 {
					fmt.Fprintln(app.out, app.client.BaseURL())
					return nil
				}
				if err := app.setBaseURL(ctx, args[0]); err != nil {
					return errors.New(describe(err))
				}
				fmt.Fprintln(app.out, SuccessStyle.Render("Using "+app.client.BaseURL()))
				printModels(app.out, app.registry)
				return nil
			})
		},
	}
}
