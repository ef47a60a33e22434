// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// NewRootCmd builds the megpt command tree. Without a subcommand it starts
// an interactive chat.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:   "megpt [prompt]",
		Short: "Chat with models served by LM Studio",
		Long: `megpt talks to a local LM Studio server through its OpenAI-compatible API.

Answers stream into the terminal as they are generated. Reasoning models show
their thinking separately from the answer. Conversations are kept in a local
SQLite database and the most recent one is resumed on start.`,
		Example: `  # Start chatting (resumes the last conversation)
  $ megpt

  # Ask one question and exit
  $ megpt "What is a goroutine?"

  # Use another server and model
  $ megpt --base-url http://gpu-box:1234 --model qwen3-8b`,
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, args)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.megpt/config.toml, or $MEGPT_CONFIG)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.StringVar(&opts.BaseURL, "base-url", "", "server base URL, e.g. http://127.0.0.1:1234")
	flags.StringVar(&opts.Model, "model", "", "model id to select")
	flags.BoolVar(&opts.NewChat, "new", false, "start a new conversation instead of resuming")
	flags.StringVar(&opts.Stop, "stop", "", "comma-separated stop sequences")
	flags.BoolVar(&opts.NoStream, "no-stream", false, "wait for the whole answer instead of streaming")

	root.AddCommand(
		newChatCmd(opts),
		newModelsCmd(opts),
		newConversationsCmd(opts),
		newConfigCmd(opts),
		newURLCmd(opts),
	)
	return root
}
