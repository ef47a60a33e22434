// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command megpt is a terminal chat client for LM Studio.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/GioPalusa/MeGPT/internal/cli"
	"github.com/GioPalusa/MeGPT/internal/lmstudio"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A .env file in the working directory may supply MEGPT_* variables.
	// Variables already set in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}

	cli.Version = version
	root := cli.NewRootCmd()

	if err := root.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, lmstudio.ErrCancelled) {
			os.Exit(130)
		}
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error:")+" "+err.Error())
		}
		os.Exit(1)
	}
}
