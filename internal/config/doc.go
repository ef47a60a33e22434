// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for megpt.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: Base URL and request timeout
//   - GenerationConfig: Optional generation parameters sent with each request
//   - ValidateErrors: Every problem found by Validate, one entry per field
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (MEGPT_*), including those from a .env file
//   - The file named by --config or MEGPT_CONFIG
//   - ~/.megpt/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Build a request from it:
//
//	req := lmstudio.Request{Model: id, Messages: msgs, Params: cfg.Params()}
//
// Pick up edits while running:
//
//	config.Watch(ctx, path, config.SetGlobal)
package config
