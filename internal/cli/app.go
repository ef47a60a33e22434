// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/GioPalusa/MeGPT/internal/config"
	"github.com/GioPalusa/MeGPT/internal/lmstudio"
	"github.com/GioPalusa/MeGPT/internal/logger"
	"github.com/GioPalusa/MeGPT/internal/model"
	"github.com/GioPalusa/MeGPT/internal/storage"
)

// Options holds the global command-line flags.
type Options struct {
	ConfigPath string
	LogLevel   string
	BaseURL    string
	Model      string
	NewChat    bool
	Stop       string
	NoStream   bool
}

// configPath returns --config, falling back to MEGPT_CONFIG and the default.
func (o *Options) configPath() (string, error) {
	if o.ConfigPath != "" {
		return o.ConfigPath, nil
	}
	return config.Path()
}

// loadConfig loads settings and applies the flag overrides on top.
func (o *Options) loadConfig() (*config.Config, string, error) {
	path, err := o.configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	if err := o.apply(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// apply layers flags over cfg. Flags win over the file and the environment.
func (o *Options) apply(cfg *config.Config) error {
	if o.BaseURL != "" {
		cfg.Server.BaseURL = o.BaseURL
	}
	if o.NoStream {
		cfg.Generation.Stream = false
	}
	if o.Stop != "" {
		cfg.Generation.Stop = config.SplitList(o.Stop)
	}
	cfg.SetDefaults()
	return cfg.Validate()
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// App bundles the collaborators a command needs.
type App struct {
	opts       *Options
	configPath string

	store    *storage.Store
	client   *lmstudio.Client
	registry *model.Registry

	out    io.Writer
	errOut io.Writer
}

// openApp loads settings, configures logging, and opens the store and
// client. The caller must Close the result.
func openApp(ctx context.Context, opts *Options, out, errOut io.Writer) (*App, error) {
	cfg, path, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	config.SetGlobal(cfg)

	if err := logger.Configure(opts.LogLevel, cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	client := lmstudio.NewClientWithConfig(cfg.ClientConfig())

	// A base URL chosen at runtime is remembered, unless the flag or the
	// environment names one explicitly.
	if opts.BaseURL == "" && os.Getenv(config.EnvBaseURL) == "" {
		saved, err := store.BaseURL(ctx)
		if err != nil {
			store.Close()
			return nil, err
		}
		if saved != "" {
			if err := client.SetBaseURL(saved); err != nil {
				logger.Warn("Ignoring saved base URL", "url", saved, "err", err)
			}
		}
	}

	registry := model.NewRegistry(client, store)
	if err := registry.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}

	logger.Debug("App ready", "base_url", client.BaseURL(), "db", store.Path())

	return &App{
		opts:       opts,
		configPath: path,
		store:      store,
		client:     client,
		registry:   registry,
		out:        out,
		errOut:     errOut,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

// settings returns the current settings snapshot.
func (a *App) settings() *config.Config {
	return config.Global()
}

// reload installs a config that changed on disk. Sends already in flight
// keep the parameters they were started with.
func (a *App) reload(cfg *config.Config) {
	if err := a.opts.apply(cfg); err != nil {
		logger.Warn("Ignoring reloaded config", "err", err)
		return
	}
	config.SetGlobal(cfg)
	if err := logger.Configure(a.opts.LogLevel, cfg.Log.Level, cfg.Log.File); err != nil {
		logger.Warn("Failed to reconfigure logging", "err", err)
	}
	logger.Info("Settings reloaded", "path", a.configPath)
}

// setBaseURL points the client at a new server, remembers the choice, and
// refreshes the model list from it.
func (a *App) setBaseURL(ctx context.Context, raw string) error {
	if err := a.client.SetBaseURL(raw); err != nil {
		return err
	}
	if err := a.store.SetBaseURL(ctx, a.client.BaseURL()); err != nil {
		return err
	}
	return a.registry.Refresh(ctx)
}

// warn prints a user-facing warning to the error stream.
func (a *App) warn(format string, args ...any) {
	fmt.Fprintln(a.errOut, WarningStyle.Render(fmt.Sprintf(format, args...)))
}

// ReportedError wraps an error whose message the command has already
// shown the user. Callers exit with a failure status without printing it
// again.
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string { return e.Err.Error() }

func (e *ReportedError) Unwrap() error { return e.Err }

// IsReported reports whether err, or an error it wraps, is a ReportedError.
func IsReported(err error) bool {
	var reported *ReportedError
	return errors.As(err, &reported)
}

// describe turns an error into the text shown to the user. Transport errors
// get their friendly description; anything else is shown as is.
func describe(err error) string {
	var clientErr *lmstudio.ClientError
	if errors.As(err, &clientErr) {
		return lmstudio.Describe(err)
	}
	return err.Error()
}
