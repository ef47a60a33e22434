// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/GioPalusa/MeGPT/internal/lmstudio"
	"github.com/GioPalusa/MeGPT/internal/logger"
)

// ErrUnknownModel is returned by Select for an id the server did not list.
var ErrUnknownModel = errors.New("model is not available on the server")

// ModelLister fetches the models a server offers.
type ModelLister interface {
	ListModels(ctx context.Context) ([]lmstudio.ModelInfo, error)
}

// Preferences persists the selected model id across sessions.
type Preferences interface {
	SelectedModel(ctx context.Context) (string, error)
	SetSelectedModel(ctx context.Context, id string) error
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// Registry caches the server's model list and the selected model id.
// It is safe for concurrent use.
type Registry struct {
	lister ModelLister
	prefs  Preferences

	mu       sync.RWMutex
	models   []lmstudio.ModelInfo
	selected string
}

// NewRegistry creates a registry. prefs may be nil, in which case the
// selection only lives in memory.
func NewRegistry(lister ModelLister, prefs Preferences) *Registry {
	return &Registry{lister: lister, prefs: prefs}
}

// Load restores the previously selected model id.
func (r *Registry) Load(ctx context.Context) error {
	if r.prefs == nil {
		return nil
	}
	id, err := r.prefs.SelectedModel(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.selected = id
	r.mu.Unlock()
	return nil
}

// Refresh re-fetches the model list. When the selected model is no longer
// offered the first listed model is selected instead. On failure the cached
// list and selection are left unchanged.
func (r *Registry) Refresh(ctx context.Context) error {
	models, err := r.lister.ListModels(ctx)
	if err != nil {
		logger.Warn("Failed to fetch models", "err", err)
		return err
	}

	r.mu.Lock()
	r.models = slices.Clone(models)
	previous := r.selected
	if !containsModel(models, previous) {
		r.selected = ""
		if len(models) > 0 {
			r.selected = models[0].ID
		}
	}
	selected := r.selected
	r.mu.Unlock()

	logger.Debug("Fetched models", "count", len(models), "selected", selected)

	if selected != previous && r.prefs != nil {
		if err := r.prefs.SetSelectedModel(ctx, selected); err != nil {
			return err
		}
	}
	return nil
}

// Select makes id the selected model and persists it. Once a model list has
// been fetched, ids not on it are rejected.
func (r *Registry) Select(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)

	r.mu.Lock()
	if len(r.models) > 0 && !containsModel(r.models, id) {
		r.mu.Unlock()
		return ErrUnknownModel
	}
	r.selected = id
	r.mu.Unlock()

	if r.prefs != nil {
		return r.prefs.SetSelectedModel(ctx, id)
	}
	return nil
}

// Selected returns the selected model id, or "" when none is selected.
func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Models returns a copy of the cached model list.
func (r *Registry) Models() []lmstudio.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.models)
}

func containsModel(models []lmstudio.ModelInfo, id string) bool {
	if id == "" {
		return false
	}
	return slices.ContainsFunc(models, func(m lmstudio.ModelInfo) bool {
		return m.ID == id
	})
}

// ShortName drops the publisher prefix from a model id, so
// "lmstudio-community/qwen3-8b" displays as "qwen3-8b".
func ShortName(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}
