// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Preference keys.
const (
	PrefSelectedModel = "selected_model"
	PrefBaseURL       = "base_url"
)

// Preference returns the stored value for key, or "" when unset.
func (s *Store) Preference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, nil
}

// SetPreference stores value under key. An empty value clears the key.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	var err error
	if value == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO preferences (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	}
	if err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

// SelectedModel returns the persisted model id.
func (s *Store) SelectedModel(ctx context.Context) (string, error) {
	return s.Preference(ctx, PrefSelectedModel)
}

// SetSelectedModel persists the model id.
func (s *Store) SetSelectedModel(ctx context.Context, id string) error {
	return s.SetPreference(ctx, PrefSelectedModel, id)
}

// BaseURL returns the persisted server base URL, or "" when never set.
func (s *Store) BaseURL(ctx context.Context) (string, error) {
	return s.Preference(ctx, PrefBaseURL)
}

// SetBaseURL persists the server base URL.
func (s *Store) SetBaseURL(ctx context.Context, url string) error {
	return s.SetPreference(ctx, PrefBaseURL, url)
}
