// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/GioPalusa/MeGPT/internal/logger"
	"github.com/GioPalusa/MeGPT/internal/model"
	"github.com/GioPalusa/MeGPT/internal/util"
)

// previewWidth is the column budget for first-message previews in listings.
const previewWidth = 80

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// STORE
// =============================================================================

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	LastUsed     time.Time
	MessageCount int
	Preview      string // first user message, one line
}

// DisplayTitle returns the title or a default.
func (m ConversationMeta) DisplayTitle() string {
	if m.Title != "" {
		return m.Title
	}
	return model.DefaultTitle
}

// Store persists conversations, messages, and preferences in SQLite.
// It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), util.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	logger.Debug("Opened store", "path", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// CreateConversation creates and persists a new, untitled conversation.
func (s *Store) CreateConversation(ctx context.Context) (*model.Conversation, error) {
	conv := model.NewConversation()
	if err := s.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Save persists the conversation's metadata (title and times).
func (s *Store) Save(ctx context.Context, conv *model.Conversation) error {
	if err := upsertConversation(ctx, s.db, conv); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// CreateMessage creates a message, appends it to conv, and persists both.
func (s *Store) CreateMessage(ctx context.Context, conv *model.Conversation, text string, isUser bool) (*model.Message, error) {
	msg := model.NewMessage(text, isUser)
	if err := s.AppendOrUpdate(ctx, conv, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// AppendOrUpdate adds msg to conv, or replaces the message with the same ID,
// and persists the message and the conversation's last-used time.
func (s *Store) AppendOrUpdate(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	conv.AppendOrUpdate(msg)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertConversation(ctx, tx, conv); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, text, is_user, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text`,
		msg.ID, conv.ID, msg.Text, boolToInt(msg.IsUser), msg.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertConversation(ctx context.Context, db execer, conv *model.Conversation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, last_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, last_used = excluded.last_used`,
		conv.ID, conv.Title, conv.CreatedAt.UnixNano(), conv.LastUsed.UnixNano())
	return err
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// LoadConversation loads a conversation and its messages in timestamp order.
func (s *Store) LoadConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv := &model.Conversation{ID: id}
	var created, lastUsed int64

	err := s.db.QueryRowContext(ctx,
		`SELECT title, created_at, last_used FROM conversations WHERE id = ?`, id,
	).Scan(&conv.Title, &created, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.CreatedAt = time.Unix(0, created)
	conv.LastUsed = time.Unix(0, lastUsed)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, is_user, timestamp FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = make([]*model.Message, 0)
	for rows.Next() {
		var msg model.Message
		var isUser int
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.Text, &isUser, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.IsUser = isUser != 0
		msg.Timestamp = time.Unix(0, ts)
		conv.Messages = append(conv.Messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	return conv, nil
}

// LatestConversation loads the most recently used conversation.
func (s *Store) LatestConversation(ctx context.Context) (*model.Conversation, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations ORDER BY last_used DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest conversation: %w", err)
	}
	return s.LoadConversation(ctx, id)
}

// ListConversations returns all conversations, most recently used first.
func (s *Store) ListConversations(ctx context.Context) ([]ConversationMeta, error) {
	return s.queryMetas(ctx, "", nil)
}

// SearchConversations returns conversations whose title or any message
// contains query, case-insensitively, most recently used first.
func (s *Store) SearchConversations(ctx context.Context, query string) ([]ConversationMeta, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListConversations(ctx)
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.queryMetas(ctx, `
		WHERE lower(c.title) LIKE ? ESCAPE '\'
		   OR EXISTS (SELECT 1 FROM messages m2
		              WHERE m2.conversation_id = c.id AND lower(m2.text) LIKE ? ESCAPE '\')`,
		[]any{pattern, pattern})
}

func (s *Store) queryMetas(ctx context.Context, where string, args []any) ([]ConversationMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.last_used,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		       COALESCE((SELECT m.text FROM messages m
		                 WHERE m.conversation_id = c.id AND m.is_user = 1
		                 ORDER BY m.timestamp LIMIT 1), '')
		FROM conversations c `+where+`
		ORDER BY c.last_used DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	metas := make([]ConversationMeta, 0)
	for rows.Next() {
		var meta ConversationMeta
		var created, lastUsed int64
		var first string
		if err := rows.Scan(&meta.ID, &meta.Title, &created, &lastUsed, &meta.MessageCount, &first); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		meta.CreatedAt = time.Unix(0, created)
		meta.LastUsed = time.Unix(0, lastUsed)
		meta.Preview = util.Preview(first, previewWidth)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
