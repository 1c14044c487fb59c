// Package db is the device-local persistence: a small sqlite key/value
// table for the session, the theme and each user's chats.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

// Keys carry a version prefix so a format change can start clean.
const (
	keyPrefix   = "_v6_"
	keySession  = keyPrefix + "session"
	keyTheme    = keyPrefix + "theme"
	chatsPrefix = keyPrefix + "chats_"
)

func chatsKey(userID string) string { return chatsPrefix + userID }

// Store handles local database operations.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps read-modify-write of a key consistent.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get retrieves a raw value. ok is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a raw value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return set(ctx, s.db, key, value)
}

func set(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func setJSON(ctx context.Context, ex execer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return set(ctx, ex, key, string(data))
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Session returns the signed-in profile, or nil.
func (s *Store) Session(ctx context.Context) (*models.User, error) {
	var u models.User
	ok, err := s.getJSON(ctx, keySession, &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

func (s *Store) SetSession(ctx context.Context, u models.User) error {
	return setJSON(ctx, s.db, keySession, u)
}

func (s *Store) ClearSession(ctx context.Context) error {
	return s.Delete(ctx, keySession)
}

// Theme returns the stored theme, or the default one.
func (s *Store) Theme(ctx context.Context) (models.Theme, error) {
	raw, ok, err := s.Get(ctx, keyTheme)
	if err != nil {
		return models.DefaultTheme, err
	}
	t := models.Theme(raw)
	if !ok || !t.Valid() {
		return models.DefaultTheme, nil
	}
	return t, nil
}

func (s *Store) SetTheme(ctx context.Context, t models.Theme) error {
	if !t.Valid() {
		return apperrors.InvalidArg(fmt.Sprintf("unknown theme %q", t))
	}
	return set(ctx, s.db, keyTheme, string(t))
}

// Chats returns userID's chats, newest first as stored.
func (s *Store) Chats(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	if _, err := s.getJSON(ctx, chatsKey(userID), &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *Store) SaveChats(ctx context.Context, userID string, chats []models.Chat) error {
	if chats == nil {
		chats = []models.Chat{}
	}
	return setJSON(ctx, s.db, chatsKey(userID), chats)
}
