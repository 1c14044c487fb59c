package db

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

// Backup is the exported workspace file.
type Backup struct {
	Profile *models.User  `json:"profile"`
	Theme   models.Theme  `json:"theme"`
	Chats   []models.Chat `json:"chats"`
}

// Export snapshots the session, theme and the session user's chats.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	profile, err := s.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s.ExportFor(ctx, profile)
}

// ExportFor snapshots profile with its chats and the device theme.
func (s *Store) ExportFor(ctx context.Context, profile *models.User) ([]byte, error) {
	theme, err := s.Theme(ctx)
	if err != nil {
		return nil, err
	}
	b := Backup{Profile: profile, Theme: theme, Chats: []models.Chat{}}
	if profile != nil {
		chats, err := s.Chats(ctx, profile.ID)
		if err != nil {
			return nil, err
		}
		if chats != nil {
			b.Chats = chats
		}
	}
	return json.MarshalIndent(b, "", "  ")
}

// ParseBackup validates a backup file. Files written before the rename
// carry the profile under "session".
func ParseBackup(data []byte) (Backup, error) {
	var raw struct {
		Profile *models.User   `json:"profile"`
		Session *models.User   `json:"session"`
		Theme   models.Theme   `json:"theme"`
		Chats   *[]models.Chat `json:"chats"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Backup{}, fmt.Errorf("%w: %v", apperrors.ErrCorruptBackup, err)
	}

	b := Backup{Profile: raw.Profile, Theme: raw.Theme}
	if b.Profile == nil {
		b.Profile = raw.Session
	}
	if raw.Chats != nil {
		b.Chats = *raw.Chats
	}

	switch {
	case b.Profile == nil && b.Theme == "" && b.Chats == nil:
		return Backup{}, apperrors.ErrCorruptBackup
	case b.Profile != nil && (b.Profile.ID == "" || b.Profile.Name == ""):
		return Backup{}, apperrors.ErrCorruptBackup
	case b.Theme != "" && !b.Theme.Valid():
		return Backup{}, apperrors.ErrCorruptBackup
	case b.Chats != nil && b.Profile == nil:
		return Backup{}, apperrors.ErrCorruptBackup
	}
	return b, nil
}

// Import parses and applies a backup. It returns the restored profile, if any.
func (s *Store) Import(ctx context.Context, data []byte) (*models.User, error) {
	b, err := ParseBackup(data)
	if err != nil {
		return nil, err
	}
	if err := s.ApplyBackup(ctx, b); err != nil {
		return nil, err
	}
	return b.Profile, nil
}

// ApplyBackup writes a parsed backup in one transaction: either every
// present part is written or nothing is.
func (s *Store) ApplyBackup(ctx context.Context, b Backup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	if b.Profile != nil {
		if err := setJSON(ctx, tx, keySession, b.Profile); err != nil {
			return err
		}
	}
	if b.Theme != "" {
		if err := set(ctx, tx, keyTheme, string(b.Theme)); err != nil {
			return err
		}
	}
	if b.Chats != nil {
		if err := setJSON(ctx, tx, chatsKey(b.Profile.ID), b.Chats); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
