package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pulse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var ada = models.User{ID: "u-ada", Name: "Ada", Role: "Global Creator", JoinedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}

func TestSessionRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	got, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SetSession(ctx, ada))
	got, err = s.Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.Name)

	require.NoError(t, s.ClearSession(ctx))
	got, err = s.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestThemeDefaultsAndValidates(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	th, err := s.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ThemeSanctuary, th)

	require.NoError(t, s.SetTheme(ctx, models.ThemeCyber))
	th, err = s.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ThemeCyber, th)

	assert.Error(t, s.SetTheme(ctx, "neon"))
}

func TestKeysArePrefixed(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveChats(ctx, "u-ada", nil))

	raw, ok, err := s.Get(ctx, "_v6_chats_u-ada")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", raw)
}

func TestExportImport(t *testing.T) {
	src := openStore(t)
	ctx := context.Background()
	chats := []models.Chat{{ID: "ai-muse-1", Messages: []models.Message{{ID: "m1", Text: "hi"}}}}

	require.NoError(t, src.SetSession(ctx, ada))
	require.NoError(t, src.SetTheme(ctx, models.ThemeMidnight))
	require.NoError(t, src.SaveChats(ctx, ada.ID, chats))

	data, err := src.Export(ctx)
	require.NoError(t, err)

	dst := openStore(t)
	profile, err := dst.Import(ctx, data)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Ada", profile.Name)

	th, err := dst.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ThemeMidnight, th)

	got, err := dst.Chats(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, chats, got)
}

func TestImportAcceptsLegacySessionKey(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	data, err := json.Marshal(map[string]any{"session": ada, "theme": "paper", "chats": []any{}})
	require.NoError(t, err)

	profile, err := s.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, "u-ada", profile.ID)

	got, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
}

func TestCorruptImportChangesNothing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetTheme(ctx, models.ThemeCyber))

	for _, data := range []string{
		`{not json`,
		`{}`,
		`{"theme":"neon","profile":{"id":"u-x","name":"X"}}`,
		`{"chats":[]}`,
		`{"profile":{"name":"X"}}`,
	} {
		_, err := s.Import(ctx, []byte(data))
		require.Error(t, err, data)
		assert.ErrorIs(t, err, apperrors.ErrCorruptBackup, data)
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	}

	th, err := s.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ThemeCyber, th)
	got, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}
