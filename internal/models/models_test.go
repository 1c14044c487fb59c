package models

import (
	"testing"
	"time"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowsIsCaseInsensitive(t *testing.T) {
	u := User{Name: "bob", Following: []string{"Ada"}}
	assert.True(t, u.Follows("ada"))
	assert.False(t, u.Follows("carol"))
}

func TestAddAlias(t *testing.T) {
	list := AddAlias(nil, "Ada")
	list = AddAlias(list, "ada")
	assert.Equal(t, []string{"Ada"}, list)
}

func TestAIParticipant(t *testing.T) {
	c := Chat{Participants: []User{{ID: "u-1", Name: "bob"}, {ID: "ai-1", Name: "Lumi_AI"}}}
	ai, ok := c.AIParticipant()
	require.True(t, ok)
	assert.Equal(t, "Lumi_AI", ai.Name)
}

func TestValidatePost(t *testing.T) {
	p := Post{ID: "p-1", Type: PostPhoto, Visibility: VisibilityPublic, Rating: 5}
	require.NoError(t, Validate(p))

	p.Rating = 9
	p.Type = "hologram"
	err := Validate(p)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "rating must be at most 5")
	assert.Contains(t, err.Error(), "type must be one of")
}

func TestDraftTargetNeedsDeadline(t *testing.T) {
	d := Draft{Type: PostTarget}
	d.Normalize()
	assert.Equal(t, VisibilityPublic, d.Visibility)
	require.Error(t, Validate(d))

	deadline := time.Now().Add(48 * time.Hour)
	d.Deadline = &deadline
	require.NoError(t, Validate(d))
}

func TestThemeValid(t *testing.T) {
	assert.True(t, ThemeCyber.Valid())
	assert.False(t, Theme("neon").Valid())
}
