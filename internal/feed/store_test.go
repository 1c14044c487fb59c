package feed

import (
	"testing"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/graph"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyIsIdempotent(t *testing.T) {
	s := NewKeyedRecordStore("posts", DecodePost)
	rec := graph.Record{"id": "p1", "caption": "sunset", "createdAt": "2024-05-01T10:00:00Z"}

	assert.True(t, s.Apply("p1", rec))
	once := s.Snapshot()
	assert.False(t, s.Apply("p1", rec), "second identical apply reports no change")
	assert.Equal(t, once, s.Snapshot())
	assert.Equal(t, 1, s.Len())
}

func TestApplyMergesPerField(t *testing.T) {
	s := NewKeyedRecordStore("posts", DecodePost)
	s.Apply("p1", graph.Record{"id": "p1", "caption": "sunset", "rating": 5})
	s.Apply("p1", graph.Record{"rating": 2})
	s.Apply("p2", graph.Record{"id": "p2", "caption": "dawn"})

	p1, ok := s.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "sunset", p1.Caption)
	assert.Equal(t, 2, p1.Rating)

	p2, _ := s.Get("p2")
	assert.Equal(t, "dawn", p2.Caption, "other keys untouched")
}

func TestMalformedCommentsDecodeToEmpty(t *testing.T) {
	s := NewKeyedRecordStore("posts", DecodePost)
	require.NotPanics(t, func() {
		s.Apply("p1", graph.Record{
			"id":       "p1",
			"comments": `[{"id":"c1",`,
			"author":   "{not json",
			"likedBy":  "nope",
		})
	})
	p, ok := s.Get("p1")
	require.True(t, ok)
	assert.Equal(t, []models.Comment{}, p.Comments)
	assert.Equal(t, []string{}, p.LikedBy)
	assert.Equal(t, models.User{}, p.Author)
}

func TestRecordWithoutIDIsHeldBack(t *testing.T) {
	s := NewKeyedRecordStore("posts", DecodePost)
	assert.False(t, s.Apply("p1", graph.Record{"rating": 3}))
	assert.Equal(t, 0, s.Len())

	assert.True(t, s.Apply("p1", graph.Record{"id": "p1"}))
	p, _ := s.Get("p1")
	assert.Equal(t, 3, p.Rating)
}

func TestDecodeDefaults(t *testing.T) {
	p, ok := DecodePost("p1", graph.Record{"id": "p1", "rating": 42, "likes": -3, "visibility": "secret"}, func(string, error) {})
	require.True(t, ok)
	assert.Equal(t, 5, p.Rating)
	assert.Equal(t, 0, p.Likes)
	assert.Equal(t, models.VisibilityPublic, p.Visibility)
	assert.Equal(t, models.PostPhoto, p.Type)
	assert.Nil(t, p.Deadline)
}
