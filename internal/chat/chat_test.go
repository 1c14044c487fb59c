package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/realtime"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type memStore struct {
	mu    sync.Mutex
	chats map[string][]models.Chat
}

func newMemStore() *memStore { return &memStore{chats: make(map[string][]models.Chat)} }

func (m *memStore) Chats(ctx context.Context, userID string) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Chat(nil), m.chats[userID]...), nil
}

func (m *memStore) SaveChats(ctx context.Context, userID string, chats []models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[userID] = append([]models.Chat(nil), chats...)
	return nil
}

type countingMuse struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingMuse) Reply(ctx context.Context, persona models.User, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return persona.Name + " hears you", nil
}

var (
	ada = models.User{ID: "u-ada", Name: "Ada"}
	bob = models.User{ID: "u-bob", Name: "Bob"}
)

func newService(m Responder) (*Service, *memStore) {
	store := newMemStore()
	s := New(store, m, nil)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return s, store
}

func TestListSeedsDefaultMuseChat(t *testing.T) {
	s, store := newService(&countingMuse{})

	chats, err := s.List(context.Background(), ada.ID)
	require.NoError(t, err)
	require.Len(t, chats, 1)

	c := chats[0]
	assert.Equal(t, DefaultChatID, c.ID)
	assert.Equal(t, "Ready to manifest.", c.LastMessage)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "Lumi_AI", c.Messages[0].SenderName)
	assert.Len(t, store.chats[ada.ID], 1)

	again, err := s.List(context.Background(), ada.ID)
	require.NoError(t, err)
	assert.Equal(t, chats, again)
}

func TestExactlyOneReplyPerMessage(t *testing.T) {
	m := &countingMuse{}
	s, _ := newService(m)
	ctx := context.Background()

	for i := range 5 {
		res, err := s.Send(ctx, ada, DefaultChatID, "idea")
		require.NoError(t, err)
		require.NotNil(t, res.Reply)
		assert.Equal(t, "ai-1", res.Reply.SenderID)
		assert.Equal(t, i+1, m.calls)
	}

	c, err := s.Get(ctx, ada.ID, DefaultChatID)
	require.NoError(t, err)
	// Welcome plus five exchanges.
	require.Len(t, c.Messages, 11)
	for i := 1; i < len(c.Messages); i += 2 {
		assert.Equal(t, ada.ID, c.Messages[i].SenderID)
		assert.Equal(t, "ai-1", c.Messages[i+1].SenderID)
	}
	assert.Equal(t, "Lumi_AI hears you", c.LastMessage)
}

func TestHumanGroupGetsNoReply(t *testing.T) {
	m := &countingMuse{}
	s, _ := newService(m)
	ctx := context.Background()

	g, err := s.CreateGroup(ctx, ada.ID, "Zine crew", []models.User{bob, bob})
	require.NoError(t, err)
	assert.True(t, g.IsGroup)
	assert.Equal(t, "Group started.", g.LastMessage)
	assert.Len(t, g.Participants, 1)

	res, err := s.Send(ctx, ada, g.ID, "draft is up")
	require.NoError(t, err)
	assert.Nil(t, res.Reply)
	assert.Zero(t, m.calls)
	assert.Equal(t, "draft is up", res.Chat.LastMessage)

	chats, err := s.List(ctx, ada.ID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, g.ID, chats[0].ID, "new groups go first")
}

func TestAddParticipant(t *testing.T) {
	m := &countingMuse{}
	s, _ := newService(m)
	ctx := context.Background()

	g, err := s.CreateGroup(ctx, ada.ID, "Crew", []models.User{bob})
	require.NoError(t, err)

	ink := models.User{ID: "ai-2", Name: "Ink_Drift"}
	c, err := s.AddParticipant(ctx, ada.ID, g.ID, ink)
	require.NoError(t, err)
	assert.Len(t, c.Participants, 2)

	c, err = s.AddParticipant(ctx, ada.ID, g.ID, ink)
	require.NoError(t, err)
	assert.Len(t, c.Participants, 2)

	// With a persona in the group, it answers.
	res, err := s.Send(ctx, ada, g.ID, "chorus?")
	require.NoError(t, err)
	require.NotNil(t, res.Reply)
	assert.Equal(t, "Ink_Drift", res.Reply.SenderName)

	_, err = s.AddParticipant(ctx, ada.ID, "nope", ink)
	assert.ErrorIs(t, err, apperrors.ErrChatNotFound)
}

func TestSendValidation(t *testing.T) {
	s, _ := newService(&countingMuse{})
	ctx := context.Background()

	_, err := s.Send(ctx, ada, DefaultChatID, "   ")
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	_, err = s.Send(ctx, models.User{}, DefaultChatID, "hi")
	assert.ErrorIs(t, err, apperrors.ErrNotSignedIn)

	_, err = s.Send(ctx, ada, "missing", "hi")
	assert.ErrorIs(t, err, apperrors.ErrChatNotFound)
}

func TestFailedReplyKeepsUserMessage(t *testing.T) {
	s, _ := newService(&countingMuse{err: errors.New("offline")})
	ctx := context.Background()

	res, err := s.Send(ctx, ada, DefaultChatID, "hello?")
	require.Error(t, err)
	assert.Nil(t, res.Reply)

	c, err := s.Get(ctx, ada.ID, DefaultChatID)
	require.NoError(t, err)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "hello?", c.Messages[1].Text)
}

func TestSendPublishesOnBus(t *testing.T) {
	bus, err := realtime.NewBus(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	var events []Event
	bus.Subscribe(func(m realtime.Message) {
		if m.Type != realtime.TypeChat {
			return
		}
		var ev Event
		require.NoError(t, m.Decode(&ev))
		events = append(events, ev)
	})

	s := New(newMemStore(), &countingMuse{}, bus)
	_, err = s.Send(context.Background(), ada, DefaultChatID, "ping")
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "ping", events[0].Message.Text)
	assert.Equal(t, "ai-1", events[1].Message.SenderID)
}
