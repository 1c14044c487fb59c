// Package chat keeps each user's device-local conversations and lets the
// AI personas answer in them.
package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/muse"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/realtime"
)

const (
	DefaultChatID    = "ai-muse-1"
	defaultLastLine  = "Ready to manifest."
	groupStartedLine = "Group started."
	maxMessageLength = 4000
)

// Store persists a user's chats as one list.
type Store interface {
	Chats(ctx context.Context, userID string) ([]models.Chat, error)
	SaveChats(ctx context.Context, userID string, chats []models.Chat) error
}

// Responder writes a persona's answer to a message.
type Responder interface {
	Reply(ctx context.Context, persona models.User, text string) (string, error)
}

// Publisher announces chat changes to the other tabs.
type Publisher interface {
	Send(msgType string, payload any) error
}

// Event is the bus payload of a new chat message.
type Event struct {
	UserID  string         `json:"userId"`
	ChatID  string         `json:"chatId"`
	Message models.Message `json:"message"`
}

// Service serializes read-modify-write of each user's chat list.
type Service struct {
	store Store
	muse  Responder
	bus   Publisher
	now   func() time.Time
	log   zerolog.Logger

	mu sync.Mutex
}

// New builds the service. bus may be nil.
func New(store Store, responder Responder, bus Publisher) *Service {
	return &Service{
		store: store,
		muse:  responder,
		bus:   bus,
		now:   time.Now,
		log:   logging.Component("chat"),
	}
}

func newID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), uuid.NewString()[:8])
}

func (s *Service) defaultChats() []models.Chat {
	now := s.now()
	lumi, _ := muse.Persona("ai-1", now)
	return []models.Chat{{
		ID:           DefaultChatID,
		Participants: []models.User{lumi},
		Messages: []models.Message{{
			ID:         "m1",
			SenderID:   lumi.ID,
			SenderName: lumi.Name,
			Text:       muse.Welcome,
			Timestamp:  now.UnixMilli(),
		}},
		LastMessage: defaultLastLine,
	}}
}

// List returns userID's chats, seeding the default muse chat the first time.
func (s *Service) List(ctx context.Context, userID string) ([]models.Chat, error) {
	if userID == "" {
		return nil, apperrors.ErrNotSignedIn
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, userID)
}

func (s *Service) loadLocked(ctx context.Context, userID string) ([]models.Chat, error) {
	chats, err := s.store.Chats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load chats of %s: %w", userID, err)
	}
	if len(chats) > 0 {
		return chats, nil
	}
	chats = s.defaultChats()
	if err := s.store.SaveChats(ctx, userID, chats); err != nil {
		return nil, fmt.Errorf("seed chats of %s: %w", userID, err)
	}
	return chats, nil
}

// Get returns one chat.
func (s *Service) Get(ctx context.Context, userID, chatID string) (models.Chat, error) {
	chats, err := s.List(ctx, userID)
	if err != nil {
		return models.Chat{}, err
	}
	i := slices.IndexFunc(chats, func(c models.Chat) bool { return c.ID == chatID })
	if i < 0 {
		return models.Chat{}, apperrors.ErrChatNotFound
	}
	return chats[i], nil
}

// appendLocked adds msg to chatID and updates its last line.
func (s *Service) appendLocked(ctx context.Context, userID, chatID string, msg models.Message) (models.Chat, error) {
	chats, err := s.loadLocked(ctx, userID)
	if err != nil {
		return models.Chat{}, err
	}
	i := slices.IndexFunc(chats, func(c models.Chat) bool { return c.ID == chatID })
	if i < 0 {
		return models.Chat{}, apperrors.ErrChatNotFound
	}
	chats[i].Messages = append(chats[i].Messages, msg)
	chats[i].LastMessage = msg.Text
	if err := s.store.SaveChats(ctx, userID, chats); err != nil {
		return models.Chat{}, fmt.Errorf("save chats of %s: %w", userID, err)
	}
	return chats[i], nil
}

func (s *Service) publish(userID, chatID string, msg models.Message) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Send(realtime.TypeChat, Event{UserID: userID, ChatID: chatID, Message: msg}); err != nil {
		s.log.Debug().Err(err).Msg("chat broadcast failed")
	}
}

// SendResult is what Send produced. Reply is nil when no persona answered.
type SendResult struct {
	Chat    models.Chat     `json:"chat"`
	Message models.Message  `json:"message"`
	Reply   *models.Message `json:"reply,omitempty"`
}

// Send appends the user's message and, when an AI persona takes part,
// exactly one reply from it. The user's message is kept even if the reply
// fails.
func (s *Service) Send(ctx context.Context, sender models.User, chatID, text string) (SendResult, error) {
	text = strings.TrimSpace(text)
	switch {
	case sender.ID == "":
		return SendResult{}, apperrors.ErrNotSignedIn
	case text == "":
		return SendResult{}, apperrors.InvalidArg("message is empty")
	case len(text) > maxMessageLength:
		return SendResult{}, apperrors.InvalidArg("message is too long")
	}

	now := s.now()
	msg := models.Message{
		ID:         newID("msg", now),
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Text:       text,
		Timestamp:  now.UnixMilli(),
	}

	s.mu.Lock()
	chat, err := s.appendLocked(ctx, sender.ID, chatID, msg)
	s.mu.Unlock()
	if err != nil {
		return SendResult{}, err
	}
	s.publish(sender.ID, chatID, msg)

	res := SendResult{Chat: chat, Message: msg}
	persona, ok := chat.AIParticipant()
	if !ok || s.muse == nil {
		return res, nil
	}

	answer, err := s.muse.Reply(ctx, persona, text)
	if err != nil {
		return res, err
	}
	now = s.now()
	reply := models.Message{
		ID:         newID("ai", now),
		SenderID:   persona.ID,
		SenderName: persona.Name,
		Text:       answer,
		Timestamp:  now.UnixMilli(),
	}

	s.mu.Lock()
	chat, err = s.appendLocked(ctx, sender.ID, chatID, reply)
	s.mu.Unlock()
	if err != nil {
		return res, err
	}
	s.publish(sender.ID, chatID, reply)

	res.Chat = chat
	res.Reply = &reply
	return res, nil
}

// CreateGroup starts a group chat at the top of owner's list.
func (s *Service) CreateGroup(ctx context.Context, ownerID, name string, participants []models.User) (models.Chat, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" {
		return models.Chat{}, apperrors.ErrNotSignedIn
	}
	if name == "" {
		return models.Chat{}, apperrors.InvalidArg("group name is required")
	}

	group := models.Chat{
		ID:           newID("group", s.now()),
		Participants: dedupe(participants),
		Messages:     []models.Message{},
		IsGroup:      true,
		GroupName:    name,
		LastMessage:  groupStartedLine,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	chats, err := s.loadLocked(ctx, ownerID)
	if err != nil {
		return models.Chat{}, err
	}
	chats = append([]models.Chat{group}, chats...)
	if err := s.store.SaveChats(ctx, ownerID, chats); err != nil {
		return models.Chat{}, fmt.Errorf("save chats of %s: %w", ownerID, err)
	}
	return group, nil
}

// AddParticipant adds p to a chat of userID. Adding someone twice is a no-op.
func (s *Service) AddParticipant(ctx context.Context, userID, chatID string, p models.User) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, err := s.loadLocked(ctx, userID)
	if err != nil {
		return models.Chat{}, err
	}
	i := slices.IndexFunc(chats, func(c models.Chat) bool { return c.ID == chatID })
	if i < 0 {
		return models.Chat{}, apperrors.ErrChatNotFound
	}
	if slices.ContainsFunc(chats[i].Participants, func(u models.User) bool { return u.ID == p.ID }) {
		return chats[i], nil
	}
	chats[i].Participants = append(chats[i].Participants, p)
	if err := s.store.SaveChats(ctx, userID, chats); err != nil {
		return models.Chat{}, fmt.Errorf("save chats of %s: %w", userID, err)
	}
	return chats[i], nil
}

func dedupe(users []models.User) []models.User {
	out := make([]models.User, 0, len(users))
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u)
	}
	return out
}
