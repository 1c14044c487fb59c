package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/chat"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/feed"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/protocol"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/realtime"
)

const hubSubscriberID = "ui-hub"

// Activity is the bus payload of post, like and follow events.
type Activity struct {
	Actor   string `json:"actor"`
	PostID  string `json:"postId,omitempty"`
	Target  string `json:"target,omitempty"` // Alias the event is about
	Caption string `json:"caption,omitempty"`
}

func (s *Server) announce(msgType string, a Activity) {
	if err := s.Bus.Send(msgType, a); err != nil {
		s.log.Warn().Err(err).Str("type", msgType).Msg("failed to announce activity")
	}
}

// Attach starts forwarding live state to subscribed tabs: feed and artist
// snapshots, presence changes, and bus events as notifications. The
// returned func detaches everything.
func (s *Server) Attach() (detach func()) {
	offFeed := s.Posts.Feed().Subscribe(hubSubscriberID, func(posts []models.Post) {
		for _, c := range s.Hub.Subscribers(protocol.TopicFeed) {
			s.sendFeed(c, posts)
		}
	})
	offArtists := s.Artists.Feed().Subscribe(hubSubscriberID, func(users []models.User) {
		s.Hub.Publish(protocol.TopicArtists, protocol.TypeArtists, protocol.ArtistsMessage{Artists: nonNil(users)})
	})
	s.Presence.OnChange(func(online []string) {
		s.Hub.Publish(protocol.TopicPresence, protocol.TypePresence, protocol.PresenceMessage{Online: nonNil(online)})
	})
	offBus := s.Bus.Subscribe(s.onBusMessage)

	return func() {
		offFeed()
		offArtists()
		offBus()
		s.Presence.OnChange(nil)
	}
}

// Serve keeps the forwarding attached for the lifetime of ctx. It
// implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	detach := s.Attach()
	defer detach()
	<-ctx.Done()
	return ctx.Err()
}

func (s *Server) String() string { return "ui-forwarder" }

func (s *Server) sendFeed(c *Client, posts []models.Post) {
	var viewer models.User
	if u := c.User(); u != nil {
		viewer = *u
	}
	_ = c.SendEnvelope(protocol.TypeFeed, protocol.FeedMessage{Posts: nonNil(feed.FeedFor(posts, viewer))})
}

func (s *Server) sendChats(c *Client) {
	u := c.User()
	if u == nil {
		c.SendError(protocol.ErrCodeUnauthorized, "sign in to see chats")
		return
	}
	chats, err := s.Chats.List(context.Background(), u.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", u.Name).Msg("failed to load chats")
		c.SendError(protocol.ErrCodeInternal, "could not load chats")
		return
	}
	_ = c.SendEnvelope(protocol.TypeChats, protocol.ChatsMessage{Chats: chats})
}

// sendTopicState hands a new subscriber the current state of topic.
func (s *Server) sendTopicState(c *Client, topic string) {
	switch topic {
	case protocol.TopicFeed:
		s.sendFeed(c, s.Posts.All())
	case protocol.TopicArtists:
		_ = c.SendEnvelope(protocol.TypeArtists, protocol.ArtistsMessage{Artists: nonNil(s.Artists.All())})
	case protocol.TopicPresence:
		_ = c.SendEnvelope(protocol.TypePresence, protocol.PresenceMessage{Online: nonNil(s.Presence.Online())})
	case protocol.TopicChats:
		s.sendChats(c)
	}
}

func (s *Server) onBusMessage(msg realtime.Message) {
	switch msg.Type {
	case realtime.TypePost, realtime.TypeLike, realtime.TypeFollow:
		var a Activity
		if err := msg.Decode(&a); err != nil {
			s.log.Debug().Err(err).Str("type", msg.Type).Msg("dropping undecodable activity")
			return
		}
		s.notifyActivity(msg, a)
	case realtime.TypeChat:
		var ev chat.Event
		if err := msg.Decode(&ev); err != nil {
			s.log.Debug().Err(err).Msg("dropping undecodable chat event")
			return
		}
		s.notifyChat(msg, ev)
	}
}

func newNotification(t models.NotificationType, who, text string, ts int64) models.Notification {
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return models.Notification{
		ID:        "n-" + uuid.NewString()[:8],
		Text:      text,
		Type:      t,
		UserName:  who,
		Timestamp: ts,
	}
}

// notifyActivity toasts the tabs an event concerns. New posts go to every
// other user, likes and follows only to their target.
func (s *Server) notifyActivity(msg realtime.Message, a Activity) {
	var n models.Notification
	switch msg.Type {
	case realtime.TypePost:
		n = newNotification(models.NotifyPost, a.Actor, "shared a new creation", msg.Timestamp)
	case realtime.TypeLike:
		n = newNotification(models.NotifyLike, a.Actor, "liked your creation", msg.Timestamp)
	case realtime.TypeFollow:
		n = newNotification(models.NotifyFollow, a.Actor, "started following you", msg.Timestamp)
	}
	for _, c := range s.Hub.Subscribers(protocol.TopicNotifications) {
		alias := models.AliasKey(c.Alias())
		if alias == "" || alias == models.AliasKey(a.Actor) {
			continue
		}
		if a.Target != "" && alias != models.AliasKey(a.Target) {
			continue
		}
		_ = c.SendEnvelope(protocol.TypeNotification, n)
	}
}

// notifyChat refreshes the owner's chat list and toasts messages the owner
// did not send themselves.
func (s *Server) notifyChat(msg realtime.Message, ev chat.Event) {
	for _, c := range s.Hub.Subscribers(protocol.TopicChats) {
		if u := c.User(); u != nil && u.ID == ev.UserID {
			s.sendChats(c)
		}
	}
	if ev.Message.SenderID == ev.UserID {
		return
	}
	n := newNotification(models.NotifyChat, ev.Message.SenderName, fmt.Sprintf("sent you a message: %s", preview(ev.Message.Text)), msg.Timestamp)
	for _, c := range s.Hub.Subscribers(protocol.TopicNotifications) {
		if u := c.User(); u != nil && u.ID == ev.UserID {
			_ = c.SendEnvelope(protocol.TypeNotification, n)
		}
	}
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= 60 {
		return text
	}
	return string(r[:60]) + "…"
}
