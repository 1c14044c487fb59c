package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/auth"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	// Microphone frames arrive as float arrays, so allow more than chat text.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWebSocket upgrades a tab. Signed-out tabs may connect and watch
// public state; chats and voice need a session.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var user *models.User
	if auth.TokenFromRequest(r) != "" {
		u, err := s.Auth.GetUser(r)
		if err != nil {
			s.log.Debug().Err(err).Msg("websocket auth failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		user = u
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := s.Hub.NewClient(conn, user)
	s.Hub.Register(client)

	s.sendHello(r.Context(), client)

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) sendHello(ctx context.Context, client *Client) {
	theme, err := s.Store.Theme(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read theme")
	}
	_ = client.SendEnvelope(protocol.TypeHello, protocol.HelloMessage{
		User:   client.User(),
		Theme:  theme,
		Online: nonNil(s.Presence.Online()),
		Origin: s.Bus.OriginID(),
	})
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.Hub.Unregister(client)
		_ = client.Conn().Close()
	}()

	conn := client.Conn()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug().Err(err).Str("user", client.Alias()).Msg("websocket read error")
			}
			return
		}
		s.handleMessage(client, message)
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	conn := client.Conn()
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(client *Client, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		client.SendError(protocol.ErrCodeInvalidMsg, "Invalid message format")
		return
	}

	switch env.Type {
	case protocol.TypeSubscribe:
		var msg protocol.SubscribeMessage
		if err := env.Decode(&msg); err != nil {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid subscribe message")
			return
		}
		s.handleSubscribe(client, msg)

	case protocol.TypeUnsubscribe:
		var msg protocol.UnsubscribeMessage
		if err := env.Decode(&msg); err != nil {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid unsubscribe message")
			return
		}
		s.Hub.Unsubscribe(client, msg.Topic)

	case protocol.TypeVoiceStart:
		s.handleVoiceStart(client)

	case protocol.TypeVoiceInput:
		var msg protocol.VoiceInputMessage
		if err := env.Decode(&msg); err != nil {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid voice_input")
			return
		}
		s.handleVoiceInput(client, msg)

	case protocol.TypeVoiceStop:
		client.stopVoice()

	default:
		client.SendError(protocol.ErrCodeInvalidMsg, "Unknown message type")
	}
}

func (s *Server) handleSubscribe(client *Client, msg protocol.SubscribeMessage) {
	switch msg.Topic {
	case protocol.TopicFeed, protocol.TopicArtists, protocol.TopicPresence:
	case protocol.TopicChats, protocol.TopicNotifications:
		if client.User() == nil {
			client.SendError(protocol.ErrCodeUnauthorized, "Sign in to subscribe to "+msg.Topic)
			return
		}
	default:
		client.SendError(protocol.ErrCodeNotFound, "Unknown topic")
		return
	}
	s.Hub.Subscribe(client, msg.Topic)
	s.log.Debug().Str("user", client.Alias()).Str("topic", msg.Topic).Msg("tab subscribed")
}
