// Package protocol is the envelope format spoken between the pulse process
// and its browser tabs over the UI websocket.
package protocol

import (
	"github.com/goccy/go-json"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Tab -> pulse
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypeVoiceStart  MessageType = "voice_start"
	TypeVoiceInput  MessageType = "voice_input"
	TypeVoiceStop   MessageType = "voice_stop"

	// Pulse -> tab
	TypeHello            MessageType = "hello"
	TypeFeed             MessageType = "feed"
	TypeArtists          MessageType = "artists"
	TypePresence         MessageType = "presence"
	TypeChats            MessageType = "chats"
	TypeNotification     MessageType = "notification"
	TypeVoiceOpen        MessageType = "voice_open"
	TypeVoiceAudio       MessageType = "voice_audio"
	TypeVoiceInterrupted MessageType = "voice_interrupted"
	TypeVoiceClosed      MessageType = "voice_closed"
	TypeError            MessageType = "error"
)

// Topics a tab can subscribe to.
const (
	TopicFeed          = "feed"
	TopicArtists       = "artists"
	TopicPresence      = "presence"
	TopicChats         = "chats"
	TopicNotifications = "notifications"
)

// Envelope wraps all WebSocket messages with a type field.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscribeMessage starts delivery of a topic; the current state is sent
// right away.
type SubscribeMessage struct {
	Topic string `json:"topic"`
}

type UnsubscribeMessage struct {
	Topic string `json:"topic"`
}

// VoiceInputMessage carries one microphone frame, either raw float samples
// or an already encoded PCM16 frame.
type VoiceInputMessage struct {
	Samples  []float32 `json:"samples,omitempty"`
	Data     string    `json:"data,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
}

// HelloMessage is the first message on a connection.
type HelloMessage struct {
	User   *models.User `json:"user,omitempty"`
	Theme  models.Theme `json:"theme"`
	Online []string     `json:"online"`
	Origin string       `json:"origin"` // Bus origin id of this process
}

type FeedMessage struct {
	Posts []models.Post `json:"posts"`
}

type ArtistsMessage struct {
	Artists []models.User `json:"artists"`
}

type PresenceMessage struct {
	Online []string `json:"online"`
}

type ChatsMessage struct {
	Chats []models.Chat `json:"chats"`
}

// VoiceAudioMessage schedules one decoded buffer. StartAt is milliseconds
// on the session's playback clock.
type VoiceAudioMessage struct {
	Samples []float32 `json:"samples"`
	Rate    int       `json:"rate"`
	StartAt float64   `json:"startAt"`
}

type VoiceClosedMessage struct {
	Error string `json:"error,omitempty"`
}

// ErrorMessage is sent when a request from the tab fails.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidMsg   = "invalid_message"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
)

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(msgType MessageType, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: msgType,
		Data: raw,
	}, nil
}

// Encode marshals an envelope of msgType around data.
func Encode(msgType MessageType, data any) ([]byte, error) {
	env, err := NewEnvelope(msgType, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope parses a JSON message into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
