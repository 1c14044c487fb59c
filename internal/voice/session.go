package voice

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 << 20
	sendQueueSize  = 64
)

var ErrSessionClosed = errors.New("voice: session closed")

// SessionConfig addresses the live voice endpoint.
type SessionConfig struct {
	URL               string
	APIKey            string
	Model             string
	VoiceName         string
	SystemInstruction string
	InputRate         int
	Dialer            *websocket.Dialer
}

// Handlers receive session events. Audio, Interrupted and TurnComplete are
// called from the read loop, one at a time. Closed is called once.
type Handlers struct {
	Open         func()
	Audio        func(samples []float32)
	Interrupted  func()
	TurnComplete func()
	Closed       func(err error)
}

// Wire messages of the live protocol.
type (
	setupMessage struct {
		Setup setup `json:"setup"`
	}
	setup struct {
		Model             string           `json:"model"`
		GenerationConfig  generationConfig `json:"generationConfig"`
		SystemInstruction *content         `json:"systemInstruction,omitempty"`
	}
	generationConfig struct {
		ResponseModalities []string     `json:"responseModalities"`
		SpeechConfig       speechConfig `json:"speechConfig"`
	}
	speechConfig struct {
		VoiceConfig struct {
			PrebuiltVoiceConfig struct {
				VoiceName string `json:"voiceName"`
			} `json:"prebuiltVoiceConfig"`
		} `json:"voiceConfig"`
	}
	content struct {
		Parts []part `json:"parts"`
	}
	part struct {
		Text       string `json:"text,omitempty"`
		InlineData *Frame `json:"inlineData,omitempty"`
	}

	realtimeInputMessage struct {
		RealtimeInput realtimeInput `json:"realtimeInput"`
	}
	realtimeInput struct {
		MediaChunks []Frame `json:"mediaChunks"`
	}

	serverMessage struct {
		SetupComplete *struct{}      `json:"setupComplete,omitempty"`
		ServerContent *serverContent `json:"serverContent,omitempty"`
		GoAway        *struct{}      `json:"goAway,omitempty"`
	}
	serverContent struct {
		ModelTurn    *content `json:"modelTurn,omitempty"`
		Interrupted  bool     `json:"interrupted,omitempty"`
		TurnComplete bool     `json:"turnComplete,omitempty"`
	}
)

// Session is one open connection to the live voice collaborator.
type Session struct {
	conn     *websocket.Conn
	cfg      SessionConfig
	handlers Handlers
	log      zerolog.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
}

// Dial connects, sends the setup message and starts the pumps.
func Dial(ctx context.Context, cfg SessionConfig, h Handlers) (*Session, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("voice: parse live url: %w", err)
	}
	if cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = InputRate
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("voice: connect to %s: %w", u.Host, err)
	}

	s := &Session{
		conn:     conn,
		cfg:      cfg,
		handlers: h,
		log:      logging.Component("voice").With().Str("model", cfg.Model).Logger(),
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}

	if err := s.writeSetup(); err != nil {
		conn.Close()
		return nil, err
	}

	go s.writePump()
	go s.readPump()
	return s, nil
}

func (s *Session) writeSetup() error {
	msg := setupMessage{Setup: setup{
		Model: s.cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}}
	msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = s.cfg.VoiceName
	if s.cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: s.cfg.SystemInstruction}}}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("voice: encode setup: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("voice: send setup: %w", err)
	}
	return nil
}

// SendAudio encodes microphone samples and queues them.
func (s *Session) SendAudio(samples []float32) error {
	return s.SendFrame(EncodeFrameAt(samples, s.cfg.InputRate))
}

// SendFrame queues an already encoded frame.
func (s *Session) SendFrame(f Frame) error {
	data, err := json.Marshal(realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: []Frame{f}},
	})
	if err != nil {
		return fmt.Errorf("voice: encode frame: %w", err)
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}

// Err is the reason the session ended, nil for a normal close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = err
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.conn.Close()
		if s.handlers.Closed != nil {
			s.handlers.Closed(err)
		}
	})
}

func (s *Session) readPump() {
	var exitErr error
	defer func() { s.shutdown(exitErr) }()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Warn().Err(err).Msg("live session read failed")
					exitErr = err
				}
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(data)
	}
}

func (s *Session) handleMessage(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug().Err(err).Msg("unparseable live message")
		return
	}

	if msg.SetupComplete != nil && s.handlers.Open != nil {
		s.handlers.Open()
	}
	if msg.GoAway != nil {
		s.log.Info().Msg("live session asked to go away")
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.Interrupted && s.handlers.Interrupted != nil {
		s.handlers.Interrupted()
	}
	if sc.ModelTurn != nil && s.handlers.Audio != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			samples, err := DecodeFrame(p.InlineData.Data)
			if err != nil {
				s.log.Debug().Err(err).Msg("dropping bad audio part")
				continue
			}
			s.handlers.Audio(samples)
		}
	}
	if sc.TurnComplete && s.handlers.TurnComplete != nil {
		s.handlers.TurnComplete()
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.shutdown(fmt.Errorf("voice: write: %w", err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown(fmt.Errorf("voice: ping: %w", err))
				return
			}

		case <-s.done:
			return
		}
	}
}
