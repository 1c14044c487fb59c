package server

import (
	"context"
	"time"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/protocol"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/voice"
)

const voiceDialTimeout = 15 * time.Second

// voiceBridge is one tab's live voice session. Decoded model audio is
// scheduled back to back on the tab's playback clock.
type voiceBridge struct {
	session *voice.Session
	sched   *voice.Scheduler
}

func (b *voiceBridge) Close() {
	if b.session != nil {
		_ = b.session.Close()
	}
}

// tabPlayer plays by telling the tab when to start each buffer. The tab
// drops its queue on voice_interrupted, so individual voices need no stop.
type tabPlayer struct {
	client *Client
}

type tabVoice struct{}

func (tabVoice) Stop() error { return nil }

func (p tabPlayer) Play(samples []float32, rate int, at time.Duration) (voice.Voice, error) {
	err := p.client.SendEnvelope(protocol.TypeVoiceAudio, protocol.VoiceAudioMessage{
		Samples: samples,
		Rate:    rate,
		StartAt: float64(at) / float64(time.Millisecond),
	})
	return tabVoice{}, err
}

func (s *Server) handleVoiceStart(c *Client) {
	if c.User() == nil {
		c.SendError(protocol.ErrCodeUnauthorized, "Sign in to talk to the muse")
		return
	}
	if s.cfg.Voice.URL == "" {
		c.SendError(protocol.ErrCodeUnavailable, "Voice is not configured on this device")
		return
	}
	c.mu.RLock()
	running := c.voice != nil
	c.mu.RUnlock()
	if running {
		return
	}

	bridge := &voiceBridge{
		sched: voice.NewScheduler(tabPlayer{client: c}, voice.SinceClock(time.Now()), voice.OutputRate),
	}
	handlers := voice.Handlers{
		Open: func() {
			_ = c.SendEnvelope(protocol.TypeVoiceOpen, struct{}{})
		},
		Audio: func(samples []float32) {
			if _, err := bridge.sched.Schedule(samples); err != nil {
				s.log.Debug().Err(err).Str("user", c.Alias()).Msg("failed to schedule voice audio")
			}
		},
		Interrupted: func() {
			bridge.sched.Interrupt()
			_ = c.SendEnvelope(protocol.TypeVoiceInterrupted, struct{}{})
		},
		Closed: func(err error) {
			c.mu.Lock()
			if c.voice == bridge {
				c.voice = nil
			}
			c.mu.Unlock()
			msg := protocol.VoiceClosedMessage{}
			if err != nil {
				msg.Error = err.Error()
			}
			_ = c.SendEnvelope(protocol.TypeVoiceClosed, msg)
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), voiceDialTimeout)
	defer cancel()
	session, err := voice.Dial(ctx, s.cfg.Voice, handlers)
	if err != nil {
		s.log.Warn().Err(err).Str("user", c.Alias()).Msg("voice session failed to start")
		c.SendError(protocol.ErrCodeUnavailable, "The voice muse is unreachable right now")
		return
	}

	bridge.session = session
	if !c.installVoice(bridge) {
		s.log.Debug().Str("user", c.Alias()).Msg("voice session ended before it was installed")
		return
	}
	s.log.Info().Str("user", c.Alias()).Msg("voice session started")
}

// installVoice makes b the tab's voice bridge unless its session already
// ended or another bridge got there first. A refused bridge is closed.
func (c *Client) installVoice(b *voiceBridge) bool {
	c.mu.Lock()
	select {
	case <-b.session.Done():
		c.mu.Unlock()
		return false
	default:
	}
	if c.voice != nil {
		c.mu.Unlock()
		b.Close()
		return false
	}
	c.voice = b
	c.mu.Unlock()
	return true
}

func (s *Server) handleVoiceInput(c *Client, msg protocol.VoiceInputMessage) {
	c.mu.RLock()
	bridge := c.voice
	c.mu.RUnlock()
	if bridge == nil {
		c.SendError(protocol.ErrCodeInvalidMsg, "No voice session")
		return
	}

	var err error
	switch {
	case msg.Data != "":
		mime := msg.MimeType
		if mime == "" {
			mime = voice.MimeType(voice.InputRate)
		}
		err = bridge.session.SendFrame(voice.Frame{Data: msg.Data, MimeType: mime})
	case len(msg.Samples) > 0:
		err = bridge.session.SendAudio(msg.Samples)
	default:
		return
	}
	if err != nil {
		s.log.Debug().Err(err).Str("user", c.Alias()).Msg("dropping voice input")
	}
}

// stopVoice ends the tab's voice session, if any.
func (c *Client) stopVoice() {
	c.mu.Lock()
	bridge := c.voice
	c.voice = nil
	c.mu.Unlock()
	if bridge != nil {
		bridge.Close()
	}
}
