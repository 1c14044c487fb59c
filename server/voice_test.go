package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/protocol"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/voice"
)

// fakeLive answers the setup, echoes one audio part per microphone chunk and
// interrupts after the second.
func fakeLive(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	reply := voice.EncodeFrameAt([]float32{0.5, -0.5}, voice.OutputRate)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))

		for chunks := 1; ; chunks++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			audio, _ := json.Marshal(map[string]any{
				"serverContent": map[string]any{
					"modelTurn": map[string]any{"parts": []any{map[string]any{"inlineData": reply}}},
				},
			})
			_ = conn.WriteMessage(websocket.TextMessage, audio)
			if chunks == 2 {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"interrupted":true}}`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVoiceBridgeSchedulesAndInterrupts(t *testing.T) {
	live := fakeLive(t)
	h := newHarness(t, func(c *Config) {
		c.Voice = voice.SessionConfig{URL: "ws" + strings.TrimPrefix(live.URL, "http"), Model: "live"}
	})
	ada := h.signUp(t, "Ada")
	conn := h.dial(t, ada.Token)
	next(t, conn, protocol.TypeHello)

	send(t, conn, protocol.TypeVoiceStart, struct{}{})
	next(t, conn, protocol.TypeVoiceOpen)

	send(t, conn, protocol.TypeVoiceInput, protocol.VoiceInputMessage{Samples: []float32{0.1, 0.2}})
	var first protocol.VoiceAudioMessage
	require.NoError(t, next(t, conn, protocol.TypeVoiceAudio).Decode(&first))
	assert.Equal(t, voice.OutputRate, first.Rate)
	require.Len(t, first.Samples, 2)
	assert.InDelta(t, 0.5, first.Samples[0], 1e-4)
	assert.InDelta(t, -0.5, first.Samples[1], 1e-4)

	send(t, conn, protocol.TypeVoiceInput, protocol.VoiceInputMessage{Data: voice.EncodeFrame([]float32{0.3}).Data})
	var second protocol.VoiceAudioMessage
	require.NoError(t, next(t, conn, protocol.TypeVoiceAudio).Decode(&second))
	// Back to back unless the first buffer had already finished.
	assert.GreaterOrEqual(t, second.StartAt, first.StartAt)
	next(t, conn, protocol.TypeVoiceInterrupted)

	send(t, conn, protocol.TypeVoiceStop, struct{}{})
	var closed protocol.VoiceClosedMessage
	require.NoError(t, next(t, conn, protocol.TypeVoiceClosed).Decode(&closed))
	assert.Empty(t, closed.Error)
}

func TestVoiceNeedsConfigAndSession(t *testing.T) {
	h := newHarness(t, nil)

	anon := h.dial(t, "")
	next(t, anon, protocol.TypeHello)
	send(t, anon, protocol.TypeVoiceStart, struct{}{})
	var e protocol.ErrorMessage
	require.NoError(t, next(t, anon, protocol.TypeError).Decode(&e))
	assert.Equal(t, protocol.ErrCodeUnauthorized, e.Code)

	ada := h.signUp(t, "Ada")
	conn := h.dial(t, ada.Token)
	next(t, conn, protocol.TypeHello)
	send(t, conn, protocol.TypeVoiceStart, struct{}{})
	require.NoError(t, next(t, conn, protocol.TypeError).Decode(&e))
	assert.Equal(t, protocol.ErrCodeUnavailable, e.Code)

	send(t, conn, protocol.TypeVoiceInput, protocol.VoiceInputMessage{Samples: []float32{0.1}})
	require.NoError(t, next(t, conn, protocol.TypeError).Decode(&e))
	assert.Equal(t, protocol.ErrCodeInvalidMsg, e.Code)
}

func TestEndedVoiceSessionIsNotInstalled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	hangUp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	}))
	defer hangUp.Close()

	dial := func(url string) *voice.Session {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		session, err := voice.Dial(ctx, voice.SessionConfig{URL: "ws" + strings.TrimPrefix(url, "http")}, voice.Handlers{})
		require.NoError(t, err)
		return session
	}

	c := NewHub().NewClient(nil, &models.User{ID: "u-ada", Name: "Ada"})

	ended := dial(hangUp.URL)
	select {
	case <-ended.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	assert.False(t, c.installVoice(&voiceBridge{session: ended}))
	assert.Nil(t, c.voice)

	live := fakeLive(t)
	first := &voiceBridge{session: dial(live.URL)}
	require.True(t, c.installVoice(first))

	second := &voiceBridge{session: dial(live.URL)}
	assert.False(t, c.installVoice(second))
	assert.Same(t, first, c.voice)
	<-second.session.Done()

	c.stopVoice()
	<-first.session.Done()
}
