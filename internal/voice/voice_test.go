package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func TestEncodeFrame(t *testing.T) {
	f := EncodeFrame([]float32{0, 0.5, -0.5, 1, -1, 2})
	assert.Equal(t, "audio/pcm;rate=16000", f.MimeType)

	raw, err := base64.StdEncoding.DecodeString(f.Data)
	require.NoError(t, err)
	require.Len(t, raw, 12)

	want := []int16{0, 16384, -16384, 32767, -32768, 32767}
	for i, w := range want {
		got := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		assert.Equal(t, w, got, "sample %d", i)
	}
}

func TestDecodeFrame(t *testing.T) {
	// 0x4000 = 16384, 0xC000 = -16384, little-endian.
	data := base64.StdEncoding.EncodeToString([]byte{0x00, 0x40, 0x00, 0xC0, 0x00, 0x00})
	samples, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5, 0}, samples)

	_, err = DecodeFrame(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, ErrOddFrame)

	_, err = DecodeFrame("not base64!")
	assert.Error(t, err)
}

func TestEncodeDecodeKeepsSignal(t *testing.T) {
	in := []float32{0.25, -0.75, 0.125, 0}
	out, err := DecodeFrame(EncodeFrame(in).Data)
	require.NoError(t, err)
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1.0/32768)
	}
}

type fakeVoice struct {
	mu      sync.Mutex
	stopped bool
	err     error
}

func (v *fakeVoice) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
	return v.err
}

type fakePlayer struct {
	starts []time.Duration
	voices []*fakeVoice
}

func (p *fakePlayer) Play(samples []float32, rate int, at time.Duration) (Voice, error) {
	v := &fakeVoice{}
	if len(p.voices)%2 == 1 {
		v.err = errors.New("already ended")
	}
	p.starts = append(p.starts, at)
	p.voices = append(p.voices, v)
	return v, nil
}

type manualClock struct{ now time.Duration }

func (c *manualClock) Now() time.Duration { return c.now }

// 2400 samples at 24 kHz is 100ms.
var chunk = make([]float32, 2400)

func TestSchedulerIsGapless(t *testing.T) {
	clock := &manualClock{}
	player := &fakePlayer{}
	s := NewScheduler(player, clock.Now, OutputRate)

	// 100ms, 50ms and 200ms buffers.
	for _, n := range []int{2400, 1200, 4800} {
		_, err := s.Schedule(make([]float32, n))
		require.NoError(t, err)
	}
	assert.Equal(t, []time.Duration{0, 100 * time.Millisecond, 150 * time.Millisecond}, player.starts)
	assert.Equal(t, 350*time.Millisecond, s.NextStart())

	// Arrivals while the queue is still playing keep appending; the two
	// buffers that ended by now are forgotten.
	clock.now = 150 * time.Millisecond
	start, err := s.Schedule(chunk)
	require.NoError(t, err)
	assert.Equal(t, 350*time.Millisecond, start)
	assert.Equal(t, 2, s.Playing())

	// After the queue drained, playback starts now.
	clock.now = time.Second
	start, err = s.Schedule(chunk)
	require.NoError(t, err)
	assert.Equal(t, time.Second, start)
	assert.Equal(t, 1100*time.Millisecond, s.NextStart())
}

func TestInterruptStopsEverythingAndResets(t *testing.T) {
	clock := &manualClock{}
	player := &fakePlayer{}
	s := NewScheduler(player, clock.Now, OutputRate)

	for range 4 {
		_, err := s.Schedule(chunk)
		require.NoError(t, err)
	}

	s.Interrupt()

	for i, v := range player.voices {
		assert.True(t, v.stopped, "voice %d", i)
	}
	assert.Zero(t, s.NextStart())
	assert.Zero(t, s.Playing())

	clock.now = 50 * time.Millisecond
	start, err := s.Schedule(chunk)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, start)
}

// liveServer plays the collaborator side of the live protocol.
func liveServer(t *testing.T, got chan<- map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		got <- setup
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})

		var input map[string]any
		if err := conn.ReadJSON(&input); err != nil {
			return
		}
		got <- input

		audio := base64.StdEncoding.EncodeToString([]byte{0x00, 0x40, 0x00, 0xC0})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": audio}},
			}},
		}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"interrupted": true}})

		// Wait for the client to hang up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionRoundTrip(t *testing.T) {
	got := make(chan map[string]any, 2)
	srv := liveServer(t, got)

	var (
		mu          sync.Mutex
		opened      bool
		audio       [][]float32
		interrupted int
	)
	closed := make(chan error, 1)

	s, err := Dial(context.Background(), SessionConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:            "secret",
		Model:             "models/test-audio",
		VoiceName:         "Zephyr",
		SystemInstruction: "be brief",
	}, Handlers{
		Open: func() { mu.Lock(); opened = true; mu.Unlock() },
		Audio: func(samples []float32) {
			mu.Lock()
			audio = append(audio, samples)
			mu.Unlock()
		},
		Interrupted: func() { mu.Lock(); interrupted++; mu.Unlock() },
		Closed:      func(err error) { closed <- err },
	})
	require.NoError(t, err)

	setup := <-got
	raw, _ := json.Marshal(setup)
	assert.Contains(t, string(raw), `"model":"models/test-audio"`)
	assert.Contains(t, string(raw), `"voiceName":"Zephyr"`)
	assert.Contains(t, string(raw), `"responseModalities":["AUDIO"]`)

	require.NoError(t, s.SendAudio([]float32{0.5}))
	input := <-got
	raw, _ = json.Marshal(input)
	assert.Contains(t, string(raw), `"mimeType":"audio/pcm;rate=16000"`)
	assert.Contains(t, string(raw), `"mediaChunks"`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opened && len(audio) == 1 && interrupted == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []float32{0.5, -0.5}, audio[0])
	mu.Unlock()

	require.NoError(t, s.Close())
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Closed handler not called")
	}
	assert.ErrorIs(t, s.SendAudio([]float32{0}), ErrSessionClosed)
}
