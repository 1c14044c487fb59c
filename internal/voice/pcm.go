// Package voice bridges PCM audio between the UI and the realtime voice
// collaborator: frame codec, gapless playback scheduling and the live
// session transport.
package voice

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/metrics"
)

const (
	InputRate  = 16000
	OutputRate = 24000
	FrameSize  = 4096

	pcmScale = 32768
)

var ErrOddFrame = errors.New("voice: pcm16 frame has an odd byte count")

// Frame is one encoded chunk of mono PCM16 audio.
type Frame struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// MimeType names little-endian PCM16 at rate.
func MimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// EncodeFrame converts float samples in [-1, 1] to a 16 kHz PCM16 frame.
func EncodeFrame(samples []float32) Frame {
	return EncodeFrameAt(samples, InputRate)
}

// EncodeFrameAt is EncodeFrame for an explicit sample rate. Samples are
// scaled by 32768 and clamped to the int16 range.
func EncodeFrameAt(samples []float32, rate int) Frame {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(toInt16(s)))
	}
	metrics.AudioFrames.WithLabelValues("out").Inc()
	return Frame{
		Data:     base64.StdEncoding.EncodeToString(buf),
		MimeType: MimeType(rate),
	}
}

func toInt16(s float32) int16 {
	v := math.Round(float64(s) * pcmScale)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodeFrame turns base64 PCM16 into float samples (value / 32768).
func DecodeFrame(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("voice: decode base64: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, ErrOddFrame
	}
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / pcmScale
	}
	metrics.AudioFrames.WithLabelValues("in").Inc()
	return out, nil
}

// Duration is the play time of n mono samples at rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
