// Package muse is the generative-AI creative collaborator. Every call is
// rate limited and guarded by a circuit breaker; failures degrade to fixed
// fallback answers unless soft failures are switched off.
package muse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/metrics"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/rs/zerolog"
)

// Fallback answers.
const (
	FallbackFeedback = "Keep creating! Your vision is unique."
	FallbackReply    = "Beautiful thought."
)

const (
	opFeedback  = "feedback"
	opArtPrompt = "art_prompt"
	opImage     = "image"
	opReply     = "reply"
	opAsk       = "ask"
)

type Config struct {
	TextModel    string
	ImageModel   string
	SoftFailures bool
	RatePerMin   int
	Timeout      time.Duration
	BreakerTrips uint32
	BreakerOpen  time.Duration
}

// Muse wraps a Generator with limits and fallbacks.
type Muse struct {
	gen     Generator
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	log     zerolog.Logger
}

// New builds a muse. A nil gen makes every call unavailable.
func New(gen Generator, cfg Config) *Muse {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerTrips == 0 {
		cfg.BreakerTrips = 5
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = time.Minute
	}

	limit := rate.Inf
	burst := 1
	if cfg.RatePerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMin))
		burst = cfg.RatePerMin
	}

	log := logging.Component("muse")
	m := &Muse{
		gen:     gen,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
	m.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "genai",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerTrips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return m
}

// Available reports whether a generator is configured.
func (m *Muse) Available() bool { return m.gen != nil }

func call[T any](ctx context.Context, m *Muse, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if m.gen == nil {
		return zero, apperrors.ErrAIUnavailable
	}

	start := time.Now()
	defer func() {
		metrics.AICallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	if err := m.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("%s: rate limit: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	v, err := m.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, apperrors.Wrap(apperrors.CodeUnavailable, "the creative assistant is resting, try again soon", err)
		}
		return zero, err
	}
	return v.(T), nil
}

// settle applies the soft-failure policy to a failed call.
func settle[T any](m *Muse, op string, fallback T, err error) (T, error) {
	if err == nil {
		metrics.AICalls.WithLabelValues(op, "ok").Inc()
		return fallback, nil
	}
	if m.cfg.SoftFailures {
		metrics.AICalls.WithLabelValues(op, "fallback").Inc()
		m.log.Warn().Err(err).Str("op", op).Msg("using fallback answer")
		return fallback, nil
	}
	metrics.AICalls.WithLabelValues(op, "error").Inc()
	if apperrors.CodeOf(err) == apperrors.CodeUnknown {
		err = apperrors.Wrap(apperrors.CodeUnavailable, "the creative assistant is unavailable", err)
	}
	var zero T
	return zero, err
}

// Feedback critiques a post in two encouraging sentences.
func (m *Muse) Feedback(ctx context.Context, caption string, rating int) (string, error) {
	prompt := fmt.Sprintf("An artist shared: %q and it was rated %d/5. "+
		"Give a constructive, encouraging creative critique in two sentences.", caption, rating)
	ans, err := call(ctx, m, opFeedback, func(ctx context.Context) (Answer, error) {
		return m.gen.GenerateText(ctx, Request{Model: m.cfg.TextModel, Prompt: prompt})
	})
	if err == nil && strings.TrimSpace(ans.Text) != "" {
		return settle(m, opFeedback, ans.Text, nil)
	}
	if err == nil {
		err = errors.New("empty feedback")
	}
	return settle(m, opFeedback, FallbackFeedback, err)
}

// ArtPrompt expands a theme into a detailed image-generation prompt. The
// theme itself is the fallback.
func (m *Muse) ArtPrompt(ctx context.Context, theme string) (string, error) {
	prompt := fmt.Sprintf("Write a detailed prompt for an image generator based on the theme %q. "+
		"Make it professional, artistic and visually rich.", theme)
	ans, err := call(ctx, m, opArtPrompt, func(ctx context.Context) (Answer, error) {
		return m.gen.GenerateText(ctx, Request{Model: m.cfg.TextModel, Prompt: prompt})
	})
	if err == nil && strings.TrimSpace(ans.Text) != "" {
		return settle(m, opArtPrompt, ans.Text, nil)
	}
	if err == nil {
		err = errors.New("empty art prompt")
	}
	return settle(m, opArtPrompt, theme, err)
}

// Image renders prompt and returns a data URL, or "" when the model
// produced no picture.
func (m *Muse) Image(ctx context.Context, prompt string) (string, error) {
	img, err := call(ctx, m, opImage, func(ctx context.Context) (Image, error) {
		return m.gen.GenerateImage(ctx, m.cfg.ImageModel, prompt)
	})
	if err != nil {
		return settle(m, opImage, "", err)
	}
	return settle(m, opImage, img.DataURL(), nil)
}

// Reply answers text in the voice of persona, in at most about 20 words.
func (m *Muse) Reply(ctx context.Context, persona models.User, text string) (string, error) {
	prompt := fmt.Sprintf("You are an AI creative muse named %s (%s). Reply to: %q. "+
		"Tone: a supportive fellow artist. At most 20 words.", persona.Name, persona.Role, text)
	ans, err := call(ctx, m, opReply, func(ctx context.Context) (Answer, error) {
		return m.gen.GenerateText(ctx, Request{Model: m.cfg.TextModel, Prompt: prompt})
	})
	if err != nil {
		return settle(m, opReply, FallbackReply, err)
	}
	if strings.TrimSpace(ans.Text) == "" {
		return settle(m, opReply, FallbackReply, nil)
	}
	return settle(m, opReply, ans.Text, nil)
}

// Ask is a free-form question, optionally grounded with web search.
func (m *Muse) Ask(ctx context.Context, question string, search bool) (Answer, error) {
	ans, err := call(ctx, m, opAsk, func(ctx context.Context) (Answer, error) {
		return m.gen.GenerateText(ctx, Request{Model: m.cfg.TextModel, Prompt: question, Search: search})
	})
	if err != nil {
		return settle(m, opAsk, Answer{Text: FallbackReply}, err)
	}
	return settle(m, opAsk, ans, nil)
}
