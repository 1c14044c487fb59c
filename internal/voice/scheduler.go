package voice

import (
	"fmt"
	"sync"
	"time"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/metrics"
	"github.com/rs/zerolog"
)

// Clock reports the playback device's current time.
type Clock func() time.Duration

// Voice is one scheduled buffer on the playback device.
type Voice interface {
	Stop() error
}

// Player starts samples on the playback device at a device time.
type Player interface {
	Play(samples []float32, rate int, at time.Duration) (Voice, error)
}

// Scheduler queues decoded buffers back to back so playback has no gaps,
// and drops everything queued when the collaborator interrupts.
type Scheduler struct {
	clock  Clock
	player Player
	rate   int
	log    zerolog.Logger

	mu     sync.Mutex
	next   time.Duration
	voices map[*scheduled]struct{}
}

type scheduled struct {
	voice Voice
	end   time.Duration
}

func NewScheduler(player Player, clock Clock, rate int) *Scheduler {
	if rate <= 0 {
		rate = OutputRate
	}
	return &Scheduler{
		clock:  clock,
		player: player,
		rate:   rate,
		log:    logging.Component("voice"),
		voices: make(map[*scheduled]struct{}),
	}
}

// Schedule plays samples at max(next start, now) and advances the cursor
// by their duration. It returns the chosen start time.
func (s *Scheduler) Schedule(samples []float32) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.reapLocked(now)

	start := max(s.next, now)
	v, err := s.player.Play(samples, s.rate, start)
	if err != nil {
		return 0, fmt.Errorf("schedule %d samples: %w", len(samples), err)
	}
	end := start + Duration(len(samples), s.rate)
	s.next = end
	s.voices[&scheduled{voice: v, end: end}] = struct{}{}
	return start, nil
}

// reapLocked forgets voices that have finished playing.
func (s *Scheduler) reapLocked(now time.Duration) {
	for sv := range s.voices {
		if sv.end <= now {
			delete(s.voices, sv)
		}
	}
}

// Interrupt stops every scheduled voice and resets the cursor to zero.
// Stop errors are ignored; the voice may already have ended.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	voices := s.voices
	s.voices = make(map[*scheduled]struct{})
	s.next = 0
	s.mu.Unlock()

	for sv := range voices {
		if err := sv.voice.Stop(); err != nil {
			s.log.Debug().Err(err).Msg("stop voice")
		}
	}
	metrics.AudioInterruptions.Inc()
}

// NextStart is the device time the next buffer will start at, or zero.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Playing counts voices that have not finished.
func (s *Scheduler) Playing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked(s.clock())
	return len(s.voices)
}

// SinceClock returns a Clock measuring time elapsed since start.
func SinceClock(start time.Time) Clock {
	return func() time.Duration { return time.Since(start) }
}
