// Package presence tracks which identities have sent a heartbeat recently.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/codec"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/graph"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/metrics"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/realtime"
	"github.com/rs/zerolog"
)

const (
	DefaultWindow    = 30 * time.Second
	DefaultHeartbeat = 10 * time.Second
	DefaultSweep     = 10 * time.Second
)

// Heartbeat is the payload on the bus and the record in the presence soul.
type Heartbeat struct {
	Identity string `json:"identity"`
	LastSeen int64  `json:"lastSeen"` // unix ms
}

// Broadcaster is the part of the bus the tracker needs.
type Broadcaster interface {
	Send(msgType string, payload any) error
	Subscribe(fn func(realtime.Message)) func()
}

type Config struct {
	Window    time.Duration
	Heartbeat time.Duration
	Sweep     time.Duration
	Now       func() time.Time
}

// Tracker holds last-seen times. An identity is online while its last
// heartbeat is younger than the window; the sweep forgets older ones.
type Tracker struct {
	cfg  Config
	bus  Broadcaster
	node *graph.Node
	log  zerolog.Logger

	mu       sync.RWMutex
	lastSeen map[string]time.Time
	onChange func(online []string)
}

// New builds a tracker. bus and node may be nil to skip that channel.
func New(cfg Config, bus Broadcaster, node *graph.Node) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Sweep <= 0 {
		cfg.Sweep = DefaultSweep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:      cfg,
		bus:      bus,
		node:     node,
		log:      logging.Component("presence"),
		lastSeen: make(map[string]time.Time),
	}
}

// OnChange sets a callback invoked with the online list whenever an
// identity comes online or is swept.
func (t *Tracker) OnChange(fn func(online []string)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Heartbeat announces identity as alive now on the bus and in the graph.
func (t *Tracker) Heartbeat(ctx context.Context, identity string) {
	if identity == "" {
		return
	}
	now := t.cfg.Now()
	hb := Heartbeat{Identity: identity, LastSeen: now.UnixMilli()}

	t.OnPeerHeartbeat(identity, now)
	if t.bus != nil {
		if err := t.bus.Send(realtime.TypeHeartbeat, hb); err != nil {
			t.log.Debug().Err(err).Msg("heartbeat broadcast failed")
		}
	}
	if t.node != nil {
		// Missed heartbeats are read as going offline; the ack is not awaited.
		t.node.Get(models.AliasKey(identity)).Put(ctx, graph.Record{
			"identity": hb.Identity,
			"lastSeen": hb.LastSeen,
		})
	}
}

// OnPeerHeartbeat records a heartbeat, keeping the latest timestamp.
func (t *Tracker) OnPeerHeartbeat(identity string, ts time.Time) {
	if identity == "" {
		return
	}
	key := models.AliasKey(identity)

	t.mu.Lock()
	prev, known := t.lastSeen[key]
	if known && !ts.After(prev) {
		t.mu.Unlock()
		return
	}
	t.lastSeen[key] = ts
	wasOnline := known && t.cfg.Now().Sub(prev) < t.cfg.Window
	changed := !wasOnline && t.cfg.Now().Sub(ts) < t.cfg.Window
	fn, online := t.changeLocked(changed)
	t.mu.Unlock()

	if fn != nil {
		fn(online)
	}
}

// Sweep forgets identities whose last heartbeat is older than the window
// and returns them.
func (t *Tracker) Sweep() []string {
	now := t.cfg.Now()

	t.mu.Lock()
	var expired []string
	for id, seen := range t.lastSeen {
		if now.Sub(seen) > t.cfg.Window {
			delete(t.lastSeen, id)
			expired = append(expired, id)
		}
	}
	fn, online := t.changeLocked(len(expired) > 0)
	t.mu.Unlock()

	if len(expired) > 0 {
		metrics.PresenceExpired.Add(float64(len(expired)))
	}
	if fn != nil {
		fn(online)
	}
	slices.Sort(expired)
	return expired
}

func (t *Tracker) changeLocked(changed bool) (func([]string), []string) {
	online := t.onlineLocked()
	metrics.PresenceOnline.Set(float64(len(online)))
	if !changed || t.onChange == nil {
		return nil, nil
	}
	return t.onChange, online
}

// IsOnline reports whether identity heartbeated within the window.
func (t *Tracker) IsOnline(identity string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen, ok := t.lastSeen[models.AliasKey(identity)]
	return ok && t.cfg.Now().Sub(seen) < t.cfg.Window
}

// LastSeen returns the last heartbeat time of identity.
func (t *Tracker) LastSeen(identity string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen, ok := t.lastSeen[models.AliasKey(identity)]
	return seen, ok
}

// Online lists online identities, sorted.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onlineLocked()
}

func (t *Tracker) onlineLocked() []string {
	now := t.cfg.Now()
	out := make([]string, 0, len(t.lastSeen))
	for id, seen := range t.lastSeen {
		if now.Sub(seen) < t.cfg.Window {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Attach feeds the tracker from bus heartbeats and the graph presence soul.
// The returned func detaches both.
func (t *Tracker) Attach() (func(), error) {
	var stops []func()
	if t.bus != nil {
		stops = append(stops, t.bus.Subscribe(func(m realtime.Message) {
			if m.Type != realtime.TypeHeartbeat {
				return
			}
			var hb Heartbeat
			if err := m.Decode(&hb); err != nil {
				t.log.Debug().Err(err).Msg("bad heartbeat payload")
				return
			}
			t.OnPeerHeartbeat(hb.Identity, time.UnixMilli(hb.LastSeen))
		}))
	}
	if t.node != nil {
		off, err := t.node.On(func(key string, fields graph.Record) {
			identity := codec.String(fields, "identity")
			if identity == "" {
				identity = key
			}
			if ts := codec.Int64(fields, "lastSeen"); ts > 0 {
				t.OnPeerHeartbeat(identity, time.UnixMilli(ts))
			}
		})
		if err != nil {
			for _, stop := range stops {
				stop()
			}
			return nil, err
		}
		stops = append(stops, off)
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}, nil
}

// Run heartbeats for identity() and sweeps on separate tickers until ctx
// ends. identity may return "" while nobody is signed in.
func (t *Tracker) Run(ctx context.Context, identity func() string) error {
	detach, err := t.Attach()
	if err != nil {
		return err
	}
	defer detach()

	heartbeat := time.NewTicker(t.cfg.Heartbeat)
	defer heartbeat.Stop()
	sweep := time.NewTicker(t.cfg.Sweep)
	defer sweep.Stop()

	t.Heartbeat(ctx, identity())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			t.Heartbeat(ctx, identity())
		case <-sweep.C:
			if expired := t.Sweep(); len(expired) > 0 {
				t.log.Debug().Strs("identities", expired).Msg("presence expired")
			}
		}
	}
}
