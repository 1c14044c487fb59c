// Package supervisor runs the long-lived parts of a pulse node under a
// suture tree so a crashed loop is restarted instead of taking the node down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay float64
	// FailureBackoff is how long to wait once the threshold is exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long a service may take to stop.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the node's supervisor hierarchy:
//   - sync: graph watchers, presence loop, broker lifetime
//   - ui: the websocket hub
//   - api: the HTTP server
type Tree struct {
	root *suture.Supervisor
	sync *suture.Supervisor
	ui   *suture.Supervisor
	api  *suture.Supervisor
	cfg  TreeConfig
}

// NewTree builds the tree. Zero config values take the defaults.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	// MustHook has a pointer receiver.
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = hook

	t := &Tree{
		root: suture.New("pulse", rootSpec),
		sync: suture.New("sync-layer", childSpec),
		ui:   suture.New("ui-layer", childSpec),
		api:  suture.New("api-layer", childSpec),
		cfg:  cfg,
	}
	t.root.Add(t.sync)
	t.root.Add(t.ui)
	t.root.Add(t.api)
	return t
}

// Config returns the effective configuration.
func (t *Tree) Config() TreeConfig { return t.cfg }

// AddSync adds a graph, presence or broker service.
func (t *Tree) AddSync(svc suture.Service) suture.ServiceToken { return t.sync.Add(svc) }

// AddUI adds a UI fan-out service.
func (t *Tree) AddUI(svc suture.Service) suture.ServiceToken { return t.ui.Add(svc) }

// AddAPI adds an HTTP service.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

// Serve blocks until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

// ServeBackground starts the tree and reports its exit on the channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that overran the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
