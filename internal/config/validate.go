package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error

	switch c.Graph.Backend {
	case "local", "jetstream":
	default:
		errs = append(errs, fmt.Errorf("graph.backend must be local or jetstream, got %q", c.Graph.Backend))
	}
	if c.Graph.Backend == "jetstream" && c.NATS.URL == "" && !c.NATS.Embedded {
		errs = append(errs, errors.New("graph.backend=jetstream needs nats.url or nats.embedded"))
	}
	if c.Graph.Backend == "jetstream" && !c.NATS.JetStream && c.NATS.Embedded {
		errs = append(errs, errors.New("graph.backend=jetstream needs nats.jetstream on the embedded server"))
	}

	switch c.Realtime.Channel {
	case "nats", "memory":
	default:
		errs = append(errs, fmt.Errorf("realtime.channel must be nats or memory, got %q", c.Realtime.Channel))
	}
	if c.Realtime.Subject == "" {
		errs = append(errs, errors.New("realtime.subject is required"))
	}

	if c.Presence.Window <= 0 || c.Presence.Heartbeat <= 0 || c.Presence.Sweep <= 0 {
		errs = append(errs, errors.New("presence durations must be positive"))
	}
	if c.Presence.Heartbeat >= c.Presence.Window {
		errs = append(errs, fmt.Errorf("presence.heartbeat (%s) must be shorter than presence.window (%s)",
			c.Presence.Heartbeat, c.Presence.Window))
	}

	if c.Voice.FrameSize <= 0 || c.Voice.InputRate <= 0 || c.Voice.OutputRate <= 0 {
		errs = append(errs, errors.New("voice frame size and sample rates must be positive"))
	}
	if c.AI.RatePerMin <= 0 {
		errs = append(errs, errors.New("ai.rate_per_min must be positive"))
	}
	if c.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir is required"))
	}

	return errors.Join(errs...)
}

// DBPath is the local sqlite preferences database.
func (c *Config) DBPath() string {
	return filepath.Join(c.Data.Dir, "pulse.db")
}

// BadgerDir is the graph replica directory, defaulting under data.dir.
func (c *Config) BadgerDir() string {
	if c.Graph.BadgerPath != "" {
		return c.Graph.BadgerPath
	}
	return filepath.Join(c.Data.Dir, "graph")
}

// NATSStoreDir is the embedded server's JetStream directory.
func (c *Config) NATSStoreDir() string {
	if c.NATS.StoreDir != "" {
		return c.NATS.StoreDir
	}
	return filepath.Join(c.Data.Dir, "nats")
}

// TailnetStateDir is where tsnet keeps node state.
func (c *Config) TailnetStateDir() string {
	if c.Server.Tailnet.StateDir != "" {
		return c.Server.Tailnet.StateDir
	}
	return filepath.Join(c.Data.Dir, "tsnet")
}
