// Command pulse runs one device node of the Pulse creative network: it
// serves the browser UI, keeps live views of the shared graph and bridges
// voice sessions to the remote muse.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"tailscale.com/tsnet"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/auth"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/broker"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/chat"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/config"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/db"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/feed"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/graph"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/identity"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/muse"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/presence"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/realtime"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/supervisor"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/voice"
	"github.com/kumarabhishek92100-ops/creativepluse/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("pulse stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})
	if err := os.MkdirAll(cfg.Data.Dir, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "supervisor"),
		supervisor.DefaultTreeConfig(),
	)

	// Messaging
	var nc *nats.Conn
	needNATS := cfg.Realtime.Channel == "nats" || cfg.Graph.Backend == "jetstream"
	if needNATS {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			emb, err := broker.StartEmbedded(broker.Config{
				Host:      cfg.NATS.Host,
				Port:      cfg.NATS.Port,
				JetStream: cfg.NATS.JetStream,
				StoreDir:  cfg.NATSStoreDir(),
			})
			if err != nil {
				return err
			}
			url = emb.ClientURL()
			tree.AddSync(supervisor.NewFunc("nats-embedded", func(ctx context.Context) error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return emb.Shutdown(shutdownCtx)
			}))
		}
		nc, err = broker.Connect(url, "pulse")
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	// Graph
	backend, err := openGraph(ctx, cfg, nc)
	if err != nil {
		return err
	}
	g := graph.New(backend)
	defer g.Close()

	posts := feed.NewPosts(g, cfg.Graph.PostsSoul)
	if err := posts.Start(); err != nil {
		return err
	}
	defer posts.Close()
	artists := feed.NewArtists(g, cfg.Graph.UsersSoul)
	if err := artists.Start(); err != nil {
		return err
	}
	defer artists.Close()

	// Same-device fan-out
	var channel realtime.Channel
	switch cfg.Realtime.Channel {
	case "nats":
		channel = realtime.NewNATSChannel(nc, cfg.Realtime.Subject)
	case "memory":
		channel = realtime.NewMemoryHub().Join()
	}
	bus, err := realtime.NewBus(channel)
	if err != nil {
		return err
	}
	tree.AddSync(supervisor.NewFunc("realtime-bus", bus.Run))

	// Local state
	store, err := db.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := auth.NewTokenManager(cfg.Identity.JWTSecret, cfg.Identity.TokenTTL)
	if err != nil {
		return err
	}
	ident := identity.New(g.Get(cfg.Graph.AuthSoul), artists, tokens, identity.Config{Timeout: cfg.Identity.Timeout})
	if profile, err := store.Session(ctx); err != nil {
		logging.Warn().Err(err).Msg("failed to read stored session")
	} else if profile != nil {
		if _, err := ident.Resume(*profile); err != nil {
			logging.Warn().Err(err).Str("alias", profile.Name).Msg("failed to resume session")
		} else {
			logging.Info().Str("alias", profile.Name).Msg("resumed session")
		}
	}

	tracker := presence.New(presence.Config{
		Window:    cfg.Presence.Window,
		Heartbeat: cfg.Presence.Heartbeat,
		Sweep:     cfg.Presence.Sweep,
	}, bus, g.Get(cfg.Graph.PresenceSoul))
	tree.AddSync(supervisor.NewFunc("presence", func(ctx context.Context) error {
		return tracker.Run(ctx, ident.Alias)
	}))

	// Generative AI
	var gen muse.Generator
	if cfg.AI.APIKey != "" {
		gai, err := muse.NewGenAI(ctx, cfg.AI.APIKey)
		if err != nil {
			return err
		}
		gen = gai
	} else {
		logging.Warn().Msg("no AI API key configured, the muse will answer with fallbacks")
	}
	m := muse.New(gen, muse.Config{
		TextModel:    cfg.AI.TextModel,
		ImageModel:   cfg.AI.ImageModel,
		SoftFailures: cfg.AI.SoftFailures,
		RatePerMin:   cfg.AI.RatePerMin,
		Timeout:      cfg.AI.Timeout,
		BreakerTrips: cfg.AI.BreakerTrips,
		BreakerOpen:  cfg.AI.BreakerOpen,
	})

	// UI and API
	voiceCfg := voice.SessionConfig{
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.Voice.Model,
		VoiceName:         cfg.Voice.VoiceName,
		SystemInstruction: cfg.Voice.SystemInstruction,
		InputRate:         cfg.Voice.InputRate,
	}
	if cfg.AI.APIKey != "" {
		voiceCfg.URL = cfg.Voice.LiveURL
	}
	hub := server.NewHub()
	srv := server.NewServer(server.Config{
		StaticDir:    cfg.Server.StaticDir,
		CORSOrigins:  cfg.Server.CORSOrigins,
		AIRatePerMin: cfg.AI.RatePerMin,
		TokenTTL:     cfg.Identity.TokenTTL,
		Voice:        voiceCfg,
	}, server.Deps{
		Hub:      hub,
		Auth:     auth.NewAuthenticator(tokens, artists.Lookup),
		Identity: ident,
		Posts:    posts,
		Artists:  artists,
		Presence: tracker,
		Bus:      bus,
		Store:    store,
		Chats:    chat.New(store, m, bus),
		Muse:     m,
	})
	tree.AddUI(hub)
	tree.AddUI(srv)

	handler := srv.Router()
	tree.AddAPI(supervisor.NewHTTPService(&http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil, shutdownTimeout))

	if cfg.Server.Tailnet.Enabled {
		ts := &tsnet.Server{
			Hostname: cfg.Server.Tailnet.Hostname,
			Dir:      cfg.TailnetStateDir(),
		}
		defer ts.Close()
		lc, err := ts.LocalClient()
		if err != nil {
			return fmt.Errorf("tailnet client: %w", err)
		}
		owner := auth.NewTailnetOwner(lc, cfg.Server.Tailnet.Owner)
		tree.AddAPI(supervisor.NewHTTPService(&http.Server{
			Handler:           auth.WithOwner(owner, handler),
			ReadHeaderTimeout: 10 * time.Second,
		}, func() (net.Listener, error) {
			return ts.ListenTLS("tcp", ":443")
		}, shutdownTimeout))
		logging.Info().Str("hostname", cfg.Server.Tailnet.Hostname).Msg("serving on the tailnet")
	}

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("graph", backend.Name()).
		Str("bus_origin", bus.OriginID()).
		Msg("pulse node running")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("shutting down")
	return nil
}

func openGraph(ctx context.Context, cfg *config.Config, nc *nats.Conn) (graph.Backend, error) {
	if cfg.Graph.Backend == "jetstream" {
		js, err := broker.JetStream(nc)
		if err != nil {
			return nil, err
		}
		return graph.NewJetStream(ctx, js, cfg.Graph.Bucket)
	}
	bdb, err := graph.OpenBadger(cfg.BadgerDir())
	if err != nil {
		return nil, err
	}
	// Heartbeats only mean something while they are fresh.
	return graph.NewLocal(bdb, graph.WithEphemeralSouls(cfg.Graph.PresenceSoul))
}
