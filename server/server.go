package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/auth"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/chat"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/db"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/feed"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/identity"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/muse"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/presence"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/realtime"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/voice"
)

// Config holds the HTTP surface settings.
type Config struct {
	StaticDir    string
	CORSOrigins  []string
	AIRatePerMin int           // Per client IP, on the muse endpoints
	TokenTTL     time.Duration // Session cookie lifetime
	WriteTimeout time.Duration // Graph acknowledgement wait
	Voice        voice.SessionConfig
}

// Deps are the node's services the server fronts.
type Deps struct {
	Hub      *Hub
	Auth     *auth.Authenticator
	Identity *identity.Service
	Posts    *feed.Posts
	Artists  *feed.Artists
	Presence *presence.Tracker
	Bus      *realtime.Bus
	Store    *db.Store
	Chats    *chat.Service
	Muse     *muse.Muse
}

// Server holds the server's dependencies.
type Server struct {
	Deps
	cfg Config
	log zerolog.Logger
	now func() time.Time
}

// NewServer creates a new server instance.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.AIRatePerMin <= 0 {
		cfg.AIRatePerMin = 30
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * 24 * time.Hour
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &Server{
		Deps: deps,
		cfg:  cfg,
		log:  logging.Component("server"),
		now:  time.Now,
	}
	s.Hub.onSubscribe = s.sendTopicState
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/identity", s.handleCreateIdentity)
		r.Post("/identity/auth", s.handleAuthIdentity)
		r.Get("/session", s.handleSession)
		r.Get("/theme", s.handleGetTheme)
		r.Put("/theme", s.handleSetTheme)
		r.Get("/presence", s.handlePresence)
		r.Get("/personas", s.handlePersonas)

		r.Group(func(r chi.Router) {
			r.Use(s.Auth.Middleware)

			r.Post("/identity/leave", s.handleLeave)

			r.Get("/feed", s.handleFeed)
			r.Post("/posts", s.handlePublish)
			r.Post("/posts/{id}/like", s.handleLike)
			r.Post("/posts/{id}/comments", s.handleComment)
			r.Put("/posts/{id}/rating", s.handleRating)
			r.Put("/posts/{id}/progress", s.handleProgress)
			r.Get("/targets", s.handleTargets)

			r.Get("/artists", s.handleSearchArtists)
			r.Get("/artists/{alias}", s.handleGetArtist)
			r.Get("/artists/{alias}/posts", s.handleArtistPosts)
			r.Post("/artists/{alias}/follow", s.handleFollow)
			r.Put("/profile", s.handleUpdateProfile)

			r.Get("/chats", s.handleListChats)
			r.Post("/chats/groups", s.handleCreateGroup)
			r.Post("/chats/{id}/messages", s.handleSendChat)
			r.Post("/chats/{id}/participants", s.handleAddParticipant)

			r.Get("/backup", s.handleExport)
			r.Post("/backup", s.handleImport)

			r.Group(func(r chi.Router) {
				r.Use(httprate.LimitByIP(s.cfg.AIRatePerMin, time.Minute))
				r.Post("/posts/{id}/feedback", s.handleFeedback)
				r.Post("/muse/art-prompt", s.handleArtPrompt)
				r.Post("/muse/image", s.handleImage)
				r.Post("/muse/ask", s.handleAsk)
			})
		})
	})

	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"origin":  s.Bus.OriginID(),
		"clients": len(s.Hub.Clients()),
		"ai":      s.Muse.Available(),
	})
}

// await waits for a graph acknowledgement, bounded by the write timeout.
func (s *Server) await(ctx context.Context, ack <-chan error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	err := feed.Wait(ctx, ack)
	if err == nil {
		return nil
	}
	if apperrors.CodeOf(err) != apperrors.CodeUnknown {
		return err
	}
	return apperrors.Wrap(apperrors.CodeUnavailable, apperrors.Message(apperrors.ErrStoreUnavailable), err)
}
