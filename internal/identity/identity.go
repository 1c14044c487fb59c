// Package identity claims aliases and signs them in. Passphrase hashes live
// in a private soul of the graph; profiles go to the public artist registry.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/auth"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/codec"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/feed"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/graph"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

const (
	defaultRole = "Global Creator"
	defaultBio  = "Just joined the global pulse."

	minPassphrase = 4
)

// Registry is where public profiles are published.
type Registry interface {
	Register(ctx context.Context, u models.User) <-chan error
	Fetch(ctx context.Context, alias string) (models.User, bool, error)
}

// Session is a signed-in identity.
type Session struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

type Config struct {
	Timeout    time.Duration
	BcryptCost int
}

// Service implements Create, Auth and Leave.
type Service struct {
	creds    *graph.Node
	registry Registry
	tokens   *auth.TokenManager
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger

	// createMu keeps two local Creates of one alias from both passing the
	// existence check.
	createMu sync.Mutex

	mu      sync.RWMutex
	current *Session
}

// New builds the service over the credentials soul node.
func New(creds *graph.Node, registry Registry, tokens *auth.TokenManager, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		creds:    creds,
		registry: registry,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
		log:      logging.Component("identity"),
	}
}

func validate(alias, pass string) (string, error) {
	alias = strings.TrimSpace(alias)
	if n := utf8.RuneCountInString(alias); n < 2 || n > 32 || strings.ContainsAny(alias, " \t\n") {
		return "", apperrors.ErrInvalidAlias
	}
	if len(pass) < minPassphrase {
		return "", apperrors.ErrInvalidPassphrase
	}
	return alias, nil
}

// timeoutErr maps a deadline on the graph to the human-readable timeout.
func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrIdentityTimeout
	}
	return err
}

// Create claims alias with pass, publishes a fresh profile and signs in.
func (s *Service) Create(ctx context.Context, alias, pass string) (Session, error) {
	alias, err := validate(alias, pass)
	if err != nil {
		return Session{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	s.createMu.Lock()
	defer s.createMu.Unlock()

	node := s.creds.Get(models.AliasKey(alias))
	existing, err := node.Once(ctx)
	if err != nil {
		return Session{}, timeoutErr(fmt.Errorf("check alias %s: %w", alias, err))
	}
	if existing != nil {
		return Session{}, apperrors.ErrAliasTaken
	}
	// A registry profile without credentials still owns the alias.
	_, published, err := s.registry.Fetch(ctx, alias)
	if err != nil {
		return Session{}, timeoutErr(fmt.Errorf("check profile %s: %w", alias, err))
	}
	if published {
		return Session{}, apperrors.ErrAliasTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pass), s.cfg.BcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash passphrase: %w", err)
	}

	now := s.now()
	id := "u-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	profile := models.User{
		ID:        id,
		Name:      alias,
		Avatar:    feed.DefaultAvatarURL(id),
		Role:      defaultRole,
		Bio:       defaultBio,
		Followers: []string{},
		Following: []string{},
		JoinedAt:  now,
	}

	err = feed.Wait(ctx, node.Put(ctx, graph.Record{
		"alias":     alias,
		"userId":    id,
		"hash":      string(hash),
		"createdAt": codec.FormatTime(now),
	}))
	if err != nil {
		return Session{}, timeoutErr(fmt.Errorf("store credentials for %s: %w", alias, err))
	}
	if err := feed.Wait(ctx, s.registry.Register(ctx, profile)); err != nil {
		return Session{}, timeoutErr(fmt.Errorf("publish profile for %s: %w", alias, err))
	}
	s.log.Info().Str("alias", alias).Msg("identity created")

	return s.signIn(profile)
}

// Auth checks pass against alias and signs in with the registry profile.
func (s *Service) Auth(ctx context.Context, alias, pass string) (Session, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" || pass == "" {
		return Session{}, apperrors.ErrWrongPassphrase
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	rec, err := s.creds.Get(models.AliasKey(alias)).Once(ctx)
	if err != nil {
		return Session{}, timeoutErr(fmt.Errorf("read credentials for %s: %w", alias, err))
	}
	if rec == nil {
		return Session{}, apperrors.ErrUnknownAlias
	}
	if err := bcrypt.CompareHashAndPassword([]byte(codec.String(rec, "hash")), []byte(pass)); err != nil {
		return Session{}, apperrors.ErrWrongPassphrase
	}

	profile, ok, err := s.registry.Fetch(ctx, alias)
	if err != nil {
		return Session{}, timeoutErr(fmt.Errorf("fetch profile for %s: %w", alias, err))
	}
	if !ok {
		// Credentials without a registry entry: rebuild a minimal profile.
		name := codec.String(rec, "alias")
		if name == "" {
			name = alias
		}
		id := codec.String(rec, "userId")
		if id == "" {
			id = "u-" + models.AliasKey(alias)
		}
		profile = models.User{
			ID:        id,
			Name:      name,
			Avatar:    feed.DefaultAvatarURL(name),
			Role:      defaultRole,
			Followers: []string{},
			Following: []string{},
			JoinedAt:  s.now(),
		}
	}
	return s.signIn(profile)
}

func (s *Service) signIn(profile models.User) (Session, error) {
	token, err := s.tokens.Issue(profile.ID, profile.Name)
	if err != nil {
		return Session{}, err
	}
	sess := Session{User: profile, Token: token}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	return sess, nil
}

// Resume restores a persisted profile as the current session.
func (s *Service) Resume(profile models.User) (Session, error) {
	return s.signIn(profile)
}

// Current returns the signed-in session of this device, if any.
func (s *Service) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// Alias is the signed-in alias, or "".
func (s *Service) Alias() string {
	if sess, ok := s.Current(); ok {
		return sess.User.Name
	}
	return ""
}

// Leave signs out. It never fails.
func (s *Service) Leave() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}
