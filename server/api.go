package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/auth"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/db"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/feed"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/identity"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/muse"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/realtime"
)

type credentialsRequest struct {
	Alias      string `json:"alias"`
	Passphrase string `json:"passphrase"`
}

type sessionResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// currentUser is set by the auth middleware on every protected route.
func currentUser(r *http.Request) models.User {
	if u := auth.UserFromContext(r.Context()); u != nil {
		return *u
	}
	return models.User{}
}

// Identity

func (s *Server) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.Identity.Create(r.Context(), req.Alias, req.Passphrase)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.startSession(w, r, sess)
	writeJSON(w, http.StatusCreated, sessionResponse{User: sess.User, Token: sess.Token})
}

func (s *Server) handleAuthIdentity(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.Identity.Auth(r.Context(), req.Alias, req.Passphrase)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.startSession(w, r, sess)
	writeJSON(w, http.StatusOK, sessionResponse{User: sess.User, Token: sess.Token})
}

// handleLeave signs the caller's tab out, and the device too when the
// caller is the device identity.
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if models.AliasKey(s.Identity.Alias()) == models.AliasKey(user.Name) {
		s.Identity.Leave()
		if err := s.Store.ClearSession(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear stored session")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// startSession persists the profile and hands the token to the browser.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, sess identity.Session) {
	if err := s.Store.SetSession(r.Context(), sess.User); err != nil {
		s.log.Warn().Err(err).Str("alias", sess.User.Name).Msg("failed to persist session")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(s.cfg.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// handleSession answers with the caller's session, or the device session a
// fresh tab of the device owner should pick up.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if u, err := s.Auth.GetUser(r); err == nil {
		writeJSON(w, http.StatusOK, sessionResponse{User: *u, Token: auth.TokenFromRequest(r)})
		return
	}
	sess, ok := s.Identity.Current()
	if !ok || !auth.IsDeviceOwner(r) {
		writeError(w, r, apperrors.ErrNotSignedIn)
		return
	}
	s.startSession(w, r, sess)
	writeJSON(w, http.StatusOK, sessionResponse{User: sess.User, Token: sess.Token})
}

// Preferences

func (s *Server) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := s.Store.Theme(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.Theme{"theme": theme})
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme models.Theme `json:"theme"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Store.SetTheme(r.Context(), req.Theme); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.Theme{"theme": req.Theme})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"online": s.Presence.Online()})
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, muse.Personas(s.now()))
}

// Gallery

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.Posts.FeedFor(currentUser(r))))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var draft models.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, r, err)
		return
	}
	post, ack, err := s.Posts.Publish(r.Context(), user, draft)
	if err == nil {
		err = s.await(r.Context(), ack)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.announce(realtime.TypePost, Activity{Actor: user.Name, PostID: post.ID, Caption: post.Caption})
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	post, ack, err := s.Posts.ToggleLike(r.Context(), chi.URLParam(r, "id"), user.Name)
	if err == nil {
		err = s.await(r.Context(), ack)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if post.LikedByUser(user.Name) {
		s.announce(realtime.TypeLike, Activity{Actor: user.Name, PostID: post.ID, Target: post.Author.Name})
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, ack, err := s.Posts.AddComment(r.Context(), chi.URLParam(r, "id"), currentUser(r), req.Text)
	if err == nil {
		err = s.await(r.Context(), ack)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating int `json:"rating"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ack, err := s.Posts.SetRating(r.Context(), chi.URLParam(r, "id"), req.Rating)
	if err == nil {
		err = s.await(r.Context(), ack)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Progress int `json:"progress"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	post, ok := s.Posts.Get(id)
	if !ok {
		writeError(w, r, apperrors.ErrPostNotFound)
		return
	}
	if post.Author.ID != currentUser(r).ID {
		writeError(w, r, apperrors.New(apperrors.CodePermissionDenied, "only the author can update a target"))
		return
	}
	ack, err := s.Posts.SetProgress(r.Context(), id, req.Progress)
	if err == nil {
		err = s.await(r.Context(), ack)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type targetView struct {
	models.Post
	Percent int `json:"percent"`
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	targets := s.Posts.Targets(currentUser(r).ID)
	views := make([]targetView, 0, len(targets))
	for _, t := range targets {
		views = append(views, targetView{Post: t, Percent: feed.Progress(t, now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"targets": views,
		"average": feed.AverageProgress(targets, now),
	})
}

// Artists

func (s *Server) handleSearchArtists(w http.ResponseWriter, r *http.Request) {
	found := s.Artists.Search(r.URL.Query().Get("q"), currentUser(r).Name)
	writeJSON(w, http.StatusOK, nonNil(found))
}

func (s *Server) lookupArtist(alias string) (models.User, error) {
	u, ok := s.Artists.Lookup(alias)
	if !ok {
		return models.User{}, apperrors.NotFound("no artist with that alias")
	}
	return u, nil
}

func (s *Server) handleGetArtist(w http.ResponseWriter, r *http.Request) {
	u, err := s.lookupArtist(chi.URLParam(r, "alias"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleArtistPosts(w http.ResponseWriter, r *http.Request) {
	u, err := s.lookupArtist(chi.URLParam(r, "alias"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(feed.FeedFor(s.Posts.ByAuthor(u.ID), currentUser(r))))
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	target, err := s.lookupArtist(chi.URLParam(r, "alias"))
	if err == nil {
		err = s.await(r.Context(), s.Artists.EstablishFollow(r.Context(), user.Name, target.Name))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.announce(realtime.TypeFollow, Activity{Actor: user.Name, Target: target.Name})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role         *string              `json:"role"`
		Bio          *string              `json:"bio"`
		AvatarConfig *models.AvatarConfig `json:"avatarConfig"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u := currentUser(r)
	if req.Role != nil {
		u.Role = strings.TrimSpace(*req.Role)
	}
	if req.Bio != nil {
		u.Bio = strings.TrimSpace(*req.Bio)
	}
	if req.AvatarConfig != nil {
		u.AvatarConfig = req.AvatarConfig
		u.Avatar = feed.AvatarURL(req.AvatarConfig, u.Name)
	}
	if err := models.Validate(u); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.await(r.Context(), s.Artists.UpdateProfile(r.Context(), u)); err != nil {
		writeError(w, r, err)
		return
	}
	if models.AliasKey(s.Identity.Alias()) == models.AliasKey(u.Name) {
		if err := s.Store.SetSession(r.Context(), u); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist updated profile")
		}
	}
	writeJSON(w, http.StatusOK, u)
}

// Chats

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.Chats.List(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleSendChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.Chats.Send(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// resolveParticipant accepts a persona id or an artist alias.
func (s *Server) resolveParticipant(ref string) (models.User, error) {
	if p, ok := muse.Persona(ref, s.now()); ok {
		return p, nil
	}
	return s.lookupArtist(ref)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"name"`
		Participants []string `json:"participants"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	parts := make([]models.User, 0, len(req.Participants))
	for _, ref := range req.Participants {
		p, err := s.resolveParticipant(ref)
		if err != nil {
			writeError(w, r, err)
			return
		}
		parts = append(parts, p)
	}
	c, err := s.Chats.CreateGroup(r.Context(), currentUser(r).ID, req.Name, parts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participant string `json:"participant"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.resolveParticipant(req.Participant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.Chats.AddParticipant(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Backup

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	data, err := s.Store.ExportFor(r.Context(), &user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="pulse-backup.json"`)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8*maxBodyBytes))
	if err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "could not read backup", err))
		return
	}
	b, err := db.ParseBackup(data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := currentUser(r)
	if b.Profile != nil && (b.Profile.ID != user.ID || models.AliasKey(b.Profile.Name) != models.AliasKey(user.Name)) {
		writeError(w, r, apperrors.ErrForeignBackup)
		return
	}
	if err := s.Store.ApplyBackup(r.Context(), b); err != nil {
		writeError(w, r, err)
		return
	}
	if b.Profile == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Token: auth.TokenFromRequest(r)})
}

// Muse

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	post, ok := s.Posts.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, apperrors.ErrPostNotFound)
		return
	}
	text, err := s.Muse.Feedback(r.Context(), post.Caption, post.Rating)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"feedback": text})
}

func (s *Server) handleArtPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme string `json:"theme"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Theme) == "" {
		writeError(w, r, apperrors.InvalidArg("theme is required"))
		return
	}
	prompt, err := s.Muse.ArtPrompt(r.Context(), req.Theme)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, r, apperrors.InvalidArg("prompt is required"))
		return
	}
	url, err := s.Muse.Image(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image": url})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Search   bool   `json:"search"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, r, apperrors.InvalidArg("question is required"))
		return
	}
	answer, err := s.Muse.Ask(r.Context(), req.Question, req.Search)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
