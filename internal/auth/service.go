package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/localstore"
	"github.com/examdesk/examdesk/internal/logging"
	"github.com/rs/zerolog"
)

// Authenticator is the identity API.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*api.AuthResult, error)
	Refresher
}

// HubStopper is the hub client as seen by logout.
type HubStopper interface {
	Stop()
}

var storageKeys = []string{
	localstore.KeyAccessToken,
	localstore.KeyRefreshToken,
	localstore.KeyUser,
	localstore.KeyExpiresAt,
}

// Service keeps the signed-in session in memory and in Store, and installs
// itself as the TokenSource's provider.
type Service struct {
	api    Authenticator
	store  Store
	tokens *TokenSource
	hub    HubStopper
	log    zerolog.Logger

	mu           sync.RWMutex
	token        string
	refreshToken string
	user         json.RawMessage
	expiresAt    string
}

// NewService wires a session over the given collaborators. hub may be nil.
func NewService(a Authenticator, store Store, tokens *TokenSource, hub HubStopper, logger zerolog.Logger) *Service {
	s := &Service{
		api:    a,
		store:  store,
		tokens: tokens,
		hub:    hub,
		log:    logging.Component(logger, "auth"),
	}
	tokens.SetProvider(s.currentToken)
	tokens.OnRefresh(s.setSession)
	return s
}

// Restore loads a previous session from storage.
func (s *Service) Restore(ctx context.Context) error {
	vals := make(map[string]string, len(storageKeys))
	for _, k := range storageKeys {
		v, err := s.store.Get(ctx, k)
		if err != nil && !errors.Is(err, localstore.ErrNotFound) {
			return err
		}
		vals[k] = v
	}

	s.mu.Lock()
	s.token = strings.TrimSpace(vals[localstore.KeyAccessToken])
	s.refreshToken = strings.TrimSpace(vals[localstore.KeyRefreshToken])
	s.expiresAt = vals[localstore.KeyExpiresAt]
	s.user = nil
	if u := strings.TrimSpace(vals[localstore.KeyUser]); u != "" && json.Valid([]byte(u)) {
		s.user = json.RawMessage(u)
	}
	s.mu.Unlock()
	return nil
}

// Login authenticates and persists the session.
func (s *Service) Login(ctx context.Context, username, password string) (*api.AuthResult, error) {
	res, err := s.api.Login(ctx, username, password)
	if err != nil {
		s.log.Warn().Err(err).Str("user", username).Msg("login failed")
		return nil, err
	}
	if err := s.persist(ctx, res); err != nil {
		return nil, err
	}
	s.setSession(res)
	s.log.Info().Str("user", username).Msg("signed in")
	return res, nil
}

// Refresh exchanges the refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.RLock()
	rt := s.refreshToken
	s.mu.RUnlock()
	if rt == "" {
		return ErrNoRefreshToken
	}
	res, err := s.api.Refresh(ctx, rt)
	if err != nil {
		return err
	}
	if res.RefreshToken == "" {
		res.RefreshToken = rt
	}
	if userJSON(res.User) == "" {
		s.mu.RLock()
		res.User = s.user
		s.mu.RUnlock()
	}
	if err := s.persist(ctx, res); err != nil {
		return err
	}
	s.setSession(res)
	return nil
}

// Logout forgets the session everywhere and stops the hub.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.token, s.refreshToken, s.user, s.expiresAt = "", "", nil, ""
	s.mu.Unlock()

	s.tokens.SetSessionToken("")
	err := s.store.Delete(ctx, storageKeys...)
	if s.hub != nil {
		s.hub.Stop()
	}
	s.log.Info().Msg("signed out")
	return err
}

// IsAuthenticated reports whether both a token and a user are held.
func (s *Service) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && len(s.user) > 0
}

func (s *Service) User() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Username returns the user's username field, if any.
func (s *Service) Username() string {
	var u struct {
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if json.Unmarshal(s.User(), &u) != nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Name
}

func (s *Service) ExpiresAt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

func (s *Service) currentToken(context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Service) setSession(res *api.AuthResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = res.AccessToken
	if res.RefreshToken != "" {
		s.refreshToken = res.RefreshToken
	}
	if u := userJSON(res.User); u != "" {
		s.user = json.RawMessage(u)
	}
	s.expiresAt = res.ExpiresAt
}

func userJSON(u json.RawMessage) string {
	v := strings.TrimSpace(string(u))
	if v == "null" {
		return ""
	}
	return v
}

func (s *Service) persist(ctx context.Context, res *api.AuthResult) error {
	user := userJSON(res.User)
	return s.store.SetMany(ctx, map[string]string{
		localstore.KeyAccessToken:  res.AccessToken,
		localstore.KeyRefreshToken: res.RefreshToken,
		localstore.KeyUser:         user,
		localstore.KeyExpiresAt:    res.ExpiresAt,
	})
}
