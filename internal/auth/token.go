// Package auth owns the signed-in session: the bearer token chain used by
// the hub and API clients, login, refresh and logout.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/localstore"
	"github.com/examdesk/examdesk/internal/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrNoRefreshToken is returned when a refresh is requested with nothing
// stored to refresh with.
var ErrNoRefreshToken = errors.New("auth: no refresh token")

// Store is the persistent key/value storage the session lives in.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetMany(ctx context.Context, pairs map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*api.AuthResult, error)
}

type TokenSourceOptions struct {
	Store     Store     // optional
	Refresher Refresher // optional; nil disables refresh
	// TokenKey is the storage key holding the access token.
	TokenKey    string
	StaticToken string
	Logger      zerolog.Logger
}

// TokenSource resolves the bearer token for each request or connection
// attempt: installed provider, then stored token, then session value, then
// the static fallback. Values are trimmed; empty means no token. A JWT whose
// exp has passed is refreshed once.
type TokenSource struct {
	store     Store
	refresher Refresher
	tokenKey  string
	static    string
	log       zerolog.Logger
	now       func() time.Time
	sf        singleflight.Group

	mu        sync.Mutex
	provider  func(ctx context.Context) string
	session   map[string]string
	onRefresh func(*api.AuthResult)
	tried     map[string]bool
}

func NewTokenSource(opts TokenSourceOptions) *TokenSource {
	key := opts.TokenKey
	if key == "" {
		key = localstore.KeyAccessToken
	}
	return &TokenSource{
		store:     opts.Store,
		refresher: opts.Refresher,
		tokenKey:  key,
		static:    strings.TrimSpace(opts.StaticToken),
		log:       logging.Component(opts.Logger, "auth"),
		now:       time.Now,
		session:   make(map[string]string),
		tried:     make(map[string]bool),
	}
}

// SetProvider installs the highest-priority token source. nil removes it.
func (s *TokenSource) SetProvider(fn func(ctx context.Context) string) {
	s.mu.Lock()
	s.provider = fn
	s.mu.Unlock()
}

// SetSessionToken sets the per-run token consulted after storage.
func (s *TokenSource) SetSessionToken(token string) {
	s.mu.Lock()
	if token == "" {
		delete(s.session, s.tokenKey)
	} else {
		s.session[s.tokenKey] = token
	}
	s.mu.Unlock()
}

// OnRefresh registers fn to observe successful refreshes.
func (s *TokenSource) OnRefresh(fn func(*api.AuthResult)) {
	s.mu.Lock()
	s.onRefresh = fn
	s.mu.Unlock()
}

// Token implements the token provider interfaces of the hub and API clients.
func (s *TokenSource) Token(ctx context.Context) string {
	tok := s.lookup(ctx)
	if tok == "" || s.refresher == nil || s.store == nil {
		return tok
	}
	if !expired(tok, s.now()) {
		return tok
	}
	return s.refreshExpired(ctx, tok)
}

func (s *TokenSource) lookup(ctx context.Context) string {
	s.mu.Lock()
	provider := s.provider
	sessionTok := s.session[s.tokenKey]
	s.mu.Unlock()

	if provider != nil {
		if tok := strings.TrimSpace(provider(ctx)); tok != "" {
			return tok
		}
	}
	if s.store != nil {
		v, err := s.store.Get(ctx, s.tokenKey)
		switch {
		case err == nil:
			if tok := strings.TrimSpace(v); tok != "" {
				return tok
			}
		case !errors.Is(err, localstore.ErrNotFound):
			s.log.Warn().Err(err).Msg("read stored token")
		}
	}
	if tok := strings.TrimSpace(sessionTok); tok != "" {
		return tok
	}
	return s.static
}

// refreshExpired refreshes stale at most once. Concurrent callers share the
// attempt; a failed attempt is not repeated for the same token and the stale
// token is returned.
func (s *TokenSource) refreshExpired(ctx context.Context, stale string) string {
	v, _, _ := s.sf.Do(stale, func() (any, error) {
		s.mu.Lock()
		if s.tried[stale] {
			s.mu.Unlock()
			return stale, nil
		}
		s.tried[stale] = true
		s.mu.Unlock()

		res, err := s.Refresh(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("token expired and refresh failed")
			return stale, nil
		}
		s.log.Info().Msg("access token refreshed")
		return res.AccessToken, nil
	})
	return v.(string)
}

// Refresh exchanges the stored refresh token and persists the result.
func (s *TokenSource) Refresh(ctx context.Context) (*api.AuthResult, error) {
	if s.store == nil || s.refresher == nil {
		return nil, ErrNoRefreshToken
	}
	rt, err := s.store.Get(ctx, localstore.KeyRefreshToken)
	if errors.Is(err, localstore.ErrNotFound) || (err == nil && strings.TrimSpace(rt) == "") {
		return nil, ErrNoRefreshToken
	}
	if err != nil {
		return nil, err
	}

	res, err := s.refresher.Refresh(ctx, strings.TrimSpace(rt))
	if err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, errors.New("auth: refresh returned no token")
	}
	if res.RefreshToken == "" {
		res.RefreshToken = strings.TrimSpace(rt)
	}
	pairs := map[string]string{
		s.tokenKey:                 res.AccessToken,
		localstore.KeyRefreshToken: res.RefreshToken,
		localstore.KeyExpiresAt:    res.ExpiresAt,
	}
	if err := s.store.SetMany(ctx, pairs); err != nil {
		return nil, err
	}

	s.mu.Lock()
	fn := s.onRefresh
	s.mu.Unlock()
	if fn != nil {
		fn(res)
	}
	return res, nil
}

// expired reports whether tok is a JWT whose exp is at or before now.
// Opaque tokens and JWTs without exp never expire here.
func expired(tok string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
