package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/orrn/printagent/internal/core"
	applog "github.com/orrn/printagent/internal/log"
	"github.com/orrn/printagent/internal/metrics"
)

const defaultTokenTTL = 24 * time.Hour

// LoginFunc performs one login against the remote service.
type LoginFunc func(ctx context.Context) (string, error)

// Session caches the bearer token for the remote service. A token is reused
// until its expiry and refreshed lazily on the next call after that.
// Concurrent refreshes collapse into a single login.
type Session struct {
	mu     sync.Mutex
	token  string
	expiry time.Time

	ttl    time.Duration
	login  LoginFunc
	now    func() time.Time
	group  singleflight.Group
	logger zerolog.Logger
}

func NewSession(login LoginFunc, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Session{
		ttl:    ttl,
		login:  login,
		now:    time.Now,
		logger: applog.WithComponent("session"),
	}
}

func (s *Session) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expiry) {
		return s.token, true
	}
	return "", false
}

// Token returns a valid bearer token, logging in when none is cached.
func (s *Session) Token(ctx context.Context) (string, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}

	v, err, _ := s.group.Do("login", func() (any, error) {
		if token, ok := s.cached(); ok {
			return token, nil
		}

		token, err := s.login(ctx)
		if err == nil && token == "" {
			err = errors.New("login response carried no token")
		}
		if err != nil {
			s.Invalidate()
			metrics.RecordLogin(false)
			if errors.Is(err, core.ErrAuth) {
				return nil, err
			}
			return nil, core.NewError(core.ErrAuth, "login", err)
		}

		now := s.now()
		expiry := tokenExpiry(token, now.Add(s.ttl))

		s.mu.Lock()
		s.token = token
		s.expiry = expiry
		s.mu.Unlock()

		metrics.RecordLogin(true)
		s.logger.Info().Time("expires_at", expiry).Msg("session established")
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call logs in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}

// tokenExpiry caps limit by the token's own exp claim when the token is a
// JWT. The signature is not checked; the claim only shortens the cache.
func tokenExpiry(token string, limit time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return limit
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return limit
	}
	if exp.Time.Before(limit) {
		return exp.Time
	}
	return limit
}
