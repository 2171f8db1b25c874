// Package auth validates control-plane credentials: a static x-api-key
// scheme by default, with an optional JWT bearer-token mode for deployments
// that front the gateway with an identity provider.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agw/gateway/internal/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidKey   = errors.New("invalid api key")
	ErrInvalidToken = errors.New("invalid token")
)

// Mode selects which credential scheme Service.Authenticate checks.
type Mode string

const (
	ModeAPIKey Mode = "api_key"
	ModeJWT    Mode = "jwt"
)

// Config configures the auth service from gateway configuration.
type Config struct {
	Mode        Mode
	APIKeys     []string
	JWTSecret   string
	TokenExpiry time.Duration
}

// Service authenticates control-plane connections.
type Service struct {
	mu      sync.RWMutex
	mode    Mode
	apiKeys map[string]struct{}
	jwt     *jwtService
}

// NewService builds a Service from static configuration. A zero Config
// disables authentication entirely (Enabled returns false).
func NewService(cfg Config) *Service {
	s := &Service{mode: cfg.Mode, apiKeys: map[string]struct{}{}}
	for _, k := range cfg.APIKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			s.apiKeys[k] = struct{}{}
		}
	}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		s.jwt = newJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	if s.mode == "" {
		s.mode = ModeAPIKey
	}
	return s
}

// Enabled reports whether the configured scheme has any credentials to
// check against. A disabled service's Authenticate returns ErrAuthDisabled;
// callers that see Enabled() == false skip authentication.
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.mode {
	case ModeJWT:
		return s.jwt != nil
	default:
		return len(s.apiKeys) > 0
	}
}

// Authenticate checks credential against the configured scheme and returns
// the identity it resolves to. Comparison against stored API keys is
// constant-time to avoid leaking key material through response timing.
func (s *Service) Authenticate(credential string) (models.User, error) {
	s.mu.RLock()
	mode := s.mode
	s.mu.RUnlock()

	switch mode {
	case ModeJWT:
		return s.authenticateJWT(credential)
	default:
		return s.authenticateAPIKey(credential)
	}
}

func (s *Service) authenticateAPIKey(key string) (models.User, error) {
	s.mu.RLock()
	keys := s.apiKeys
	s.mu.RUnlock()

	if len(keys) == 0 {
		return models.User{}, ErrAuthDisabled
	}
	key = strings.TrimSpace(key)
	matched := false
	for stored := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(stored)) == 1 {
			matched = true
		}
	}
	if !matched {
		return models.User{}, ErrInvalidKey
	}
	return models.User{ID: "api-key", DisplayName: "api-key client"}, nil
}

func (s *Service) authenticateJWT(token string) (models.User, error) {
	s.mu.RLock()
	svc := s.jwt
	s.mu.RUnlock()
	if svc == nil {
		return models.User{}, ErrAuthDisabled
	}
	return svc.Validate(token)
}

// Issue mints a credential for user under the configured scheme. Only
// meaningful in JWT mode; API-key mode has no per-user tokens to issue.
func (s *Service) Issue(user models.User) (string, error) {
	s.mu.RLock()
	svc := s.jwt
	s.mu.RUnlock()
	if svc == nil {
		return "", ErrAuthDisabled
	}
	return svc.Generate(user)
}
