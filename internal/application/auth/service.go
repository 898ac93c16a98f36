package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
)

// Service authenticates reviewers by API key. Keys are presented as
// "reviewer:secret" and checked against a bcrypt hash per reviewer.
type Service struct {
	hashes map[string]string
	logger zerolog.Logger

	mu       sync.RWMutex
	verified map[string]string
}

// NewService creates an auth service. With no keys configured the
// service is disabled and callers fall back to the declared actor.
func NewService(hashes map[string]string, logger zerolog.Logger) *Service {
	return &Service{
		hashes:   hashes,
		logger:   logger.With().Str("service", "auth").Logger(),
		verified: map[string]string{},
	}
}

// Enabled reports whether any key is configured.
func (s *Service) Enabled() bool {
	return len(s.hashes) > 0
}

// Authenticate returns the reviewer id that owns token.
func (s *Service) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingKey
	}
	digest := hashToken(token)
	s.mu.RLock()
	reviewer, ok := s.verified[digest]
	s.mu.RUnlock()
	if ok {
		return reviewer, nil
	}

	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return "", ErrInvalidKey
	}
	reviewer, secret := parts[0], parts[1]
	hash, ok := s.hashes[reviewer]
	if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		s.logger.Warn().Str("reviewer", reviewer).Msg("api key rejected")
		return "", ErrInvalidKey
	}

	s.mu.Lock()
	s.verified[digest] = reviewer
	s.mu.Unlock()
	return reviewer, nil
}

// HashKey produces the bcrypt hash to place in API_KEYS.
func HashKey(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
