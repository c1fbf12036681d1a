package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/internal/logger"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/rs/zerolog"
)

const (
	// KeyPrefix marks generated keys so they are recognisable in logs and configs.
	KeyPrefix = "whk_"
	keyBytes  = 32

	PermissionReceive = "webhook:receive"

	touchTimeout = 5 * time.Second
)

/* Service validates inbound API keys and the admin secret
 * Only SHA-256 hashes of API keys are stored or compared
 */
type Service struct {
	keys     webhook.KeyStore
	adminKey string
	log      zerolog.Logger
	now      func() time.Time
	pending  sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a credential service. An empty adminKey disables admin access.
func NewService(keys webhook.KeyStore, adminKey string, opts ...Option) *Service {
	s := &Service{
		keys:     keys,
		adminKey: adminKey,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashKey returns the lower-case hex SHA-256 of a plaintext key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ValidateAPIKey reports whether plaintext belongs to an active, unexpired key.
// Lookup errors fail closed. On success last_used_at is updated in the background.
func (s *Service) ValidateAPIKey(ctx context.Context, plaintext string) (webhook.APIKey, bool) {
	if plaintext == "" {
		return webhook.APIKey{}, false
	}

	key, err := s.keys.GetAPIKeyByHash(ctx, HashKey(plaintext))
	if err != nil {
		if !errors.Is(err, webhook.ErrNotFound) {
			s.log.Error().Err(err).Str("api_key", logger.MaskKey(plaintext)).Msg("api key lookup failed")
		}
		return webhook.APIKey{}, false
	}

	now := s.now()
	if !key.Usable(now) {
		return webhook.APIKey{}, false
	}

	s.pending.Add(1)
	go func(id string, at time.Time) {
		defer s.pending.Done()
		touchCtx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.keys.TouchAPIKey(touchCtx, id, at); err != nil {
			s.log.Warn().Err(err).Str("key_id", id).Msg("updating api key last_used_at")
		}
	}(key.ID, now.UTC())

	return key, true
}

// ValidateAdminKey compares candidate with the admin secret in constant time.
func (s *Service) ValidateAdminKey(candidate string) bool {
	if s.adminKey == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.adminKey)) == 1
}

// GenerateAPIKey creates and stores a new key. The plaintext is returned once
// and never persisted.
func (s *Service) GenerateAPIKey(ctx context.Context, name string, permissions []string, expiresAt *time.Time) (string, string, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating api key: %w", err)
	}
	plaintext := KeyPrefix + hex.EncodeToString(raw)

	if len(permissions) == 0 {
		permissions = []string{PermissionReceive}
	}

	key := webhook.APIKey{
		ID:          uuid.New().String(),
		Name:        name,
		KeyHash:     HashKey(plaintext),
		Permissions: permissions,
		IsActive:    true,
		CreatedAt:   s.now().UTC(),
		ExpiresAt:   expiresAt,
	}

	stored, err := s.keys.InsertAPIKey(ctx, key)
	if err != nil {
		return "", "", fmt.Errorf("storing api key: %w", err)
	}
	return plaintext, stored.ID, nil
}

// ListAPIKeys returns every registered key record.
func (s *Service) ListAPIKeys(ctx context.Context) ([]webhook.APIKey, error) {
	keys, err := s.keys.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	return keys, nil
}

// Wait blocks until pending last_used_at updates finish.
func (s *Service) Wait() {
	s.pending.Wait()
}
