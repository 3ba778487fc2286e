// Package tokens issues and redeems the single-use links that let an applicant
// resubmit one review dimension.
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/registration-service/internal/domain"
	"github.com/spec-kit/registration-service/internal/repository"
)

const tokenBytes = 32

// Store creates, validates and consumes update tokens. Only a keyed digest of
// each token is persisted.
type Store struct {
	repo   repository.UpdateTokenRepository
	key    [32]byte
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used for rejection reasons.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore builds a token store. digestKey keys the BLAKE2b digest so a leaked
// table cannot be replayed against the update form.
func NewStore(repo repository.UpdateTokenRepository, digestKey string, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		key:    blake2b.Sum256([]byte(digestKey)),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints a token for one dimension of a registration. The plaintext is
// returned exactly once.
func (s *Store) Issue(ctx context.Context, registrationID string, dimension domain.Dimension, ttl time.Duration) (string, *domain.UpdateToken, error) {
	if ttl <= 0 {
		return "", nil, fmt.Errorf("token ttl must be positive")
	}
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	token := &domain.UpdateToken{
		Digest:         s.digest(plaintext),
		RegistrationID: registrationID,
		Dimension:      dimension,
		ExpiresAt:      s.now().Add(ttl),
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return "", nil, fmt.Errorf("store token: %w", err)
	}
	return plaintext, token, nil
}

// Validate returns the token when it exists, is unused and unexpired.
// Every other case is ErrInvalid.
func (s *Store) Validate(ctx context.Context, plaintext string) (*domain.UpdateToken, error) {
	if plaintext == "" {
		return nil, s.reject(ctx, ReasonNotFound)
	}
	token, err := s.repo.GetByDigest(ctx, s.digest(plaintext))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, s.reject(ctx, ReasonNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if reason, ok := s.unusableReason(token); ok {
		return nil, s.reject(ctx, reason)
	}
	return token, nil
}

// Consume marks the token used with a single guarded update. Of two concurrent
// calls for the same token at most one succeeds.
func (s *Store) Consume(ctx context.Context, plaintext string) (*domain.UpdateToken, error) {
	if plaintext == "" {
		return nil, s.reject(ctx, ReasonNotFound)
	}
	digest := s.digest(plaintext)
	token, err := s.repo.Consume(ctx, digest, s.now())
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("consume token: %w", err)
	}

	existing, lookupErr := s.repo.GetByDigest(ctx, digest)
	switch {
	case errors.Is(lookupErr, repository.ErrNotFound):
		return nil, s.reject(ctx, ReasonNotFound)
	case lookupErr != nil:
		return nil, fmt.Errorf("lookup token: %w", lookupErr)
	}
	if existing.Used {
		return nil, s.reject(ctx, ReasonAlreadyUsed)
	}
	return nil, s.reject(ctx, ReasonExpired)
}

func (s *Store) unusableReason(token *domain.UpdateToken) (Reason, bool) {
	if token.Used {
		return ReasonAlreadyUsed, true
	}
	if !s.now().Before(token.ExpiresAt) {
		return ReasonExpired, true
	}
	return 0, false
}

func (s *Store) reject(_ context.Context, reason Reason) error {
	s.logger.Info("update token rejected", zap.String("reason", reason.String()))
	return &InvalidError{Reason: reason}
}

func (s *Store) digest(plaintext string) string {
	mac, _ := blake2b.New256(s.key[:])
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}
