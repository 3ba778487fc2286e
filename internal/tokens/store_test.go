package tokens_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/registration-service/internal/domain"
	"github.com/spec-kit/registration-service/internal/repository/memory"
	"github.com/spec-kit/registration-service/internal/tokens"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T) (*tokens.Store, *memory.Store, *fakeClock, string) {
	t.Helper()
	mem := memory.NewStore()
	reg := &domain.Registration{
		Email:         "ada@example.com",
		FullName:      "Ada",
		PaymentStatus: domain.ReviewPending,
		ProfileStatus: domain.ReviewPending,
		TCCStatus:     domain.ReviewPending,
		Status:        domain.StatusWaitingForReview,
	}
	require.NoError(t, mem.Registrations().Create(context.Background(), reg))

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := tokens.NewStore(mem.Tokens(), "test-digest-key", tokens.WithClock(clock.Now))
	return store, mem, clock, reg.ID
}

func TestIssueStoresOnlyDigest(t *testing.T) {
	store, mem, _, regID := setup(t)

	plaintext, token, err := store.Issue(context.Background(), regID, domain.DimensionProfile, time.Hour)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(plaintext)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	stored := mem.UpdateTokens()
	require.Len(t, stored, 1)
	assert.Equal(t, token.ID, stored[0].ID)
	assert.NotEqual(t, plaintext, stored[0].Digest)
	assert.NotContains(t, stored[0].Digest, plaintext)
	assert.Len(t, stored[0].Digest, 64)
}

func TestIssueProducesDistinctTokens(t *testing.T) {
	store, _, _, regID := setup(t)

	a, _, err := store.Issue(context.Background(), regID, domain.DimensionPayment, time.Hour)
	require.NoError(t, err)
	b, _, err := store.Issue(context.Background(), regID, domain.DimensionPayment, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestIssueRejectsNonPositiveTTL(t *testing.T) {
	store, _, _, regID := setup(t)

	_, _, err := store.Issue(context.Background(), regID, domain.DimensionPayment, 0)
	require.Error(t, err)
}

func TestValidateAndConsumeRoundTrip(t *testing.T) {
	store, _, _, regID := setup(t)
	ctx := context.Background()

	plaintext, _, err := store.Issue(ctx, regID, domain.DimensionTCC, time.Hour)
	require.NoError(t, err)

	validated, err := store.Validate(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, regID, validated.RegistrationID)
	assert.Equal(t, domain.DimensionTCC, validated.Dimension)

	consumed, err := store.Consume(ctx, plaintext)
	require.NoError(t, err)
	assert.True(t, consumed.Used)
	require.NotNil(t, consumed.UsedAt)

	_, err = store.Consume(ctx, plaintext)
	require.ErrorIs(t, err, tokens.ErrInvalid)
	reason, ok := tokens.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, tokens.ReasonAlreadyUsed, reason)

	_, err = store.Validate(ctx, plaintext)
	require.ErrorIs(t, err, tokens.ErrInvalid)
}

func TestExpiredTokenIsInvalid(t *testing.T) {
	store, _, clock, regID := setup(t)
	ctx := context.Background()

	plaintext, _, err := store.Issue(ctx, regID, domain.DimensionPayment, time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour)

	_, err = store.Validate(ctx, plaintext)
	require.ErrorIs(t, err, tokens.ErrInvalid)
	reason, _ := tokens.ReasonOf(err)
	assert.Equal(t, tokens.ReasonExpired, reason)

	_, err = store.Consume(ctx, plaintext)
	require.ErrorIs(t, err, tokens.ErrInvalid)
	reason, _ = tokens.ReasonOf(err)
	assert.Equal(t, tokens.ReasonExpired, reason)
}

func TestUnknownTokenIsInvalid(t *testing.T) {
	store, _, _, _ := setup(t)

	for _, candidate := range []string{"", "not-a-token"} {
		_, err := store.Validate(context.Background(), candidate)
		require.ErrorIs(t, err, tokens.ErrInvalid)
		reason, _ := tokens.ReasonOf(err)
		assert.Equal(t, tokens.ReasonNotFound, reason)
	}
}

func TestDigestKeyMatters(t *testing.T) {
	store, mem, _, regID := setup(t)
	ctx := context.Background()

	plaintext, _, err := store.Issue(ctx, regID, domain.DimensionPayment, time.Hour)
	require.NoError(t, err)

	other := tokens.NewStore(mem.Tokens(), "another-key")
	_, err = other.Validate(ctx, plaintext)
	require.ErrorIs(t, err, tokens.ErrInvalid)
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	store, _, _, regID := setup(t)
	ctx := context.Background()

	plaintext, _, err := store.Issue(ctx, regID, domain.DimensionProfile, time.Hour)
	require.NoError(t, err)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(ctx, plaintext)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, tokens.ErrInvalid):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, rejected)
}
