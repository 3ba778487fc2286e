// Package memory provides in-process twins of the Postgres repositories for
// tests and local development. All three repositories share one lock so
// WithinTx gives the same all-or-nothing behavior as a database transaction.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/registration-service/internal/domain"
	"github.com/spec-kit/registration-service/internal/repository"
)

type txKey struct{}

// Store holds registrations, update tokens and outbox entries.
type Store struct {
	mu            sync.Mutex
	registrations map[string]domain.Registration
	tokens        map[string]domain.UpdateToken
	outbox        map[string]domain.OutboxEntry
	seq           int64
	now           func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		registrations: make(map[string]domain.Registration),
		tokens:        make(map[string]domain.UpdateToken),
		outbox:        make(map[string]domain.OutboxEntry),
		now:           time.Now,
	}
}

// Registrations returns the registration repository view.
func (s *Store) Registrations() repository.RegistrationRepository { return &registrationRepo{s} }

// Tokens returns the update token repository view.
func (s *Store) Tokens() repository.UpdateTokenRepository { return &tokenRepo{s} }

// Outbox returns the outbox repository view.
func (s *Store) Outbox() repository.OutboxRepository { return &outboxRepo{s} }

// WithinTx holds the store lock for the whole of fn and restores the previous
// state when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

// OutboxEntries returns every entry in creation order.
func (s *Store) OutboxEntries() []domain.OutboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedOutbox(func(domain.OutboxEntry) bool { return true })
}

// UpdateTokens returns every token in creation order.
func (s *Store) UpdateTokens() []domain.UpdateToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.UpdateToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

type state struct {
	registrations map[string]domain.Registration
	tokens        map[string]domain.UpdateToken
	outbox        map[string]domain.OutboxEntry
	seq           int64
}

func (s *Store) snapshot() state {
	st := state{
		registrations: make(map[string]domain.Registration, len(s.registrations)),
		tokens:        make(map[string]domain.UpdateToken, len(s.tokens)),
		outbox:        make(map[string]domain.OutboxEntry, len(s.outbox)),
		seq:           s.seq,
	}
	for k, v := range s.registrations {
		st.registrations[k] = v
	}
	for k, v := range s.tokens {
		st.tokens[k] = v
	}
	for k, v := range s.outbox {
		st.outbox[k] = v
	}
	return st
}

func (s *Store) restore(st state) {
	s.registrations = st.registrations
	s.tokens = st.tokens
	s.outbox = st.outbox
	s.seq = st.seq
}

// lock takes the store lock unless ctx already runs inside WithinTx.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// stamp returns a strictly increasing creation time so ordering is stable even
// when the wall clock does not move between inserts.
func (s *Store) stamp() time.Time {
	s.seq++
	return s.now().Add(time.Duration(s.seq) * time.Microsecond)
}

func (s *Store) sortedOutbox(keep func(domain.OutboxEntry) bool) []domain.OutboxEntry {
	result := make([]domain.OutboxEntry, 0, len(s.outbox))
	for _, e := range s.outbox {
		if keep(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

type registrationRepo struct{ s *Store }

func (r *registrationRepo) Create(ctx context.Context, reg *domain.Registration) error {
	defer r.s.lock(ctx)()
	reg.ID = uuid.NewString()
	reg.CreatedAt = r.s.stamp()
	reg.UpdatedAt = reg.CreatedAt
	r.s.registrations[reg.ID] = *reg
	return nil
}

func (r *registrationRepo) Update(ctx context.Context, reg *domain.Registration) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.registrations[reg.ID]; !ok {
		return repository.ErrNotFound
	}
	reg.UpdatedAt = r.s.stamp()
	r.s.registrations[reg.ID] = *reg
	return nil
}

func (r *registrationRepo) GetByID(ctx context.Context, id string) (*domain.Registration, error) {
	defer r.s.lock(ctx)()
	reg, ok := r.s.registrations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &reg, nil
}

func (r *registrationRepo) GetForUpdate(ctx context.Context, id string) (*domain.Registration, error) {
	return r.GetByID(ctx, id)
}

type tokenRepo struct{ s *Store }

func (r *tokenRepo) Create(ctx context.Context, token *domain.UpdateToken) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.registrations[token.RegistrationID]; !ok {
		return repository.ErrNotFound
	}
	for _, existing := range r.s.tokens {
		if existing.Digest == token.Digest {
			return repository.ErrConflict
		}
	}
	token.ID = uuid.NewString()
	token.CreatedAt = r.s.stamp()
	r.s.tokens[token.ID] = *token
	return nil
}

func (r *tokenRepo) GetByDigest(ctx context.Context, digest string) (*domain.UpdateToken, error) {
	defer r.s.lock(ctx)()
	for _, t := range r.s.tokens {
		if t.Digest == digest {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *tokenRepo) Consume(ctx context.Context, digest string, now time.Time) (*domain.UpdateToken, error) {
	defer r.s.lock(ctx)()
	for id, t := range r.s.tokens {
		if t.Digest != digest {
			continue
		}
		if !t.UsableAt(now) {
			return nil, repository.ErrNotFound
		}
		usedAt := now
		t.Used = true
		t.UsedAt = &usedAt
		r.s.tokens[id] = t
		return &t, nil
	}
	return nil, repository.ErrNotFound
}

func (r *tokenRepo) ListByRegistration(ctx context.Context, registrationID string) ([]domain.UpdateToken, error) {
	defer r.s.lock(ctx)()
	var result []domain.UpdateToken
	for _, t := range r.s.tokens {
		if t.RegistrationID == registrationID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	defer r.s.lock(ctx)()
	if entry.Status == "" {
		entry.Status = domain.OutboxPending
	}
	if len(entry.Payload) == 0 {
		entry.Payload = []byte("{}")
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = r.s.stamp()
	r.s.outbox[entry.ID] = *entry
	return nil
}

func (r *outboxRepo) ListDispatchable(ctx context.Context, staleBefore time.Time) ([]domain.OutboxEntry, error) {
	defer r.s.lock(ctx)()
	return r.s.sortedOutbox(func(e domain.OutboxEntry) bool {
		return e.Status.Dispatchable() || staleClaim(e, staleBefore)
	}), nil
}

func (r *outboxRepo) Claim(ctx context.Context, id string, from domain.OutboxStatus, staleBefore time.Time, now time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	e, ok := r.s.outbox[id]
	if !ok || e.Status != from {
		return false, nil
	}
	if from == domain.OutboxInProgress && !staleClaim(e, staleBefore) {
		return false, nil
	}
	claimedAt := now
	e.Status = domain.OutboxInProgress
	e.Attempts++
	e.ClaimedAt = &claimedAt
	r.s.outbox[id] = e
	return true, nil
}

func (r *outboxRepo) Park(ctx context.Context, id string, status domain.OutboxStatus) error {
	defer r.s.lock(ctx)()
	e, ok := r.s.outbox[id]
	if !ok || !e.Status.Dispatchable() {
		return nil
	}
	e.Status = status
	r.s.outbox[id] = e
	return nil
}

func (r *outboxRepo) Complete(ctx context.Context, id string, status domain.OutboxStatus, lastError *string, now time.Time) error {
	defer r.s.lock(ctx)()
	e, ok := r.s.outbox[id]
	if !ok || e.Status != domain.OutboxInProgress {
		return repository.ErrNotFound
	}
	e.Status = status
	e.LastError = lastError
	if status == domain.OutboxSent {
		sentAt := now
		e.SentAt = &sentAt
	}
	r.s.outbox[id] = e
	return nil
}

func (r *outboxRepo) ListByRecipient(ctx context.Context, recipient string) ([]domain.OutboxEntry, error) {
	defer r.s.lock(ctx)()
	return r.s.sortedOutbox(func(e domain.OutboxEntry) bool { return e.Recipient == recipient }), nil
}

func staleClaim(e domain.OutboxEntry, staleBefore time.Time) bool {
	return e.Status == domain.OutboxInProgress && e.ClaimedAt != nil && e.ClaimedAt.Before(staleBefore)
}
