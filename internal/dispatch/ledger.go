package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger remembers which entries the provider already accepted, so an entry
// whose status write was lost is not mailed a second time when reclaimed.
type Ledger interface {
	Delivered(ctx context.Context, entryID string) (bool, error)
	Record(ctx context.Context, entryID string) error
}

// RedisLedger keeps one expiring key per delivered entry.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger returns a ledger whose markers live for ttl.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, prefix: "outbox:delivered:", ttl: ttl}
}

func (l *RedisLedger) Delivered(ctx context.Context, entryID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+entryID).Result()
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", entryID, err)
	}
	return n > 0, nil
}

func (l *RedisLedger) Record(ctx context.Context, entryID string) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := l.client.SetNX(ctx, l.prefix+entryID, stamp, l.ttl).Err(); err != nil {
		return fmt.Errorf("ledger record %s: %w", entryID, err)
	}
	return nil
}

// MemoryLedger is an in-process ledger for tests and single-instance setups.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]struct{}
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]struct{})}
}

func (l *MemoryLedger) Delivered(_ context.Context, entryID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[entryID]
	return ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, entryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entryID] = struct{}{}
	return nil
}
