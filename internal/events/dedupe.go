package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMissingEventID is returned when a provider event has no id to claim.
var ErrMissingEventID = errors.New("events: event id required")

// Deduper claims provider event ids so a redelivered webhook is handled
// once. Claim returns false when the id was already claimed.
type Deduper interface {
	Claim(ctx context.Context, provider, eventID string) (bool, error)
}

const defaultDedupeTTL = 24 * time.Hour

// RedisDeduper keeps claims as expiring Redis keys.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("events: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl, prefix: "dedupe"}
}

func (d *RedisDeduper) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, ErrMissingEventID
	}
	ok, err := d.client.SetNX(ctx, d.key(provider, eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: claim %s/%s: %w", provider, eventID, err)
	}
	return ok, nil
}

func (d *RedisDeduper) key(provider, eventID string) string {
	return fmt.Sprintf("%s:%s:%s", d.prefix, provider, eventID)
}

// MemoryDeduper is a process-local Deduper for development and tests.
type MemoryDeduper struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &MemoryDeduper{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (d *MemoryDeduper) Claim(_ context.Context, provider, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, ErrMissingEventID
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, expires := range d.claims {
		if now.After(expires) {
			delete(d.claims, key)
		}
	}
	key := provider + ":" + eventID
	if _, seen := d.claims[key]; seen {
		return false, nil
	}
	d.claims[key] = now.Add(d.ttl)
	return true, nil
}
