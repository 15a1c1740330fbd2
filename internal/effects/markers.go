package effects

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"labcart/internal/orders"
)

func markerKey(orderID string, to orders.State, effect Effect) string {
	return fmt.Sprintf("labcart:effect:%s:%s:%s", orderID, to, effect)
}

// NewInMemoryMarkerStore constructs an in-memory marker store.
func NewInMemoryMarkerStore() *InMemoryMarkerStore {
	return &InMemoryMarkerStore{claimed: make(map[string]bool)}
}

// InMemoryMarkerStore keeps markers in a map; the single-process fallback
// when no Redis is configured.
type InMemoryMarkerStore struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func (s *InMemoryMarkerStore) Claim(ctx context.Context, orderID string, to orders.State, effect Effect) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := markerKey(orderID, to, effect)
	if s.claimed[key] {
		return false, nil
	}
	s.claimed[key] = true
	return true, nil
}

func (s *InMemoryMarkerStore) Release(ctx context.Context, orderID string, to orders.State, effect Effect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, markerKey(orderID, to, effect))
	return nil
}

// Claimed reports whether the marker is held (for inspection).
func (s *InMemoryMarkerStore) Claimed(orderID string, to orders.State, effect Effect) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed[markerKey(orderID, to, effect)]
}

// RedisMarkerStore keeps markers in Redis with a TTL, so markers orphaned by
// a crash between claim and release eventually expire and the effect retries.
type RedisMarkerStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisMarkerStore constructs a marker store over the given client. A zero
// ttl means markers never expire.
func NewRedisMarkerStore(client redis.UniversalClient, ttl time.Duration) *RedisMarkerStore {
	return &RedisMarkerStore{client: client, ttl: ttl}
}

func (s *RedisMarkerStore) Claim(ctx context.Context, orderID string, to orders.State, effect Effect) (bool, error) {
	ok, err := s.client.SetNX(ctx, markerKey(orderID, to, effect), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marker setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisMarkerStore) Release(ctx context.Context, orderID string, to orders.State, effect Effect) error {
	if err := s.client.Del(ctx, markerKey(orderID, to, effect)).Err(); err != nil {
		return fmt.Errorf("marker del: %w", err)
	}
	return nil
}
