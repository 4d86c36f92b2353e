// Package idem provides durable one-shot markers that guard financial
// side effects. A claimed key stays claimed for good; markers are never
// cleared.
package idem

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store records idempotency markers. Claim returns true exactly once per
// key; every later claim of the same key returns false.
type Store interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// DebitKey marks that a user's stake was debited for a game
func DebitKey(gameID, userID string) string {
	return fmt.Sprintf("game_debited_%s_%s", gameID, userID)
}

// PayoutKey marks that a user settled (payout or loss stat) for a game
func PayoutKey(gameID, userID string) string {
	return fmt.Sprintf("game_%s_payout_%s", gameID, userID)
}

// CompanyKey marks that the platform commission was recorded for a game.
// Scoped to the game alone so only one of the two peers records it.
func CompanyKey(gameID string) string {
	return fmt.Sprintf("company_recorded_%s", gameID)
}

// MemoryStore keeps markers in process memory; used in tests and as a
// fallback when no durable store is wired.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool)}
}

func (s *MemoryStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

// RedisStore keeps markers in Redis under a shared prefix
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps a Redis client; prefix namespaces the marker keys
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.prefix+key, "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("idem claim %s: %w", key, err)
	}
	return ok, nil
}
