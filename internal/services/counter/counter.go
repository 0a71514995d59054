package counter

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
)

// Store is a shared counter with atomic increment semantics. It backs both
// rate-limit windows and the anonymous free-quota guard, so two concurrent
// requests from the same identity cannot both claim the last slot.
type Store interface {
	// Incr atomically increments the counter and returns the new value.
	// The ttl applies from the counter's creation.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decr atomically decrements the counter and returns the new value.
	Decr(ctx context.Context, key string) (int64, error)
	// Get returns the current value, zero if absent.
	Get(ctx context.Context, key string) (int64, error)
	// SetMax raises the counter to at least value. Used to fold a
	// client-reported floor into the server-side counter.
	SetMax(ctx context.Context, key string, value int64, ttl time.Duration) error
}

// RedisStore implements Store on a shared Redis instance
type RedisStore struct {
	client *redis.Client
}

// setMaxScript raises the counter to the floor in one server-side step, so a
// stale read can never overwrite a concurrent Incr on the same key.
var setMaxScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local val = tonumber(ARGV[1])
if val > cur then
	if tonumber(ARGV[2]) > 0 then
		redis.call('SET', KEYS[1], val, 'PX', ARGV[2])
	else
		redis.call('SET', KEYS[1], val)
	end
end
return cur
`)

// NewRedisStore creates a Redis-backed counter store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	return s.client.Decr(ctx, key).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) SetMax(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return setMaxScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Err()
}

// MemoryStore implements Store in process, for single-node deployments
// and tests
type MemoryStore struct {
	mu      sync.Mutex
	entries *cache.Cache
}

// NewMemoryStore creates an in-memory counter store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.entries.Get(key); !found {
		s.entries.Set(key, int64(0), ttl)
	}
	return s.entries.IncrementInt64(key, 1)
}

func (s *MemoryStore) Decr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.entries.Get(key); !found {
		return 0, nil
	}
	return s.entries.DecrementInt64(key, 1)
}

func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if val, found := s.entries.Get(key); found {
		return val.(int64), nil
	}
	return 0, nil
}

func (s *MemoryStore) SetMax(ctx context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if val, found := s.entries.Get(key); found && val.(int64) >= value {
		return nil
	}
	s.entries.Set(key, value, ttl)
	return nil
}
