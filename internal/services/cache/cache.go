package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/legal-qa-backend-go/internal/config"
	"github.com/legal-qa-backend-go/internal/models"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Service defines answer cache operations. Lookups and stores fold the
// question through the same normalization, so phrasings differing only in
// case or surrounding whitespace share one entry. A hit increments the hit
// counter and never mutates the stored answer.
type Service interface {
	Lookup(ctx context.Context, question string) (*models.CachedAnswer, bool)
	Store(ctx context.Context, question, answer string) error
}

// NormalizeQuestion folds a question into its cache-key form: trimmed and
// case-folded. Near-duplicate but non-identical questions may collide; that
// trade-off is accepted.
func NormalizeQuestion(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}

// Key returns the content-addressed storage key for a question
func Key(question string) string {
	hash := sha256.Sum256([]byte(NormalizeQuestion(question)))
	return hex.EncodeToString(hash[:])
}

// New creates the configured cache backend
func New(cfg *config.Config, client *redis.Client, logger *logrus.Logger) Service {
	if !cfg.Cache.Enabled {
		return &disabledCache{}
	}
	if cfg.Storage.Type == "redis" && client != nil {
		return NewRedisCache(client, cfg.Cache.TTL, logger)
	}
	return NewMemoryCache(cfg.Cache.TTL, logger)
}

type disabledCache struct{}

func (d *disabledCache) Lookup(ctx context.Context, question string) (*models.CachedAnswer, bool) {
	return nil, false
}

func (d *disabledCache) Store(ctx context.Context, question, answer string) error {
	return nil
}

// MemoryCache implements the answer cache in process
type MemoryCache struct {
	mu      sync.Mutex
	entries *gocache.Cache
	logger  *logrus.Logger
}

// NewMemoryCache creates an in-memory answer cache
func NewMemoryCache(ttl time.Duration, logger *logrus.Logger) *MemoryCache {
	return &MemoryCache{
		entries: gocache.New(ttl, ttl*2),
		logger:  logger,
	}
}

func (c *MemoryCache) Lookup(ctx context.Context, question string) (*models.CachedAnswer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, found := c.entries.Get(Key(question))
	if !found {
		return nil, false
	}

	entry := val.(*models.CachedAnswer)
	entry.Hits++
	entry.LastHitAt = time.Now()

	c.logger.WithFields(logrus.Fields{
		"question": NormalizeQuestion(question),
		"hits":     entry.Hits,
		"age":      time.Since(entry.CreatedAt),
	}).Debug("Cache hit")

	// Return a copy so callers cannot mutate the stored answer
	copied := *entry
	return &copied, true
}

func (c *MemoryCache) Store(ctx context.Context, question, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &models.CachedAnswer{
		Question:  NormalizeQuestion(question),
		Answer:    answer,
		CreatedAt: time.Now(),
	}
	c.entries.SetDefault(Key(question), entry)

	c.logger.WithField("question", entry.Question).Debug("Answer cached")
	return nil
}

// RedisCache implements the answer cache on a shared Redis instance, one
// hash per entry
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisCache creates a Redis-backed answer cache
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) redisKey(question string) string {
	return "answer:" + Key(question)
}

func (c *RedisCache) Lookup(ctx context.Context, question string) (*models.CachedAnswer, bool) {
	key := c.redisKey(question)
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.WithError(err).Warn("Cache lookup failed")
		return nil, false
	}
	if len(fields) == 0 {
		return nil, false
	}

	now := time.Now()
	pipe := c.client.TxPipeline()
	hits := pipe.HIncrBy(ctx, key, "hits", 1)
	pipe.HSet(ctx, key, "last_hit_at", now.Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to record cache hit")
	}

	entry := &models.CachedAnswer{
		Question:  fields["question"],
		Answer:    fields["answer"],
		Hits:      hits.Val(),
		LastHitAt: now,
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		entry.CreatedAt = t
	}

	c.logger.WithFields(logrus.Fields{
		"question": entry.Question,
		"hits":     entry.Hits,
	}).Debug("Cache hit")

	return entry, true
}

func (c *RedisCache) Store(ctx context.Context, question, answer string) error {
	key := c.redisKey(question)
	normalized := NormalizeQuestion(question)

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"question":   normalized,
		"answer":     answer,
		"hits":       0,
		"created_at": time.Now().Format(time.RFC3339Nano),
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	c.logger.WithField("question", normalized).Debug("Answer cached")
	return nil
}
