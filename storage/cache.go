package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// Cache wraps a Store with a Redis read-through cache. Writes go to the base
// store first and then evict the cached copy.
type Cache struct {
	base  Store
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, key string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, key: key, ttl: ttl}
}

func (c *Cache) Load(ctx context.Context) (domain.Document, error) {
	if doc, ok := c.loadFromCache(ctx); ok {
		return doc, nil
	}
	doc, err := c.base.Load(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	c.store(ctx, doc)
	return doc, nil
}

func (c *Cache) Save(ctx context.Context, doc domain.Document) error {
	if err := c.base.Save(ctx, doc); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) SaveIfVersion(ctx context.Context, doc domain.Document, expected int64) error {
	cs, ok := c.base.(ConditionalSaver)
	if !ok {
		return c.Save(ctx, doc)
	}
	err := cs.SaveIfVersion(ctx, doc, expected)
	// A conflict means the cached copy may be stale as well.
	if err == nil || errors.Is(err, domain.ErrVersionConflict) {
		c.evict(ctx)
	}
	return err
}

func (c *Cache) Subscribe(ctx context.Context, onChange ChangeFunc, onError func(error)) (func(), error) {
	sub, ok := c.base.(Subscriber)
	if !ok {
		return func() {}, nil
	}
	return sub.Subscribe(ctx, onChange, onError)
}

func (c *Cache) loadFromCache(ctx context.Context) (domain.Document, bool) {
	if c.redis == nil {
		return domain.Document{}, false
	}
	data, err := c.redis.Get(ctx, c.cacheKey()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, c.cacheKey()).Err()
		}
		return domain.Document{}, false
	}
	doc, err := decodeDocument(data)
	if err != nil {
		_ = c.redis.Del(ctx, c.cacheKey()).Err()
		return domain.Document{}, false
	}
	return doc, true
}

func (c *Cache) store(ctx context.Context, doc domain.Document) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.cacheKey(), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, c.cacheKey()).Err()
}

func (c *Cache) cacheKey() string {
	return "cache:" + c.key
}
