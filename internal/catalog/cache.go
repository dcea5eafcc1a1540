package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// missMarker is stored for codes the backing store does not know, so repeated
// scans of a bad barcode do not reach Postgres.
const missMarker = "!"

// Cache keeps product snapshots in Redis keyed by item code.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	missTTL time.Duration
}

// NewCache returns a product cache. A non-positive ttl disables writes; misses
// are remembered for a tenth of ttl.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, missTTL: ttl / 10}
}

// ProductKey is the cache key for an item code.
func ProductKey(code string) string {
	return "catalog:product:" + code
}

func (c *Cache) enabled() bool { return c != nil && c.client != nil }

// Get returns the cached product for code. found is false when nothing is
// cached; a cached miss yields ErrNotFound.
func (c *Cache) Get(ctx context.Context, code string) (p Product, found bool, err error) {
	if !c.enabled() || code == "" {
		return Product{}, false, nil
	}
	raw, err := c.client.Get(ctx, ProductKey(code)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return Product{}, false, nil
	case err != nil:
		return Product{}, false, err
	case string(raw) == missMarker:
		return Product{}, true, ErrNotFound
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}

// Put stores a product snapshot.
func (c *Cache) Put(ctx context.Context, p Product) error {
	if !c.enabled() || p.Code == "" || c.ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, ProductKey(p.Code), raw, c.ttl).Err()
}

// Miss records that code is unknown.
func (c *Cache) Miss(ctx context.Context, code string) error {
	if !c.enabled() || code == "" || c.missTTL <= 0 {
		return nil
	}
	return c.client.Set(ctx, ProductKey(code), missMarker, c.missTTL).Err()
}

// Forget drops whatever is cached for the given codes.
func (c *Cache) Forget(ctx context.Context, codes ...string) error {
	if !c.enabled() || len(codes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(codes))
	for _, code := range codes {
		keys = append(keys, ProductKey(code))
	}
	return c.client.Del(ctx, keys...).Err()
}

// Cached is a read-through Reader. Stock figures it serves may lag by the
// cache TTL, so only the advisory cart checks use it; the commit path reads
// the uncached store.
type Cached struct {
	Next   Reader
	Cache  *Cache
	Logger zerolog.Logger
}

// GetByCode implements Reader.
func (c Cached) GetByCode(ctx context.Context, code string) (Product, error) {
	p, found, err := c.Cache.Get(ctx, code)
	switch {
	case found:
		return p, err
	case err != nil:
		c.Logger.Warn().Err(err).Str("code", code).Msg("catalog cache read failed")
	}

	p, err = c.Next.GetByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		if merr := c.Cache.Miss(ctx, code); merr != nil {
			c.Logger.Warn().Err(merr).Str("code", code).Msg("catalog cache miss write failed")
		}
		return Product{}, err
	}
	if err != nil {
		return Product{}, err
	}
	if err := c.Cache.Put(ctx, p); err != nil {
		c.Logger.Warn().Err(err).Str("code", code).Msg("catalog cache write failed")
	}
	return p, nil
}
