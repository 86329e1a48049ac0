package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/face"
)

const cacheKeyPrefix = "attendface:emb:"

// Cache abstracts the Redis operations used by the embedding cache to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis. A missing key returns redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.Get(ctx, key).Bytes()
}

// CacheScope identifies the extraction settings an embedding was produced
// under. Entries from another scope are never served.
type CacheScope struct {
	Model     string
	Dimension int
	Policy    MultiFacePolicy
}

// CachedExtractor memoises embeddings by image content so that resubmitting the
// same photo skips the model call. Faceless images are never cached.
type CachedExtractor struct {
	inner      Extractor
	cache      Cache
	scope      CacheScope
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// NewCachedExtractor creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"); it may be nil.
func NewCachedExtractor(inner Extractor, cache Cache, scope CacheScope, ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *CachedExtractor {
	return &CachedExtractor{
		inner:      inner,
		cache:      cache,
		scope:      scope,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger.Named("embedding_cache"),
	}
}

// Extract returns a cached embedding or calls the inner extractor.
func (c *CachedExtractor) Extract(ctx context.Context, image []byte) (face.Embedding, error) {
	key := c.scope.key(image)

	if vec, ok := c.lookup(ctx, key); ok {
		c.inc("hit")
		return vec, nil
	}
	c.inc("miss")

	vec, err := c.inner.Extract(ctx, image)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, encodeVector(vec), c.ttl); err != nil {
		c.logger.Warn("failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
	return vec, nil
}

func (c *CachedExtractor) lookup(ctx context.Context, key string) (face.Embedding, bool) {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("failed to read cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	vec, err := decodeVector(data)
	if err == nil {
		err = vec.Validate()
	}
	if err == nil && c.scope.Dimension > 0 && vec.Dim() != c.scope.Dimension {
		err = fmt.Errorf("%w: cached %d values, expected %d", face.ErrInvalidEmbedding, vec.Dim(), c.scope.Dimension)
	}
	if err != nil {
		c.logger.Warn("discarding malformed cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *CachedExtractor) inc(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (s CacheScope) key(image []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|", s.Model, s.Dimension, s.Policy)
	h.Write(image)
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func encodeVector(v face.Embedding) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(data []byte) (face.Embedding, error) {
	if len(data) == 0 || len(data)%8 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d", len(data))
	}
	vec := make(face.Embedding, len(data)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return vec, nil
}
