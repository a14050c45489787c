package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CertCache stores PEM-encoded PayPal signing certificates by URL.
type CertCache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Set(ctx context.Context, url string, pem []byte, ttl time.Duration) error
}

const certCachePrefix = "paypal:cert:"

// RedisCertCache shares certificates across instances.
type RedisCertCache struct {
	redis *redis.Client
}

func NewRedisCertCache(client *redis.Client) *RedisCertCache {
	return &RedisCertCache{redis: client}
}

func (c *RedisCertCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	data, err := c.redis.Get(ctx, certCachePrefix+url).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("payments: cert cache get: %w", err)
	}
	return data, true, nil
}

func (c *RedisCertCache) Set(ctx context.Context, url string, pem []byte, ttl time.Duration) error {
	if err := c.redis.Set(ctx, certCachePrefix+url, pem, ttl).Err(); err != nil {
		return fmt.Errorf("payments: cert cache set: %w", err)
	}
	return nil
}

type memoryCert struct {
	pem     []byte
	expires time.Time
}

// MemoryCertCache is an in-process cache used when Redis is not configured.
type MemoryCertCache struct {
	mu    sync.RWMutex
	certs map[string]memoryCert
	now   func() time.Time
}

func NewMemoryCertCache() *MemoryCertCache {
	return &MemoryCertCache{certs: make(map[string]memoryCert), now: time.Now}
}

func (c *MemoryCertCache) Get(_ context.Context, url string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.certs[url]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && c.now().After(entry.expires) {
		c.mu.Lock()
		delete(c.certs, url)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.pem, true, nil
}

func (c *MemoryCertCache) Set(_ context.Context, url string, pem []byte, ttl time.Duration) error {
	entry := memoryCert{pem: pem}
	if ttl > 0 {
		entry.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.certs[url] = entry
	c.mu.Unlock()
	return nil
}

var (
	_ CertCache = (*RedisCertCache)(nil)
	_ CertCache = (*MemoryCertCache)(nil)
)
