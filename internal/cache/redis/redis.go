// Package redis stores listing cache validators in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// DefaultPrefix namespaces validator keys.
const DefaultPrefix = "edital:validators:"

// Options configures the client.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires stored validators; zero keeps them forever.
	TTL time.Duration
}

// Cache implements crawler.ValidatorStore.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects a client from opts.
func New(opts Options) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix, opts.TTL)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// GetValidators returns the stored validators for url, empty when none are stored.
func (c *Cache) GetValidators(ctx context.Context, url string) (crawler.CacheValidators, error) {
	val, err := c.client.Get(ctx, c.prefix+url).Bytes()
	if errors.Is(err, redis.Nil) {
		return crawler.CacheValidators{}, nil
	}
	if err != nil {
		return crawler.CacheValidators{}, fmt.Errorf("get validators: %w", err)
	}
	var v crawler.CacheValidators
	if err := json.Unmarshal(val, &v); err != nil {
		return crawler.CacheValidators{}, fmt.Errorf("decode validators: %w", err)
	}
	return v, nil
}

// PutValidators stores validators for url. Empty validators delete the key.
func (c *Cache) PutValidators(ctx context.Context, url string, v crawler.CacheValidators) error {
	key := c.prefix + url
	if v.Empty() {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("delete validators: %w", err)
		}
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode validators: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set validators: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.client.Close()
}

var _ crawler.ValidatorStore = (*Cache)(nil)
