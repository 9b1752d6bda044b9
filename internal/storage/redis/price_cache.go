// Package redis keeps the latest observed price per asset in Redis so other
// processes can read it without touching the primary store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

const defaultTTL = 30 * time.Minute

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // expiry of each latest-price key
}

// setIfNewer writes the hash only when the stored timestamp is older.
var setIfNewer = goredis.NewScript(`
local ts = redis.call('HGET', KEYS[1], 'ts')
if ts and tonumber(ts) > tonumber(ARGV[3]) then
	return 0
end
redis.call('HSET', KEYS[1], 'price', ARGV[1], 'marketcap', ARGV[2], 'ts', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// PriceCache is a storage.PriceSink holding the latest price per asset.
type PriceCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// Compile-time interface check.
var _ storage.PriceSink = (*PriceCache)(nil)

// New connects to Redis and pings the server.
func New(ctx context.Context, cfg Config) (*PriceCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(client, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PriceCache{client: client, ttl: ttl}
}

// Client returns the underlying Redis client for health checks.
func (c *PriceCache) Client() *goredis.Client { return c.client }

// Close closes the client.
func (c *PriceCache) Close() error {
	return c.client.Close()
}

func latestKey(chain, assetKey string) string {
	return "price:latest:" + chain + ":" + assetKey
}

// SavePriceUpdate stores u unless a newer update is already cached.
func (c *PriceCache) SavePriceUpdate(ctx context.Context, u *domain.PriceUpdate) error {
	if u == nil || u.AssetKey == "" {
		return storage.ErrInvalidInput
	}
	err := setIfNewer.Run(ctx, c.client,
		[]string{latestKey(u.Chain, u.AssetKey)},
		strconv.FormatFloat(u.Price, 'g', -1, 64),
		strconv.FormatFloat(u.Marketcap, 'g', -1, 64),
		u.Timestamp,
		c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis set latest %s: %w", u.AssetKey, err)
	}
	return nil
}

// Latest returns the cached update. Returns ErrNotFound when absent or expired.
func (c *PriceCache) Latest(ctx context.Context, chain, assetKey string) (*domain.PriceUpdate, error) {
	vals, err := c.client.HGetAll(ctx, latestKey(chain, assetKey)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis get latest %s: %w", assetKey, err)
	}
	if len(vals) == 0 {
		return nil, storage.ErrNotFound
	}

	u := &domain.PriceUpdate{AssetKey: assetKey, Chain: chain}
	if u.Price, err = strconv.ParseFloat(vals["price"], 64); err != nil {
		return nil, fmt.Errorf("parse cached price: %w", err)
	}
	if u.Marketcap, err = strconv.ParseFloat(vals["marketcap"], 64); err != nil {
		return nil, fmt.Errorf("parse cached marketcap: %w", err)
	}
	if u.Timestamp, err = strconv.ParseInt(vals["ts"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse cached timestamp: %w", err)
	}
	return u, nil
}
