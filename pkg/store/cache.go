package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/emstrack/mqttgate/pkg/acl"
	"github.com/emstrack/mqttgate/pkg/observability"
)

// cacheEntry is what both cache layers hold: either a grant or a superuser
// flag, depending on the key.
type cacheEntry struct {
	Grant     acl.Grant `json:"grant"`
	Superuser bool      `json:"superuser"`
}

// CachedGrants layers an in-process expirable LRU and an optional Redis
// cache in front of a GrantStore. Grant changes made by the administrative
// workflow become visible to new decisions within the TTL; in-flight
// decisions may still see the previous grant, which the permission model
// tolerates.
type CachedGrants struct {
	inner   acl.GrantStore
	l1      *expirable.LRU[string, cacheEntry]
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
	log     *observability.Logger
}

// CacheConfig tunes the grant cache.
type CacheConfig struct {
	// L1Size is the entry capacity of the in-process cache.
	L1Size int
	// TTL bounds the staleness of both layers.
	TTL time.Duration
}

// DefaultCacheConfig returns cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{L1Size: 4096, TTL: 15 * time.Second}
}

// NewCachedGrants wraps inner with the two cache layers. redisClient may be
// nil to run with the in-process layer only. metrics may be nil.
func NewCachedGrants(inner acl.GrantStore, redisClient *redis.Client, cfg CacheConfig,
	log *observability.Logger, metrics *observability.Metrics) *CachedGrants {
	if cfg.L1Size <= 0 {
		cfg.L1Size = DefaultCacheConfig().L1Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &CachedGrants{
		inner:   inner,
		l1:      expirable.NewLRU[string, cacheEntry](cfg.L1Size, nil, cfg.TTL),
		redis:   redisClient,
		ttl:     cfg.TTL,
		metrics: metrics,
		log:     log,
	}
}

func grantKey(username string, kind acl.ResourceKind, resourceID int) string {
	return fmt.Sprintf("acl:%s:%s:%d", username, kind, resourceID)
}

func superKey(username string) string {
	return fmt.Sprintf("acl:%s:super", username)
}

// LookupGrant implements acl.GrantStore.
func (c *CachedGrants) LookupGrant(ctx context.Context, username string, kind acl.ResourceKind, resourceID int) (acl.Grant, error) {
	key := grantKey(username, kind, resourceID)
	if entry, ok := c.get(ctx, key); ok {
		return entry.Grant, nil
	}

	grant, err := c.inner.LookupGrant(ctx, username, kind, resourceID)
	if err != nil {
		return acl.Grant{}, err
	}
	c.put(ctx, key, cacheEntry{Grant: grant})
	return grant, nil
}

// IsSuperuser implements acl.GrantStore.
func (c *CachedGrants) IsSuperuser(ctx context.Context, username string) (bool, error) {
	key := superKey(username)
	if entry, ok := c.get(ctx, key); ok {
		return entry.Superuser, nil
	}

	superuser, err := c.inner.IsSuperuser(ctx, username)
	if err != nil {
		return false, err
	}
	c.put(ctx, key, cacheEntry{Superuser: superuser})
	return superuser, nil
}

// InvalidateUser drops every cached entry for a username. The in-process
// layer has no per-user index, so it is purged wholesale; it refills within
// one TTL anyway.
func (c *CachedGrants) InvalidateUser(ctx context.Context, username string) error {
	c.l1.Purge()

	if c.redis == nil {
		return nil
	}
	pattern := fmt.Sprintf("acl:%s:*", username)
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return nil
}

func (c *CachedGrants) get(ctx context.Context, key string) (cacheEntry, bool) {
	if entry, ok := c.l1.Get(key); ok {
		c.observe("lru", true)
		return entry, true
	}
	c.observe("lru", false)

	if c.redis == nil {
		return cacheEntry{}, false
	}

	data, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		c.observe("redis", false)
		return cacheEntry{}, false
	}
	if err != nil {
		// A cache failure is a miss; the source of truth answers.
		c.log.WithError(err).Warn("redis get failed")
		c.observe("redis", false)
		return cacheEntry{}, false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.redis.Del(ctx, key)
		c.observe("redis", false)
		return cacheEntry{}, false
	}
	c.observe("redis", true)
	c.l1.Add(key, entry)
	return entry, true
}

func (c *CachedGrants) put(ctx context.Context, key string, entry cacheEntry) {
	c.l1.Add(key, entry)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("redis set failed")
	}
}

func (c *CachedGrants) observe(layer string, hit bool) {
	if c.metrics != nil {
		c.metrics.ObserveCache(layer, hit)
	}
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(url, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db >= 0 {
		opts.DB = db
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
