package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/redis"
)

// Redis keeps entries as JSON under the "search:" prefix.
type Redis struct {
	client *pkgredis.Client
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewRedis(client *pkgredis.Client) *Redis {
	return &Redis{
		client: client,
		logger: slog.Default().With("component", "result-cache", "backend", "redis"),
	}
}

func (c *Redis) Get(ctx context.Context, fingerprint string) (*Entry, bool) {
	data, err := c.client.Get(ctx, fingerprint)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", fingerprint, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Error("cache unmarshal failed", "key", fingerprint, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", fingerprint)
	return &entry, true
}

func (c *Redis) Put(ctx context.Context, fingerprint string, entry *Entry, ttl time.Duration) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", fingerprint, "error", err)
		return
	}
	if err := c.client.Set(ctx, fingerprint, data, ttl); err != nil {
		c.logger.Error("cache set failed", "key", fingerprint, "error", err)
	}
}

func (c *Redis) Delete(ctx context.Context, fingerprint string) error {
	if err := c.client.Del(ctx, fingerprint); err != nil {
		return fmt.Errorf("deleting cached result %s: %w", fingerprint, err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating result cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *Redis) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
