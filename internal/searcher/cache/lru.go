package cache

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type lruItem struct {
	entry   Entry
	expires time.Time
}

// LRU is an in-process cache bounded by entry count. The TTL given at
// construction caps every entry; a shorter ttl on Put is honoured too.
type LRU struct {
	entries *expirable.LRU[string, lruItem]
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 1000
	}
	return &LRU{
		entries: expirable.NewLRU[string, lruItem](size, nil, ttl),
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default().With("component", "result-cache", "backend", "lru"),
	}
}

func (c *LRU) Get(_ context.Context, fingerprint string) (*Entry, bool) {
	item, ok := c.entries.Get(fingerprint)
	if ok && !item.expires.IsZero() && !c.now().Before(item.expires) {
		c.entries.Remove(fingerprint)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	entry := item.entry
	entry.Items = slices.Clone(entry.Items)
	return &entry, true
}

func (c *LRU) Put(_ context.Context, fingerprint string, entry *Entry, ttl time.Duration) {
	if entry == nil {
		return
	}
	if ttl <= 0 || (c.ttl > 0 && ttl > c.ttl) {
		ttl = c.ttl
	}
	item := lruItem{entry: *entry}
	item.entry.Items = slices.Clone(entry.Items)
	if ttl > 0 {
		item.expires = c.now().Add(ttl)
	}
	c.entries.Add(fingerprint, item)
}

func (c *LRU) Delete(_ context.Context, fingerprint string) error {
	c.entries.Remove(fingerprint)
	return nil
}

func (c *LRU) Invalidate(context.Context) error {
	n := c.entries.Len()
	c.entries.Purge()
	c.logger.Debug("cache invalidated", "keys_deleted", n)
	return nil
}

func (c *LRU) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Len returns the number of live entries.
func (c *LRU) Len() int {
	return c.entries.Len()
}
