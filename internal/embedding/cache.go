package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider memoises a Provider by (model, language, text). Callers
// receive copies, so mutating a returned vector never alters the cache.
type CachedProvider struct {
	next  Provider
	cache *lru.Cache[string, []float32]
}

func NewCachedProvider(next Provider, size int) (*CachedProvider, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &CachedProvider{next: next, cache: cache}, nil
}

func (c *CachedProvider) Dimension() int { return c.next.Dimension() }

func (c *CachedProvider) Model() string { return c.next.Model() }

func (c *CachedProvider) Embed(ctx context.Context, text, language string) ([]float32, error) {
	key := cacheKey(c.next.Model(), language, text)
	if vec, ok := c.cache.Get(key); ok {
		return slices.Clone(vec), nil
	}
	vec, err := c.next.Embed(ctx, text, language)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, slices.Clone(vec))
	return vec, nil
}

// Len returns the number of cached embeddings.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

func cacheKey(model, language, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + language + "\x00" + text))
	return hex.EncodeToString(h[:])
}
