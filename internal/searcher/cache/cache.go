// Package cache stores complete search results keyed by a fingerprint of the
// request. Redis is the shared backend; an in-process LRU serves single
// nodes and deployments where Redis is unreachable.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/fusion"
)

const keyPrefix = "search:"

// Entry is what gets cached for one request.
type Entry struct {
	Language      string        `json:"language"`
	Items         []fusion.Item `json:"items"`
	LowConfidence bool          `json:"low_confidence"`
}

// Cache is a result cache. Backend failures are logged and reported as a
// miss; a cache never fails a search.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*Entry, bool)
	Put(ctx context.Context, fingerprint string, entry *Entry, ttl time.Duration)
	Delete(ctx context.Context, fingerprint string) error
	// Invalidate drops every cached result.
	Invalidate(ctx context.Context) error
	Stats() Stats
}

type Stats struct {
	Hits   int64
	Misses int64
}

// Key lists the request fields that change a search result.
type Key struct {
	Text          string
	Language      string
	Limit         int
	Prefix        string
	MinConfidence float64
}

// Fingerprint hashes k into a cache key. Texts differing only in case,
// diacritics or spacing share a fingerprint.
func Fingerprint(k Key) string {
	var b strings.Builder
	b.WriteString(tokenizer.Fold(k.Text))
	b.WriteByte(0)
	b.WriteString(k.Language)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(k.Limit))
	b.WriteByte(0)
	b.WriteString(k.Prefix)
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(k.MinConfidence, 'g', -1, 64))
	sum := sha256.Sum256([]byte(b.String()))
	return keyPrefix + hex.EncodeToString(sum[:16])
}
