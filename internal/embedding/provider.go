// Package embedding turns query and catalog text into vectors and detects
// the language of free text. Providers are chosen by configuration at
// construction time.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
)

const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
)

// Provider embeds text written in language. Implementations honour the
// deadline carried by ctx.
type Provider interface {
	Embed(ctx context.Context, text, language string) ([]float32, error)
	// Dimension is the length of every returned vector.
	Dimension() int
	// Model names the model, for the index manifest.
	Model() string
}

// New builds the configured provider for vectors of length dimension and
// wraps it in an LRU cache when cfg.CacheSize is positive.
func New(cfg config.EmbeddingConfig, dimension int) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderHash, "":
		p, err = NewHashProvider(dimension)
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(cfg.Host, cfg.Token, cfg.Model, dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCachedProvider(p, cfg.CacheSize)
	}
	return p, nil
}
