package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
)

const trigramWeight = 0.5

// HashProvider is a deterministic, dependency-free embedder. Normalised
// terms and their character trigrams are hashed into signed buckets, so
// texts that share vocabulary land close together. It has no notion of
// meaning across languages and is meant for tests and offline builds.
type HashProvider struct {
	dim int
}

func NewHashProvider(dimension int) (*HashProvider, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("hash provider dimension must be positive, got %d", dimension)
	}
	return &HashProvider{dim: dimension}, nil
}

func (h *HashProvider) Dimension() int { return h.dim }

func (h *HashProvider) Model() string { return fmt.Sprintf("feature-hash-%d", h.dim) }

func (h *HashProvider) Embed(ctx context.Context, text, _ string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrProviderTimeout, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "nothing to embed")
	}

	vec := make([]float64, h.dim)
	terms := tokenizer.Terms(text)
	if len(terms) == 0 {
		terms = []string{strings.ToLower(text)}
	}
	for _, term := range terms {
		h.add(vec, term, 1)
		runes := []rune("^" + term + "$")
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, string(runes[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	if norm == 0 {
		return nil, apperrors.New(apperrors.ErrProviderError, "features cancelled out")
	}
	norm = math.Sqrt(norm)
	out := make([]float32, h.dim)
	for i, x := range vec {
		out[i] = float32(x / norm)
	}
	return out, nil
}

func (h *HashProvider) add(vec []float64, feature string, weight float64) {
	sum := sha256.Sum256([]byte(feature))
	bucket := binary.BigEndian.Uint64(sum[:8]) % uint64(h.dim)
	if sum[8]&1 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}
