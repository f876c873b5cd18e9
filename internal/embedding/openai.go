package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
)

// OpenAIProvider calls an OpenAI-compatible embeddings endpoint, which
// includes local servers such as Ollama or LM Studio.
type OpenAIProvider struct {
	embedder embeddings.Embedder
	model    string
	dim      int
	logger   *slog.Logger
}

// NewOpenAIProvider connects to host with token. Local services that need
// no authentication accept any token, so an empty one is sent as "none".
func NewOpenAIProvider(host, token, model string, dimension int) (*OpenAIProvider, error) {
	if model == "" {
		return nil, fmt.Errorf("openai provider needs a model name")
	}
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	}
	if host != "" {
		opts = append(opts, openai.WithBaseURL(host))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return newOpenAIProvider(embedder, model, dimension), nil
}

func newOpenAIProvider(embedder embeddings.Embedder, model string, dimension int) *OpenAIProvider {
	return &OpenAIProvider{
		embedder: embedder,
		model:    model,
		dim:      dimension,
		logger:   slog.Default().With("component", "openai-embedder"),
	}
}

func (p *OpenAIProvider) Dimension() int { return p.dim }

func (p *OpenAIProvider) Model() string { return p.model }

// Embed ignores language; multilingual models place all languages in one
// space.
func (p *OpenAIProvider) Embed(ctx context.Context, text, _ string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "nothing to embed")
	}
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrProviderTimeout, err)
		}
		p.logger.Error("failed to generate embedding", "error", err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrProviderError, err)
	}
	if len(vec) != p.dim {
		return nil, apperrors.Newf(apperrors.ErrProviderError, "model %s returned %d dimensions, want %d", p.model, len(vec), p.dim)
	}
	return vec, nil
}
