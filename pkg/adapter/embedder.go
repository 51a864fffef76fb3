package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

const DefaultEmbeddingDimension = 768

// Embedder converts text to vectors through Gemini and an optional cache
type Embedder struct {
	gemini    Gemini
	cache     EmbeddingCache
	model     string
	dimension int
}

type EmbedderOption func(*Embedder)

func WithEmbeddingCache(cache EmbeddingCache) EmbedderOption {
	return func(e *Embedder) {
		e.cache = cache
	}
}

func WithEmbeddingDimension(dim int) EmbedderOption {
	return func(e *Embedder) {
		e.dimension = dim
	}
}

// WithCacheNamespace sets the model name mixed into cache keys
func WithCacheNamespace(model string) EmbedderOption {
	return func(e *Embedder) {
		e.model = model
	}
}

func NewEmbedder(gemini Gemini, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		gemini:    gemini,
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dimension returns the length of produced vectors
func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", e.model, e.dimension, text)))
	return hex.EncodeToString(sum[:])
}

// Embed returns the embedding of text. Cache failures are logged and ignored.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, goerr.New("text to embed is empty")
	}

	var key string
	if e.cache != nil {
		key = e.cacheKey(text)
		vec, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			logging.From(ctx).Warn("embedding cache lookup failed", "error", err)
		} else if ok && len(vec) == e.dimension {
			return vec, nil
		}
	}

	vec, err := e.gemini.Embedding(ctx, text, e.dimension)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, vec); err != nil {
			logging.From(ctx).Warn("embedding cache store failed", "error", err)
		}
	}

	return vec, nil
}
