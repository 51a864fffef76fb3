package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"google.golang.org/genai"
)

type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Embedding(ctx context.Context, text string, dimensionality int) ([]float32, error)
}

const (
	DefaultGenerativeModel = "gemini-2.5-flash"
	DefaultEmbeddingModel  = "gemini-embedding-001"

	// DefaultMaxRetries leaves retrying to the genai client unless --gemini-retries asks for more
	DefaultMaxRetries = 0
)

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
	maxRetries      int
	backoff         time.Duration
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithRetry sets how many times a rate limited or unavailable call is retried
func WithRetry(maxRetries int, backoff time.Duration) GeminiOption {
	return func(g *GeminiClient) {
		g.maxRetries = maxRetries
		g.backoff = backoff
	}
}

// NewGemini connects to Gemini on Vertex AI
func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	return newGemini(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}, opts...)
}

// NewGeminiWithAPIKey connects to the Gemini Developer API
func NewGeminiWithAPIKey(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	return newGemini(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, opts...)
}

func newGemini(ctx context.Context, cfg *genai.ClientConfig, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client", goerr.V("backend", cfg.Backend))
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: DefaultGenerativeModel,
		embeddingModel:  DefaultEmbeddingModel,
		maxRetries:      DefaultMaxRetries,
		backoff:         time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// GenerativeModel returns the model name used for completions
func (g *GeminiClient) GenerativeModel() string {
	return g.generativeModel
}

// isTransient is true for errors worth retrying: rate limits and server side failures
func isTransient(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 429 || apiErr.Code == 500 || apiErr.Code == 503
}

func (g *GeminiClient) retry(ctx context.Context, op string, fn func() error) error {
	wait := g.backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || attempt >= g.maxRetries || !isTransient(err) {
			return err
		}

		logging.From(ctx).Warn("gemini call failed, retrying", "op", op, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	err := g.retry(ctx, "generate", func() error {
		var err error
		resp, err = g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}

	if usage := resp.UsageMetadata; usage != nil {
		logging.From(ctx).Debug("gemini usage",
			"model", g.generativeModel,
			"prompt_tokens", usage.PromptTokenCount,
			"output_tokens", usage.CandidatesTokenCount,
		)
	}
	return resp, nil
}

func (g *GeminiClient) Embedding(ctx context.Context, text string, dimensionality int) ([]float32, error) {
	dim := int32(dimensionality)
	var resp *genai.EmbedContentResponse
	err := g.retry(ctx, "embed", func() error {
		var err error
		resp, err = g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
		})
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("empty embedding returned", goerr.V("model", g.embeddingModel))
	}
	return resp.Embeddings[0].Values, nil
}
