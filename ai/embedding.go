package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/hrygo/storyreel/ai/metrics"
	"github.com/hrygo/storyreel/ai/resilience"
)

// ErrNoProvider is returned when no embedding provider is configured.
var ErrNoProvider = errors.New("no embedding provider configured")

// EmbeddingService is the vector embedding service interface.
type EmbeddingService interface {
	// Embed generates vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int

	// Model returns the embedding model name stored alongside each vector.
	Model() string
}

// NewEmbeddingService creates the EmbeddingService for cfg.Provider.
// Gemini uses the genai SDK, every other provider the OpenAI protocol
// (siliconflow, openai, ollama, dashscope).
func NewEmbeddingService(ctx context.Context, cfg *Config) (EmbeddingService, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, ErrNoProvider
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Embedding.Provider {
	case "gemini":
		return newGeminiEmbeddingService(ctx, &cfg.Embedding)
	default:
		return newOpenAIEmbeddingService(&cfg.Embedding), nil
	}
}

type openAIEmbeddingService struct {
	client     *openai.Client
	model      string
	dimensions int
}

func newOpenAIEmbeddingService(cfg *EmbeddingConfig) *openAIEmbeddingService {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &openAIEmbeddingService{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

func (s *openAIEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, s, text)
}

func (s *openAIEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	}

	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}

	return vectors, nil
}

func (s *openAIEmbeddingService) Dimensions() int {
	return s.dimensions
}

func (s *openAIEmbeddingService) Model() string {
	return s.model
}

type geminiEmbeddingService struct {
	client     *genai.Client
	model      string
	dimensions int
}

func newGeminiEmbeddingService(ctx context.Context, cfg *EmbeddingConfig) (*geminiEmbeddingService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &geminiEmbeddingService{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (s *geminiEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, s, text)
}

func (s *geminiEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.Text(text)...)
	}

	var config *genai.EmbedContentConfig
	if s.dimensions > 0 {
		dims := int32(s.dimensions)
		config = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	resp, err := s.client.Models.EmbedContent(ctx, s.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("embed content failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, embedding := range resp.Embeddings {
		vectors[i] = embedding.Values
	}
	return vectors, nil
}

func (s *geminiEmbeddingService) Dimensions() int {
	return s.dimensions
}

func (s *geminiEmbeddingService) Model() string {
	return s.model
}

func embedOne(ctx context.Context, s EmbeddingService, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

// resilientEmbeddingService runs every provider call through a resilience
// policy and records its outcome.
type resilientEmbeddingService struct {
	inner    EmbeddingService
	policy   *resilience.Policy
	exporter *metrics.PrometheusExporter
	provider string
}

// NewResilientEmbeddingService wraps inner with retry, circuit breaking and
// rate limiting. exporter may be nil.
func NewResilientEmbeddingService(inner EmbeddingService, provider string, policy *resilience.Policy, exporter *metrics.PrometheusExporter) EmbeddingService {
	if policy == nil {
		policy = resilience.NewPolicy(resilience.DefaultConfig())
	}
	policy.Breaker().OnStateChange(func(state resilience.BreakerState) {
		exporter.SetBreakerState("embedding", int(state))
	})
	return &resilientEmbeddingService{
		inner:    inner,
		policy:   policy,
		exporter: exporter,
		provider: provider,
	}
}

func (s *resilientEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, s, text)
}

func (s *resilientEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	start := time.Now()
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = s.inner.EmbedBatch(ctx, texts)
		return err
	})
	s.exporter.RecordEmbedding(s.provider, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (s *resilientEmbeddingService) Dimensions() int {
	return s.inner.Dimensions()
}

func (s *resilientEmbeddingService) Model() string {
	return s.inner.Model()
}
