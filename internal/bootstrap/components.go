package bootstrap

import (
	"strings"

	"golang.org/x/time/rate"

	"dermassist/internal/ai"
	appsvc "dermassist/internal/app"
	"dermassist/internal/config"
	"dermassist/internal/rag"
)

// NewEmbedder builds the embedding chain: the hosted service when an API key
// is configured, always backed by the local hashing embedder of the same
// dimension.
func NewEmbedder(cfg config.EmbeddingConfig) (*rag.ResilientEmbedder, error) {
	fallback := rag.NewHashEmbedder(cfg.Dimensions)

	var primary rag.Embedder
	if strings.TrimSpace(cfg.APIKey) != "" {
		client := ai.NewOpenAICompatibleClient(cfg.Timeout())
		primary = ai.NewEmbeddingService(client, ai.EmbeddingConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: fallback.Dimension(),
		})
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	breaker := rag.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown())
	return rag.NewResilientEmbedder(primary, fallback, breaker, limiter)
}

// NewGenerator returns an extractive-only generator unless a chat model is
// configured.
func NewGenerator(cfg config.GenerationConfig) *rag.Generator {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return rag.NewGenerator(nil)
	}
	client := ai.NewOpenAICompatibleClient(cfg.Timeout())
	return rag.NewGenerator(ai.NewChatModel(client, ai.ChatConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}))
}

func ragConfig(cfg config.RAGConfig) appsvc.RAGConfig {
	return appsvc.RAGConfig{
		ChunkSize:        cfg.ChunkSize,
		ChunkOverlap:     cfg.ChunkOverlap,
		TopK:             cfg.TopK,
		RetrieveLimit:    cfg.RetrieveLimit,
		EmbedParallelism: cfg.EmbedParallelism,
	}
}
