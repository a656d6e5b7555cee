package ai

import (
	"fmt"
	"time"

	"docchat/internal/config"
)

// New builds the chat model and embedder for the configured backend. The embedder is wrapped
// in an LRU cache.
func New(cfg config.LLMConfig) (ChatModel, Embedder, error) {
	var (
		chat  ChatModel
		embed Embedder
	)
	switch cfg.Backend {
	case "lmstudio":
		c := NewLMStudioClient(LMStudioConfig{
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimensions:     cfg.EmbeddingDimensions,
			Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		chat, embed = c, c
	case "openai":
		c, err := NewOpenAIClient(OpenAIConfig{
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimensions:     cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, nil, err
		}
		chat, embed = c, c
	case "ollama":
		c, err := NewOllamaClient(OllamaConfig{
			Host:           cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimensions:     cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, nil, err
		}
		chat, embed = c, c
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	return chat, NewCachedEmbedder(embed, cfg.EmbeddingCacheSize), nil
}
