package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"docchat/internal/model"
)

type OllamaConfig struct {
	Host           string
	Model          string
	EmbeddingModel string
	Dimensions     int
}

type OllamaClient struct {
	client         *api.Client
	model          string
	embeddingModel string
	dimensions     int
}

// NewOllamaClient connects to Host, or to OLLAMA_HOST when Host is empty.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	var client *api.Client
	if cfg.Host == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("create ollama client from environment failed: %w", err)
		}
		client = c
	} else {
		u, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host: %w", err)
		}
		client = api.NewClient(u, http.DefaultClient)
	}

	return &OllamaClient{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.Dimensions,
	}, nil
}

func (c *OllamaClient) Complete(ctx context.Context, messages []model.Turn) (string, error) {
	return c.chat(ctx, messages, false, nil)
}

func (c *OllamaClient) Stream(ctx context.Context, messages []model.Turn, onChunk func(chunk string) error) (string, error) {
	return c.chat(ctx, messages, true, onChunk)
}

func (c *OllamaClient) chat(ctx context.Context, messages []model.Turn, stream bool, onChunk func(string) error) (string, error) {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   &stream,
	}

	var full strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content == "" {
			return nil
		}
		full.WriteString(resp.Message.Content)
		if onChunk != nil {
			return onChunk(resp.Message.Content)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return full.String(), nil
}

func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count %d for %d inputs: %w", len(resp.Embeddings), len(texts), ErrEmptyResponse)
	}
	if err := checkDimensions(resp.Embeddings, c.dimensions); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func (c *OllamaClient) Dimensions() int {
	return c.dimensions
}

func (c *OllamaClient) ModelName() string {
	return c.embeddingModel
}
