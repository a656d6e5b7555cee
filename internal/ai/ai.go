package ai

import (
	"context"
	"errors"
	"fmt"

	"docchat/internal/model"
)

var (
	ErrEmptyResponse     = errors.New("empty model response")
	ErrEmptyInput        = errors.New("embedding input is empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnknownBackend    = errors.New("unknown llm backend")
)

// ChatModel answers a conversation. Stream calls onChunk for every token delta and returns
// the full text.
type ChatModel interface {
	Complete(ctx context.Context, messages []model.Turn) (string, error)
	Stream(ctx context.Context, messages []model.Turn, onChunk func(chunk string) error) (string, error)
}

// Embedder turns texts into vectors. Results are index-aligned with the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

func checkDimensions(vectors [][]float32, want int) error {
	if want <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("%w: vector %d has %d, want %d", ErrDimensionMismatch, i, len(v), want)
		}
	}
	return nil
}
