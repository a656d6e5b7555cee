// Package vectorstore defines the storage contract shared by the local HNSW store and the
// Postgres pgvector store. One index identifier scopes a set of passages inside one store.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"docchat/internal/model"
)

var (
	ErrIndexNotFound     = errors.New("index not found")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidIndexID    = errors.New("invalid index id")
	ErrClosed            = errors.New("vector store is closed")
)

// Record pairs a passage with its embedding.
type Record struct {
	Passage model.Passage
	Vector  []float32
}

type Store interface {
	Add(ctx context.Context, indexID string, records []Record) error
	Search(ctx context.Context, indexID string, vector []float32, k int) ([]model.ScoredPassage, error)
	Passages(ctx context.Context, indexID string) ([]model.Passage, error)
	Exists(ctx context.Context, indexID string) (bool, error)
	Persist(ctx context.Context) error
	Close() error
}

// ValidateIndexID rejects identifiers that are empty or could escape a storage directory.
func ValidateIndexID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidIndexID, id)
	}
	return nil
}

// CheckDimensions verifies every record vector has want entries.
func CheckDimensions(records []Record, want int) error {
	for i, r := range records {
		if len(r.Vector) != want {
			return fmt.Errorf("%w: record %d has %d, want %d", ErrDimensionMismatch, i, len(r.Vector), want)
		}
	}
	return nil
}

// FiniteScore maps an undefined similarity to 0. Cosine similarity against an all-zero vector
// is NaN, which JSON cannot encode.
func FiniteScore(similarity float64) float64 {
	if math.IsNaN(similarity) || math.IsInf(similarity, 0) {
		return 0
	}
	return similarity
}

// StorageName is the per-collection namespace, e.g. qwen_4096.
func StorageName(collection string, dimensions int) string {
	return fmt.Sprintf("%s_%d", collection, dimensions)
}
