package local

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

func records(indexID string, vectors ...[]float32) []vectorstore.Record {
	out := make([]vectorstore.Record, len(vectors))
	for i, v := range vectors {
		out[i] = vectorstore.Record{
			Passage: model.Passage{
				ID:       fmt.Sprintf("%s:%d", indexID, i),
				IndexID:  indexID,
				FileName: "a.pdf",
				Seq:      i,
				Text:     fmt.Sprintf("passage %d", i),
			},
			Vector: v,
		}
	}
	return out
}

func newStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := New(Config{Dir: dir, Collection: "qwen", Dimensions: 4}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestAddSearch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, t.TempDir())

	require.NoError(t, s.Add(ctx, "idx-1", records("idx-1",
		[]float32{1, 0, 0, 0},
		[]float32{0, 1, 0, 0},
		[]float32{0, 0, 1, 0},
	)))

	hits, err := s.Search(ctx, "idx-1", []float32{0.1, 0.9, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "passage 1", hits[0].Text)
	assert.Greater(t, hits[0].Score, 0.9)

	_, err = s.Search(ctx, "idx-1", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestSearchZeroVectorScoresAreFinite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, t.TempDir())

	vectors := make([][]float32, 0, 50)
	for i := 0; i < 49; i++ {
		vectors = append(vectors, []float32{float32(i%4 + 1), float32(i % 3), float32(i % 5), 1})
	}
	vectors = append(vectors, []float32{0, 0, 0, 0})
	require.NoError(t, s.Add(ctx, "idx-1", records("idx-1", vectors...)))

	for _, query := range [][]float32{{0, 0, 0, 0}, {1, 0, 0, 0}} {
		hits, err := s.Search(ctx, "idx-1", query, 50)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		for _, h := range hits {
			assert.False(t, math.IsNaN(h.Score), "seq %d", h.Seq)
		}
		_, err = json.Marshal(hits)
		assert.NoError(t, err)
	}
}

func TestIndexesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, t.TempDir())

	require.NoError(t, s.Add(ctx, "a", records("a", []float32{1, 0, 0, 0})))
	require.NoError(t, s.Add(ctx, "b", records("b", []float32{1, 0, 0, 0})))

	hits, err := s.Search(ctx, "b", []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].IndexID)
}

func TestUnknownIndex(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, t.TempDir())

	ok, err := s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Search(ctx, "missing", []float32{1, 0, 0, 0}, 1)
	assert.ErrorIs(t, err, vectorstore.ErrIndexNotFound)

	_, err = s.Passages(ctx, "missing")
	assert.ErrorIs(t, err, vectorstore.ErrIndexNotFound)

	ok, err = s.Exists(ctx, "../escape")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newStore(t, dir)
	require.NoError(t, s.Add(ctx, "idx-1", records("idx-1",
		[]float32{1, 0, 0, 0},
		[]float32{0, 0, 0, 1},
	)))
	require.NoError(t, s.Persist(ctx))
	require.NoError(t, s.Close())

	reopened := newStore(t, dir)
	ok, err := reopened.Exists(ctx, "idx-1")
	require.NoError(t, err)
	assert.True(t, ok)

	passages, err := reopened.Passages(ctx, "idx-1")
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "idx-1:1", passages[1].ID)

	hits, err := reopened.Search(ctx, "idx-1", []float32{0, 0, 0, 2}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "passage 1", hits[0].Text)
}

func TestUnpersistedIndexIsLostOnReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newStore(t, dir)
	require.NoError(t, s.Add(ctx, "idx-1", records("idx-1", []float32{1, 0, 0, 0})))

	reopened := newStore(t, dir)
	ok, err := reopened.Exists(ctx, "idx-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDimensionNamespace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newStore(t, dir)
	require.NoError(t, s.Add(ctx, "idx-1", records("idx-1", []float32{1, 0, 0, 0})))
	require.NoError(t, s.Persist(ctx))

	other, err := New(Config{Dir: dir, Collection: "qwen", Dimensions: 8}, zerolog.Nop())
	require.NoError(t, err)
	ok, err := other.Exists(ctx, "idx-1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.Add(ctx, "idx-2", records("idx-2", []float32{1, 0}))
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestClosed(t *testing.T) {
	s := newStore(t, t.TempDir())
	require.NoError(t, s.Close())
	err := s.Add(context.Background(), "idx", records("idx", []float32{1, 0, 0, 0}))
	assert.ErrorIs(t, err, vectorstore.ErrClosed)
}
