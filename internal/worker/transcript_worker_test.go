package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/model"
)

type fakeWriter struct {
	created []model.Exchange
	err     error
}

func (f *fakeWriter) Create(_ context.Context, e *model.Exchange) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, *e)
	return nil
}

func TestHandlePersistsExchange(t *testing.T) {
	repo := &fakeWriter{}
	w := NewTranscriptWorker(nil, repo, "q", zerolog.Nop())

	body, err := json.Marshal(model.Exchange{
		ID:        99,
		IndexID:   "idx",
		FileName:  "a.pdf",
		Question:  "q?",
		Answer:    "a.",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, w.handle(context.Background(), body))
	require.Len(t, repo.created, 1)
	assert.Zero(t, repo.created[0].ID)
	assert.Equal(t, "a.pdf", repo.created[0].FileName)
}

func TestHandleRejectsMalformed(t *testing.T) {
	w := NewTranscriptWorker(nil, &fakeWriter{}, "q", zerolog.Nop())

	assert.ErrorIs(t, w.handle(context.Background(), []byte("{")), errMalformed)
	assert.ErrorIs(t, w.handle(context.Background(), []byte(`{"index_id":"idx"}`)), errMalformed)
}

func TestHandlePropagatesRepositoryError(t *testing.T) {
	w := NewTranscriptWorker(nil, &fakeWriter{err: errors.New("db down")}, "q", zerolog.Nop())
	err := w.handle(context.Background(), []byte(`{"index_id":"idx","question":"q"}`))
	assert.EqualError(t, err, "db down")
}

func TestCloseWithoutStart(t *testing.T) {
	w := NewTranscriptWorker(nil, &fakeWriter{}, "q", zerolog.Nop())
	assert.NotPanics(t, w.Close)
}
