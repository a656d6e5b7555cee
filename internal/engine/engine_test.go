package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/cache"
	"docchat/internal/model"
	"docchat/internal/retrieval"
	"docchat/internal/vectorstore"
	"docchat/internal/vectorstore/local"
)

type topicEmbedder struct{}

func (topicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := []float32{0.01, 0.01, 0.01}
		lower := strings.ToLower(t)
		if strings.Contains(lower, "refund") {
			v[0] = 1
		}
		if strings.Contains(lower, "shipping") {
			v[1] = 1
		}
		if strings.Contains(lower, "warranty") {
			v[2] = 1
		}
		out[i] = v
	}
	return out, nil
}

func (topicEmbedder) Dimensions() int   { return 3 }
func (topicEmbedder) ModelName() string { return "topics" }

type fakeChat struct {
	mu    sync.Mutex
	calls [][]model.Turn
	reply string
	err   error
}

func (c *fakeChat) Complete(_ context.Context, messages []model.Turn) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, messages)
	return c.reply, c.err
}

func (c *fakeChat) Stream(ctx context.Context, messages []model.Turn, onChunk func(string) error) (string, error) {
	text, err := c.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		if err := onChunk(word); err != nil {
			return "", err
		}
	}
	return text, nil
}

func (c *fakeChat) last() []model.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

type memorySink struct {
	mu        sync.Mutex
	exchanges []model.Exchange
	err       error
}

func (s *memorySink) Record(_ context.Context, e model.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, e)
	return s.err
}

// countingStore counts passage loads, which happen once per keyword index build.
type countingStore struct {
	vectorstore.Store
	loads atomic.Int32
}

func (s *countingStore) Passages(ctx context.Context, indexID string) ([]model.Passage, error) {
	s.loads.Add(1)
	return s.Store.Passages(ctx, indexID)
}

const indexID = "idx-1"

var policyTexts = []string{
	"Refunds are issued within 14 days of the return.",
	"Shipping takes three to five business days.",
	"The warranty covers manufacturing defects for two years.",
}

func seededStore(t *testing.T) vectorstore.Store {
	t.Helper()
	store, err := local.New(local.Config{Dir: t.TempDir(), Collection: "test", Dimensions: 3}, zerolog.Nop())
	require.NoError(t, err)
	seedIndex(t, store, indexID, "policy.pdf", policyTexts)
	return store
}

func seedIndex(t *testing.T, store vectorstore.Store, id, fileName string, texts []string) {
	t.Helper()
	vectors, _ := topicEmbedder{}.Embed(context.Background(), texts)
	records := make([]vectorstore.Record, len(texts))
	for i, text := range texts {
		records[i] = vectorstore.Record{
			Passage: model.Passage{ID: id + ":" + strconv.Itoa(i), IndexID: id, FileName: fileName, Seq: i, Text: text},
			Vector:  vectors[i],
		}
	}
	require.NoError(t, store.Add(context.Background(), id, records))
}

func newFactory(t *testing.T, chat *fakeChat, sink TranscriptSink) *Factory {
	t.Helper()
	return NewFactory(seededStore(t), topicEmbedder{}, chat, cache.NewMemoryHistory(10), sink, Config{TopK: 1}, zerolog.Nop())
}

func TestOpenUnknownIndex(t *testing.T) {
	f := newFactory(t, &fakeChat{}, nil)

	_, err := f.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrIndexNotFound)

	_, err = f.Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestQueryVector(t *testing.T) {
	chat := &fakeChat{reply: "Within 14 days."}
	sink := &memorySink{}
	f := newFactory(t, chat, sink)

	e, err := f.Open(context.Background(), indexID)
	require.NoError(t, err)
	defer e.Close()

	answer, err := e.Query(context.Background(), Query{Text: "How long do refunds take?"})
	require.NoError(t, err)
	assert.Equal(t, "Within 14 days.", answer.Text)
	assert.Equal(t, retrieval.ModeVector, answer.Mode)
	require.Len(t, answer.Sources, 1)
	assert.Contains(t, answer.Sources[0].Text, "Refunds")

	msgs := chat.last()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "Refunds are issued")
	assert.Contains(t, msgs[1].Content, "Query: How long do refunds take?")
	assert.NotContains(t, msgs[1].Content, "warranty")

	require.Len(t, sink.exchanges, 1)
	assert.Equal(t, indexID, sink.exchanges[0].IndexID)
	assert.Equal(t, "policy.pdf", sink.exchanges[0].FileName)
	assert.Equal(t, "vector", sink.exchanges[0].Mode)

	again, err := e.Query(context.Background(), Query{Text: "What about shipping?"})
	require.NoError(t, err)
	assert.Contains(t, again.Sources[0].Text, "Shipping")
}

func TestQueryKeywordAndHybrid(t *testing.T) {
	chat := &fakeChat{reply: "ok"}
	f := newFactory(t, chat, nil)

	e, err := f.Open(context.Background(), indexID)
	require.NoError(t, err)
	defer e.Close()

	answer, err := e.Query(context.Background(), Query{Text: "manufacturing defects", Mode: retrieval.ModeKeyword})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Contains(t, answer.Sources[0].Text, "warranty")

	answer, err = e.Query(context.Background(), Query{Text: "shipping days", Mode: retrieval.ModeHybrid, TopK: 2})
	require.NoError(t, err)
	require.NotEmpty(t, answer.Sources)
	assert.Contains(t, answer.Sources[0].Text, "Shipping")

	_, err = e.Query(context.Background(), Query{Text: "x", Mode: "magic"})
	assert.ErrorIs(t, err, retrieval.ErrUnknownMode)
}

func TestQueryErrors(t *testing.T) {
	chat := &fakeChat{err: errors.New("model offline")}
	sink := &memorySink{}
	f := newFactory(t, chat, sink)

	e, err := f.Open(context.Background(), indexID)
	require.NoError(t, err)

	_, err = e.Query(context.Background(), Query{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = e.Query(context.Background(), Query{Text: "refund?"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
	assert.Empty(t, sink.exchanges)
}

func TestChatKeepsHistoryAndStreams(t *testing.T) {
	chat := &fakeChat{reply: "Refunds take 14 days."}
	f := newFactory(t, chat, &memorySink{err: errors.New("sink down")})

	e, err := f.Open(context.Background(), indexID)
	require.NoError(t, err)

	_, err = e.Chat(context.Background(), "s1", Query{Text: "How long are refunds?"}, nil)
	require.NoError(t, err)

	var streamed strings.Builder
	answer, err := e.Chat(context.Background(), "s1", Query{Text: "And shipping?"}, func(chunk string) error {
		streamed.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, answer.Text, streamed.String())

	msgs := chat.last()
	require.Len(t, msgs, 4)
	assert.Equal(t, model.Turn{Role: model.RoleUser, Content: "How long are refunds?"}, msgs[1])
	assert.Equal(t, model.Turn{Role: model.RoleAssistant, Content: "Refunds take 14 days."}, msgs[2])

	// A different session starts clean.
	_, err = e.Chat(context.Background(), "s2", Query{Text: "warranty?"}, nil)
	require.NoError(t, err)
	assert.Len(t, chat.last(), 2)
}

func TestKeywordIndexSharedAcrossEngines(t *testing.T) {
	store := &countingStore{Store: seededStore(t)}
	f := NewFactory(store, topicEmbedder{}, &fakeChat{reply: "ok"}, nil, nil, Config{TopK: 1}, zerolog.Nop())
	defer f.Close()

	for i := 0; i < 3; i++ {
		e, err := f.Open(context.Background(), indexID)
		require.NoError(t, err)
		answer, err := e.Query(context.Background(), Query{Text: "warranty defects", Mode: retrieval.ModeHybrid})
		require.NoError(t, err)
		require.NotEmpty(t, answer.Sources)
		require.NoError(t, e.Close())
	}
	assert.Equal(t, int32(1), store.loads.Load())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := f.Open(context.Background(), indexID)
			if !assert.NoError(t, err) {
				return
			}
			_, err = e.Query(context.Background(), Query{Text: "shipping", Mode: retrieval.ModeKeyword})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), store.loads.Load())

	f.Close()
	e, err := f.Open(context.Background(), indexID)
	require.NoError(t, err)
	answer, err := e.Query(context.Background(), Query{Text: "refunds", Mode: retrieval.ModeKeyword})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, int32(2), store.loads.Load())
}

func TestKeywordCacheEvictsLeastRecent(t *testing.T) {
	base := seededStore(t)
	seedIndex(t, base, "idx-2", "manual.pdf", []string{"Press the reset button for ten seconds."})
	store := &countingStore{Store: base}
	f := NewFactory(store, topicEmbedder{}, &fakeChat{reply: "ok"}, nil, nil, Config{TopK: 1, KeywordCacheSize: 1}, zerolog.Nop())
	defer f.Close()

	first, err := f.Open(context.Background(), indexID)
	require.NoError(t, err)
	second, err := f.Open(context.Background(), "idx-2")
	require.NoError(t, err)

	_, err = first.Query(context.Background(), Query{Text: "refunds", Mode: retrieval.ModeKeyword})
	require.NoError(t, err)
	answer, err := second.Query(context.Background(), Query{Text: "reset button", Mode: retrieval.ModeKeyword})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)

	// idx-1 was evicted and closed; querying it again rebuilds.
	answer, err = first.Query(context.Background(), Query{Text: "refunds", Mode: retrieval.ModeKeyword})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Contains(t, answer.Sources[0].Text, "Refunds")
	assert.Equal(t, int32(3), store.loads.Load())
}

func TestKeywordLanguageStemsQuestions(t *testing.T) {
	f := NewFactory(seededStore(t), topicEmbedder{}, &fakeChat{reply: "ok"}, nil, nil,
		Config{TopK: 1, KeywordLanguage: "en"}, zerolog.Nop())
	defer f.Close()

	e, err := f.Open(context.Background(), indexID)
	require.NoError(t, err)
	answer, err := e.Query(context.Background(), Query{Text: "refund", Mode: retrieval.ModeKeyword})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Contains(t, answer.Sources[0].Text, "Refunds")

	bad := NewFactory(seededStore(t), topicEmbedder{}, &fakeChat{reply: "ok"}, nil, nil,
		Config{KeywordLanguage: "klingon"}, zerolog.Nop())
	e, err = bad.Open(context.Background(), indexID)
	require.NoError(t, err)
	_, err = e.Query(context.Background(), Query{Text: "refund", Mode: retrieval.ModeKeyword})
	assert.ErrorIs(t, err, retrieval.ErrUnknownLanguage)
}

func TestTranscriptKeepsFileNameWithoutHits(t *testing.T) {
	sink := &memorySink{}
	f := newFactory(t, &fakeChat{reply: "I don't know."}, sink)

	e, err := f.Open(context.Background(), indexID)
	require.NoError(t, err)

	answer, err := e.Query(context.Background(), Query{Text: "zebra migration", Mode: retrieval.ModeKeyword, FileName: "policy.pdf"})
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)

	require.Len(t, sink.exchanges, 1)
	assert.Equal(t, "policy.pdf", sink.exchanges[0].FileName)
	assert.Equal(t, "keyword", sink.exchanges[0].Mode)
}
