package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"docchat/internal/ai"
	"docchat/internal/cache"
	"docchat/internal/model"
	"docchat/internal/retrieval"
	"docchat/internal/vectorstore"
)

var (
	ErrIndexNotFound = errors.New("index not found")
	ErrEmptyQuestion = errors.New("question is empty")
)

// TranscriptSink receives every answered question. Failures are logged, never returned to the
// asker.
type TranscriptSink interface {
	Record(ctx context.Context, exchange model.Exchange) error
}

type Config struct {
	TopK int
	Mode retrieval.Mode
	// KeywordLanguage selects the keyword stemmer. See retrieval.AnalyzerFor.
	KeywordLanguage string
	// KeywordCacheSize bounds how many built keyword indexes are kept across engines.
	KeywordCacheSize int
}

const defaultKeywordCacheSize = 16

// Factory holds the long-lived dependencies and opens engines on demand.
type Factory struct {
	store    vectorstore.Store
	embedder ai.Embedder
	chat     ai.ChatModel
	history  cache.HistoryStore
	sink     TranscriptSink
	cfg      Config
	logger   zerolog.Logger

	keywords      *lru.Cache[string, *retrieval.KeywordIndex]
	keywordBuilds singleflight.Group
}

// NewFactory wires an engine factory. history and sink may be nil.
func NewFactory(store vectorstore.Store, embedder ai.Embedder, chat ai.ChatModel, history cache.HistoryStore, sink TranscriptSink, cfg Config, logger zerolog.Logger) *Factory {
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	if cfg.Mode == "" {
		cfg.Mode = retrieval.ModeVector
	}
	if cfg.KeywordCacheSize <= 0 {
		cfg.KeywordCacheSize = defaultKeywordCacheSize
	}
	if history == nil {
		history = cache.NewMemoryHistory(0)
	}
	// Only fails for a non-positive size.
	keywords, _ := lru.NewWithEvict(cfg.KeywordCacheSize, func(_ string, idx *retrieval.KeywordIndex) {
		_ = idx.Close()
	})
	return &Factory{
		store:    store,
		embedder: embedder,
		chat:     chat,
		history:  history,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		keywords: keywords,
	}
}

// Close drops every cached keyword index.
func (f *Factory) Close() {
	f.keywords.Purge()
}

// Open attaches to an existing index without rebuilding it. Engines opened on the same index
// share one keyword index.
func (f *Factory) Open(ctx context.Context, indexID string) (*Engine, error) {
	ok, err := f.store.Exists(ctx, indexID)
	if err != nil {
		return nil, fmt.Errorf("check index failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, indexID)
	}
	return &Engine{f: f, indexID: indexID}, nil
}

// Engine answers questions against one opened index. It stays usable after each answer.
type Engine struct {
	f       *Factory
	indexID string
}

type Query struct {
	Text string
	Mode retrieval.Mode
	TopK int
	// FileName names the document in the recorded transcript.
	FileName string
}

type Source struct {
	FileName string            `json:"file_name"`
	Seq      int               `json:"seq"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Answer struct {
	Text    string         `json:"answer"`
	Mode    retrieval.Mode `json:"mode"`
	Sources []Source       `json:"sources"`
}

func (e *Engine) IndexID() string {
	return e.indexID
}

// Query answers a single question grounded on retrieved passages.
func (e *Engine) Query(ctx context.Context, q Query) (*Answer, error) {
	return e.answer(ctx, "", q, nil)
}

// Chat answers with the session's previous turns as context and records the new turn.
// onChunk, when set, receives the answer as it streams.
func (e *Engine) Chat(ctx context.Context, sessionID string, q Query, onChunk func(chunk string) error) (*Answer, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "default"
	}
	return e.answer(ctx, sessionID, q, onChunk)
}

// Close releases the engine. Cached keyword indexes belong to the factory and stay open.
func (e *Engine) Close() error {
	return nil
}

func (e *Engine) answer(ctx context.Context, sessionID string, q Query, onChunk func(string) error) (*Answer, error) {
	question := strings.TrimSpace(q.Text)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	mode := q.Mode
	if mode == "" {
		mode = e.f.cfg.Mode
	}
	topK := q.TopK
	if topK <= 0 {
		topK = e.f.cfg.TopK
	}

	hits, err := e.retrieve(ctx, question, mode, topK)
	if err != nil {
		return nil, err
	}

	var history []model.Turn
	historyKey := cache.HistoryKey(e.indexID, sessionID)
	if sessionID != "" {
		history, err = e.f.history.Get(ctx, historyKey)
		if err != nil {
			return nil, fmt.Errorf("load chat history failed: %w", err)
		}
	}

	messages := buildMessages(hits, history, question)
	var text string
	if onChunk != nil {
		text, err = e.f.chat.Stream(ctx, messages, onChunk)
	} else {
		text, err = e.f.chat.Complete(ctx, messages)
	}
	if err != nil {
		return nil, fmt.Errorf("generate answer failed: %w", err)
	}

	if sessionID != "" {
		if err := e.f.history.Append(ctx, historyKey,
			model.Turn{Role: model.RoleUser, Content: question},
			model.Turn{Role: model.RoleAssistant, Content: text},
		); err != nil {
			e.f.logger.Warn().Err(err).Str("index_id", e.indexID).Msg("append chat history failed")
		}
	}

	answer := &Answer{Text: text, Mode: mode, Sources: toSources(hits)}
	e.record(ctx, sessionID, question, q.FileName, answer, hits)
	return answer, nil
}

func (e *Engine) retrieve(ctx context.Context, question string, mode retrieval.Mode, topK int) ([]model.ScoredPassage, error) {
	switch mode {
	case retrieval.ModeVector:
		return e.vectorSearch(ctx, question, topK)
	case retrieval.ModeKeyword:
		return e.keywordSearch(ctx, question, topK)
	case retrieval.ModeHybrid:
		vec, err := e.vectorSearch(ctx, question, topK*2)
		if err != nil {
			return nil, err
		}
		kw, err := e.keywordSearch(ctx, question, topK*2)
		if err != nil {
			return nil, err
		}
		return retrieval.Fuse(kw, vec, retrieval.DefaultRRFConstant, topK), nil
	default:
		return nil, fmt.Errorf("%w: %q", retrieval.ErrUnknownMode, mode)
	}
}

func (e *Engine) vectorSearch(ctx context.Context, question string, k int) ([]model.ScoredPassage, error) {
	vectors, err := e.f.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question failed: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed question failed: got %d vectors", len(vectors))
	}
	hits, err := e.f.store.Search(ctx, e.indexID, vectors[0], k)
	if errors.Is(err, vectorstore.ErrIndexNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, e.indexID)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hits, nil
}

func (e *Engine) keywordSearch(ctx context.Context, question string, k int) ([]model.ScoredPassage, error) {
	idx, err := e.f.keywordIndex(ctx, e.indexID)
	if err != nil {
		return nil, err
	}
	hits, err := idx.Search(ctx, question, k)
	if errors.Is(err, retrieval.ErrKeywordIndexClosed) {
		// Evicted between lookup and search; the next lookup rebuilds it.
		if idx, err = e.f.keywordIndex(ctx, e.indexID); err != nil {
			return nil, err
		}
		hits, err = idx.Search(ctx, question, k)
	}
	return hits, err
}

// keywordIndex returns the cached keyword index for indexID, building it at most once across
// concurrent callers.
func (f *Factory) keywordIndex(ctx context.Context, indexID string) (*retrieval.KeywordIndex, error) {
	if idx, ok := f.keywords.Get(indexID); ok {
		return idx, nil
	}
	v, err, _ := f.keywordBuilds.Do(indexID, func() (any, error) {
		if idx, ok := f.keywords.Get(indexID); ok {
			return idx, nil
		}
		passages, err := f.store.Passages(ctx, indexID)
		if err != nil {
			return nil, fmt.Errorf("load passages failed: %w", err)
		}
		idx, err := retrieval.NewKeywordIndex(passages, f.cfg.KeywordLanguage)
		if err != nil {
			return nil, err
		}
		f.keywords.Add(indexID, idx)
		f.logger.Debug().Str("index_id", indexID).Int("passages", idx.Len()).Msg("keyword index built")
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*retrieval.KeywordIndex), nil
}

func (e *Engine) record(ctx context.Context, sessionID, question, fileName string, answer *Answer, hits []model.ScoredPassage) {
	if e.f.sink == nil {
		return
	}
	exchange := model.Exchange{
		IndexID:   e.indexID,
		SessionID: sessionID,
		Question:  question,
		Answer:    answer.Text,
		Mode:      string(answer.Mode),
		FileName:  fileName,
		CreatedAt: time.Now(),
	}
	if exchange.FileName == "" && len(hits) > 0 {
		exchange.FileName = hits[0].FileName
	}
	if err := e.f.sink.Record(ctx, exchange); err != nil {
		e.f.logger.Warn().Err(err).Str("index_id", e.indexID).Msg("record transcript failed")
	}
}

func toSources(hits []model.ScoredPassage) []Source {
	out := make([]Source, 0, len(hits))
	for _, h := range hits {
		out = append(out, Source{
			FileName: h.FileName,
			Seq:      h.Seq,
			Text:     h.Text,
			Score:    h.Score,
			Metadata: h.Metadata,
		})
	}
	return out
}
