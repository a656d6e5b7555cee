package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/de"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/lang/es"
	"github.com/blevesearch/bleve/v2/analysis/lang/fr"

	"docchat/internal/model"
)

// DefaultKeywordLanguage stems English.
const DefaultKeywordLanguage = "en"

var (
	ErrUnknownLanguage    = errors.New("unknown keyword language")
	ErrKeywordIndexClosed = errors.New("keyword index is closed")
)

// AnalyzerFor maps a keyword language to a registered bleve analyzer. "none" keeps the
// unstemmed standard analyzer.
func AnalyzerFor(language string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "", "en", "english":
		return en.AnalyzerName, nil
	case "de", "german":
		return de.AnalyzerName, nil
	case "fr", "french":
		return fr.AnalyzerName, nil
	case "es", "spanish":
		return es.AnalyzerName, nil
	case "none", "standard":
		return standard.Name, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, language)
	}
}

type keywordDoc struct {
	Content string `json:"content"`
}

// KeywordIndex is an in-memory BM25 index over one document's passages.
type KeywordIndex struct {
	mu       sync.RWMutex
	index    bleve.Index
	passages map[string]model.Passage
	closed   bool
}

// NewKeywordIndex indexes passages with the stemming analyzer for language, so "invoices"
// matches "invoice".
func NewKeywordIndex(passages []model.Passage, language string) (*KeywordIndex, error) {
	analyzer, err := AnalyzerFor(language)
	if err != nil {
		return nil, err
	}
	mapping := bleve.NewIndexMapping()
	mapping.DefaultAnalyzer = analyzer

	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create keyword index failed: %w", err)
	}

	byID := make(map[string]model.Passage, len(passages))
	batch := idx.NewBatch()
	for _, p := range passages {
		if err := batch.Index(p.ID, keywordDoc{Content: p.Text}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("index passage %s failed: %w", p.ID, err)
		}
		byID[p.ID] = p
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("execute keyword batch failed: %w", err)
	}

	return &KeywordIndex{index: idx, passages: byID}, nil
}

// Search returns up to limit passages ranked by BM25. A blank query matches nothing.
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]model.ScoredPassage, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, ErrKeywordIndexClosed
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []model.ScoredPassage{}, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	out := make([]model.ScoredPassage, 0, len(result.Hits))
	for _, hit := range result.Hits {
		p, ok := k.passages[hit.ID]
		if !ok {
			continue
		}
		out = append(out, model.ScoredPassage{Passage: p, Score: hit.Score})
	}
	return out, nil
}

func (k *KeywordIndex) Len() int {
	return len(k.passages)
}

func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}
