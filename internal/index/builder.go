package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"docchat/internal/ai"
	"docchat/internal/chunker"
	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

var ErrNoPassages = errors.New("no passages to index")

type Options struct {
	BatchSize   int
	Concurrency int
}

// Result describes a freshly built index. IndexID is the only handle needed to reopen it.
type Result struct {
	IndexID  string
	Passages int
	Duration time.Duration
}

type Builder struct {
	chunker  *chunker.SentenceChunker
	embedder ai.Embedder
	store    vectorstore.Store
	opts     Options
	logger   zerolog.Logger
	newID    func() string
}

func NewBuilder(c *chunker.SentenceChunker, embedder ai.Embedder, store vectorstore.Store, opts Options, logger zerolog.Logger) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Builder{
		chunker:  c,
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logger,
		newID:    func() string { return uuid.NewString() },
	}
}

// Build chunks units, embeds the passages and writes them under a new index identifier.
// The store is persisted before Build returns.
func (b *Builder) Build(ctx context.Context, fileName string, units []model.Unit) (*Result, error) {
	start := time.Now()

	chunks := b.chunker.ChunkUnits(units)
	if len(chunks) == 0 {
		return nil, ErrNoPassages
	}

	indexID := b.newID()
	passages := make([]model.Passage, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		passages[i] = model.Passage{
			ID:       indexID + ":" + strconv.Itoa(i),
			IndexID:  indexID,
			FileName: fileName,
			Seq:      i,
			Text:     c.Text,
			Metadata: c.Metadata,
		}
		texts[i] = c.Text
	}

	vectors, err := b.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	records := make([]vectorstore.Record, len(passages))
	for i := range passages {
		records[i] = vectorstore.Record{Passage: passages[i], Vector: vectors[i]}
	}
	if err := b.store.Add(ctx, indexID, records); err != nil {
		return nil, fmt.Errorf("store passages failed: %w", err)
	}
	if err := b.store.Persist(ctx); err != nil {
		return nil, fmt.Errorf("persist index failed: %w", err)
	}

	res := &Result{IndexID: indexID, Passages: len(passages), Duration: time.Since(start)}
	b.logger.Info().
		Str("file_name", fileName).
		Str("index_id", indexID).
		Int("passages", res.Passages).
		Dur("took", res.Duration).
		Msg("index built")
	return res, nil
}

// embed runs batches concurrently; the output stays aligned with texts.
func (b *Builder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.opts.Concurrency)
	for start := 0; start < len(texts); start += b.opts.BatchSize {
		lo := start
		hi := start + b.opts.BatchSize
		if hi > len(texts) {
			hi = len(texts)
		}
		eg.Go(func() error {
			out, err := b.embedder.Embed(gctx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("embed passages %d-%d failed: %w", lo, hi-1, err)
			}
			if len(out) != hi-lo {
				return fmt.Errorf("embed passages %d-%d failed: got %d vectors", lo, hi-1, len(out))
			}
			copy(vectors[lo:hi], out)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
