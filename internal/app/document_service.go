package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"docchat/internal/engine"
	"docchat/internal/index"
	"docchat/internal/metastore"
	"docchat/internal/metrics"
	"docchat/internal/model"
	"docchat/internal/reader"
	"docchat/internal/retrieval"
)

var (
	ErrNoFiles            = errors.New("no files uploaded")
	ErrInvalidFileName    = errors.New("invalid file name")
	ErrIndexNotFound      = errors.New("no index found for this document, please upload it first")
	ErrTranscriptDisabled = errors.New("transcript log is not enabled")
)

type DocumentStore interface {
	Load() []model.Document
	Save(docs []model.Document) error
}

type DocumentReader interface {
	Read(ctx context.Context, strategy reader.Strategy, path string) ([]model.Unit, error)
}

type IndexBuilder interface {
	Build(ctx context.Context, fileName string, units []model.Unit) (*index.Result, error)
}

type QueryEngine interface {
	Query(ctx context.Context, q engine.Query) (*engine.Answer, error)
	Chat(ctx context.Context, sessionID string, q engine.Query, onChunk func(chunk string) error) (*engine.Answer, error)
	Close() error
}

type EngineOpener interface {
	Open(ctx context.Context, indexID string) (QueryEngine, error)
}

// EngineOpenerFunc adapts a plain function to EngineOpener.
type EngineOpenerFunc func(ctx context.Context, indexID string) (QueryEngine, error)

func (f EngineOpenerFunc) Open(ctx context.Context, indexID string) (QueryEngine, error) {
	return f(ctx, indexID)
}

type TranscriptReader interface {
	ListByIndexID(ctx context.Context, indexID string, limit int) ([]model.Exchange, error)
}

type Options struct {
	FilesDir        string
	DefaultStrategy reader.Strategy
}

// DocumentService is the controller behind every user surface. It keeps no document state
// between calls: each operation reloads the list from the store.
type DocumentService struct {
	store       DocumentStore
	reader      DocumentReader
	builder     IndexBuilder
	engines     EngineOpener
	transcripts TranscriptReader
	metrics     *metrics.Metrics
	opts        Options
	logger      zerolog.Logger
	now         func() time.Time
}

// NewDocumentService wires the controller. transcripts and m may be nil.
func NewDocumentService(
	store DocumentStore,
	rd DocumentReader,
	builder IndexBuilder,
	engines EngineOpener,
	transcripts TranscriptReader,
	m *metrics.Metrics,
	opts Options,
	logger zerolog.Logger,
) *DocumentService {
	if opts.FilesDir == "" {
		opts.FilesDir = "files"
	}
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = reader.StrategyPDF
	}
	return &DocumentService{
		store:       store,
		reader:      rd,
		builder:     builder,
		engines:     engines,
		transcripts: transcripts,
		metrics:     m,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

type UploadFile struct {
	Name string
	Body io.Reader
}

type UploadResult struct {
	Documents []model.Document `json:"documents"`
	// SaveError is set when a record was indexed but the metadata file could not be written.
	SaveError error `json:"-"`
}

func (s *DocumentService) DefaultStrategy() reader.Strategy {
	return s.opts.DefaultStrategy
}

func (s *DocumentService) ListDocuments() []model.Document {
	return s.store.Load()
}

func (s *DocumentService) FileNames() []string {
	return metastore.FileNames(s.store.Load())
}

// Upload indexes files one after another. A failure stops at that file; files before it stay
// indexed and recorded, and the partial result is returned with the error.
func (s *DocumentService) Upload(ctx context.Context, files []UploadFile, strategy reader.Strategy) (*UploadResult, error) {
	result := &UploadResult{Documents: []model.Document{}}
	if len(files) == 0 {
		return result, ErrNoFiles
	}
	if strategy == "" {
		strategy = s.opts.DefaultStrategy
	}

	docs := s.store.Load()
	for _, f := range files {
		doc, err := s.uploadOne(ctx, f, strategy)
		s.metrics.ObserveUpload(err)
		if err != nil {
			return result, err
		}

		docs = metastore.Append(docs, doc)
		if err := s.store.Save(docs); err != nil {
			s.logger.Error().Err(err).Str("file", doc.FileName).Msg("document indexed but metadata not saved")
			result.SaveError = err
		}
		result.Documents = append(result.Documents, doc)
	}
	return result, nil
}

func (s *DocumentService) uploadOne(ctx context.Context, f UploadFile, strategy reader.Strategy) (model.Document, error) {
	name := filepath.Base(strings.TrimSpace(f.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return model.Document{}, fmt.Errorf("%w: %q", ErrInvalidFileName, f.Name)
	}

	path, err := s.saveFile(name, f.Body)
	if err != nil {
		return model.Document{}, err
	}

	units, err := s.reader.Read(ctx, strategy, path)
	if err != nil {
		return model.Document{}, fmt.Errorf("read %s failed: %w", name, err)
	}

	built, err := s.builder.Build(ctx, name, units)
	if err != nil {
		return model.Document{}, fmt.Errorf("index %s failed: %w", name, err)
	}
	s.metrics.ObserveBuild(built.Duration, built.Passages)

	indexedAt := s.now().UTC()
	s.logger.Info().
		Str("file", name).
		Str("index_id", built.IndexID).
		Str("strategy", string(strategy)).
		Int("passages", built.Passages).
		Dur("took", built.Duration).
		Msg("document indexed")

	return model.Document{
		FileName:  name,
		IndexID:   built.IndexID,
		Strategy:  string(strategy),
		Passages:  built.Passages,
		IndexedAt: &indexedAt,
	}, nil
}

// saveFile writes the upload under its base name, replacing any earlier file of that name.
func (s *DocumentService) saveFile(name string, body io.Reader) (string, error) {
	if err := os.MkdirAll(s.opts.FilesDir, 0o755); err != nil {
		return "", fmt.Errorf("create files dir failed: %w", err)
	}
	path := filepath.Join(s.opts.FilesDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s failed: %w", name, err)
	}
	if body != nil {
		if _, err := io.Copy(out, body); err != nil {
			_ = out.Close()
			return "", fmt.Errorf("write %s failed: %w", name, err)
		}
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("write %s failed: %w", name, err)
	}
	return path, nil
}

type AskInput struct {
	FileName string
	Question string
	Mode     string
	TopK     int
}

type ChatInput struct {
	FileName  string
	SessionID string
	Message   string
	Mode      string
	TopK      int
}

func (s *DocumentService) Ask(ctx context.Context, input AskInput) (*engine.Answer, error) {
	q, err := buildQuery(input.Question, input.Mode, input.TopK)
	if err != nil {
		return nil, err
	}
	eng, doc, err := s.open(ctx, input.FileName)
	if err != nil {
		return nil, err
	}
	defer eng.Close()
	q.FileName = doc.FileName

	started := s.now()
	answer, err := eng.Query(ctx, q)
	s.metrics.ObserveQuestion(modeLabel(q.Mode, answer), s.now().Sub(started), err)
	return answer, err
}

// Chat answers within a session. onChunk, when set, receives the answer as it streams.
func (s *DocumentService) Chat(ctx context.Context, input ChatInput, onChunk func(chunk string) error) (*engine.Answer, error) {
	q, err := buildQuery(input.Message, input.Mode, input.TopK)
	if err != nil {
		return nil, err
	}
	eng, doc, err := s.open(ctx, input.FileName)
	if err != nil {
		return nil, err
	}
	defer eng.Close()
	q.FileName = doc.FileName

	started := s.now()
	answer, err := eng.Chat(ctx, input.SessionID, q, onChunk)
	s.metrics.ObserveQuestion(modeLabel(q.Mode, answer), s.now().Sub(started), err)
	return answer, err
}

func (s *DocumentService) Transcript(ctx context.Context, fileName string, limit int) ([]model.Exchange, error) {
	if s.transcripts == nil {
		return nil, ErrTranscriptDisabled
	}
	doc, err := s.lookup(fileName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.transcripts.ListByIndexID(ctx, doc.IndexID, limit)
}

func (s *DocumentService) lookup(fileName string) (model.Document, error) {
	doc, ok := metastore.FindByFileName(s.store.Load(), fileName)
	if !ok || doc.IndexID == "" {
		return model.Document{}, ErrIndexNotFound
	}
	return doc, nil
}

func (s *DocumentService) open(ctx context.Context, fileName string) (QueryEngine, model.Document, error) {
	doc, err := s.lookup(fileName)
	if err != nil {
		return nil, doc, err
	}
	eng, err := s.engines.Open(ctx, doc.IndexID)
	if err != nil {
		if errors.Is(err, engine.ErrIndexNotFound) {
			s.logger.Warn().Str("file", fileName).Str("index_id", doc.IndexID).Msg("recorded index is missing from storage")
			return nil, doc, ErrIndexNotFound
		}
		return nil, doc, fmt.Errorf("open index failed: %w", err)
	}
	return eng, doc, nil
}

func buildQuery(text, mode string, topK int) (engine.Query, error) {
	if strings.TrimSpace(text) == "" {
		return engine.Query{}, engine.ErrEmptyQuestion
	}
	var m retrieval.Mode
	if mode != "" {
		parsed, err := retrieval.ParseMode(mode)
		if err != nil {
			return engine.Query{}, err
		}
		m = parsed
	}
	return engine.Query{Text: text, Mode: m, TopK: topK}, nil
}

func modeLabel(requested retrieval.Mode, answer *engine.Answer) string {
	if answer != nil && answer.Mode != "" {
		return string(answer.Mode)
	}
	if requested != "" {
		return string(requested)
	}
	return "default"
}
