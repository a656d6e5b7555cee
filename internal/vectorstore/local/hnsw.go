// Package local stores each index as an HNSW graph plus its passages on the local disk,
// under <dir>/<collection>_<dimensions>/<index id>/.
package local

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/rs/zerolog"

	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

const (
	graphFile    = "graph.hnsw"
	passagesFile = "passages.gob"
)

type Config struct {
	Dir        string
	Collection string
	Dimensions int
}

type Store struct {
	mu      sync.RWMutex
	root    string
	dims    int
	indexes map[string]*index
	dirty   map[string]bool
	closed  bool
	logger  zerolog.Logger
}

type index struct {
	graph    *hnsw.Graph[uint64]
	passages []model.Passage // graph key is the position in this slice
}

// passageFile is the gob payload written next to each graph.
type passageFile struct {
	Dimensions int
	Passages   []model.Passage
}

func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("local vector store dimensions must be positive")
	}
	root := filepath.Join(cfg.Dir, vectorstore.StorageName(cfg.Collection, cfg.Dimensions))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create vector store dir failed: %w", err)
	}
	return &Store{
		root:    root,
		dims:    cfg.Dimensions,
		indexes: make(map[string]*index),
		dirty:   make(map[string]bool),
		logger:  logger,
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	return g
}

// Add appends records to indexID, creating the index on first use.
func (s *Store) Add(_ context.Context, indexID string, records []vectorstore.Record) error {
	if err := vectorstore.ValidateIndexID(indexID); err != nil {
		return err
	}
	if err := vectorstore.CheckDimensions(records, s.dims); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vectorstore.ErrClosed
	}

	idx, err := s.loadLocked(indexID)
	if errors.Is(err, vectorstore.ErrIndexNotFound) {
		idx = &index{graph: newGraph()}
		s.indexes[indexID] = idx
	} else if err != nil {
		return err
	}

	for _, r := range records {
		key := uint64(len(idx.passages))
		idx.graph.Add(hnsw.MakeNode(key, normalized(r.Vector)))
		idx.passages = append(idx.passages, r.Passage)
	}
	s.dirty[indexID] = true
	return nil
}

func (s *Store) Search(_ context.Context, indexID string, vector []float32, k int) ([]model.ScoredPassage, error) {
	if err := vectorstore.ValidateIndexID(indexID); err != nil {
		return nil, err
	}
	if len(vector) != s.dims {
		return nil, fmt.Errorf("%w: query has %d, want %d", vectorstore.ErrDimensionMismatch, len(vector), s.dims)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, vectorstore.ErrClosed
	}
	idx, err := s.loadLocked(indexID)
	if err != nil {
		return nil, err
	}
	if idx.graph.Len() == 0 || k <= 0 {
		return []model.ScoredPassage{}, nil
	}

	query := normalized(vector)
	nodes := idx.graph.Search(query, k)
	out := make([]model.ScoredPassage, 0, len(nodes))
	for _, node := range nodes {
		if node.Key >= uint64(len(idx.passages)) {
			continue
		}
		distance := idx.graph.Distance(query, node.Value)
		out = append(out, model.ScoredPassage{
			Passage: idx.passages[node.Key],
			Score:   vectorstore.FiniteScore(1 - float64(distance)),
		})
	}
	return out, nil
}

func (s *Store) Passages(_ context.Context, indexID string) ([]model.Passage, error) {
	if err := vectorstore.ValidateIndexID(indexID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, vectorstore.ErrClosed
	}
	idx, err := s.loadLocked(indexID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Passage, len(idx.passages))
	copy(out, idx.passages)
	return out, nil
}

func (s *Store) Exists(_ context.Context, indexID string) (bool, error) {
	if vectorstore.ValidateIndexID(indexID) != nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, vectorstore.ErrClosed
	}
	_, err := s.loadLocked(indexID)
	if errors.Is(err, vectorstore.ErrIndexNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Persist writes every index changed since the last call.
func (s *Store) Persist(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vectorstore.ErrClosed
	}

	for indexID := range s.dirty {
		if err := s.saveLocked(indexID, s.indexes[indexID]); err != nil {
			return fmt.Errorf("persist index %s failed: %w", indexID, err)
		}
		delete(s.dirty, indexID)
		s.logger.Debug().Str("index_id", indexID).Msg("index persisted")
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.indexes = nil
	return nil
}

// loadLocked returns the in-memory index, reading it from disk on first access.
func (s *Store) loadLocked(indexID string) (*index, error) {
	if idx, ok := s.indexes[indexID]; ok {
		return idx, nil
	}

	dir := filepath.Join(s.root, indexID)
	meta, err := readPassages(filepath.Join(dir, passagesFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, indexID)
	}
	if err != nil {
		return nil, err
	}
	if meta.Dimensions != s.dims {
		return nil, fmt.Errorf("%w: index %s stored with %d", vectorstore.ErrDimensionMismatch, indexID, meta.Dimensions)
	}

	f, err := os.Open(filepath.Join(dir, graphFile))
	if err != nil {
		return nil, fmt.Errorf("open index graph failed: %w", err)
	}
	defer f.Close()

	graph := newGraph()
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("import index graph failed: %w", err)
	}

	idx := &index{graph: graph, passages: meta.Passages}
	s.indexes[indexID] = idx
	return idx, nil
}

func (s *Store) saveLocked(indexID string, idx *index) error {
	if idx == nil {
		return nil
	}
	dir := filepath.Join(s.root, indexID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir failed: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, graphFile), func(f *os.File) error {
		return idx.graph.Export(f)
	}); err != nil {
		return fmt.Errorf("export graph failed: %w", err)
	}
	// Passages go last: their presence marks the index as complete.
	if err := writeAtomic(filepath.Join(dir, passagesFile), func(f *os.File) error {
		return gob.NewEncoder(f).Encode(passageFile{Dimensions: s.dims, Passages: idx.passages})
	}); err != nil {
		return fmt.Errorf("encode passages failed: %w", err)
	}
	return nil
}

func readPassages(path string) (passageFile, error) {
	var meta passageFile
	f, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode passages failed: %w", err)
	}
	return meta, nil
}

// writeAtomic writes through a temp file and renames it over path.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}
	return out
}

var _ vectorstore.Store = (*Store)(nil)
