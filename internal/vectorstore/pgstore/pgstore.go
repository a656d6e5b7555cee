// Package pgstore keeps passages and embeddings in one Postgres table per collection and
// dimension, using the pgvector extension. Rows are scoped by index_id.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

// pgvector refuses ANN indexes above this many dimensions.
const maxIndexedDimensions = 2000

type Config struct {
	DSN        string
	Collection string
	Dimensions int
}

type Store struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int

	schemaMu      sync.Mutex
	schemaEnsured bool
}

var unsafeIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// TableName turns a collection and dimension into a safe SQL identifier.
func TableName(collection string, dimensions int) string {
	name := unsafeIdent.ReplaceAllString(strings.ToLower(vectorstore.StorageName(collection, dimensions)), "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "c_" + name
	}
	return name
}

func (c Config) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("postgres dsn is required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("pgvector dimensions must be positive")
	}
	return nil
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn failed: %w", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool failed: %w", err)
	}

	var extExists bool
	if err := pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')",
	).Scan(&extExists); err != nil {
		pool.Close()
		return nil, fmt.Errorf("check pgvector extension failed: %w", err)
	}
	if !extExists {
		pool.Close()
		return nil, fmt.Errorf("pgvector extension not installed, run: CREATE EXTENSION vector")
	}

	return &Store{
		pool:       pool,
		table:      TableName(cfg.Collection, cfg.Dimensions),
		dimensions: cfg.Dimensions,
	}, nil
}

func (s *Store) Table() string {
	return s.table
}

func (s *Store) Add(ctx context.Context, indexID string, records []vectorstore.Record) error {
	if err := vectorstore.ValidateIndexID(indexID); err != nil {
		return err
	}
	if err := vectorstore.CheckDimensions(records, s.dimensions); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %s (id, index_id, file_name, seq, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, s.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		var metadataJSON []byte
		if r.Passage.Metadata != nil {
			b, err := json.Marshal(r.Passage.Metadata)
			if err != nil {
				return fmt.Errorf("marshal passage metadata failed: %w", err)
			}
			metadataJSON = b
		}
		batch.Queue(upsertSQL,
			r.Passage.ID,
			indexID,
			r.Passage.FileName,
			r.Passage.Seq,
			r.Passage.Text,
			metadataJSON,
			pgvector.NewVector(r.Vector),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store passage %d failed: %w", i, err)
		}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, indexID string, vector []float32, k int) ([]model.ScoredPassage, error) {
	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("%w: query has %d, want %d", vectorstore.ErrDimensionMismatch, len(vector), s.dimensions)
	}
	ok, err := s.Exists(ctx, indexID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, indexID)
	}

	querySQL := fmt.Sprintf(`
		SELECT id, index_id, file_name, seq, content, metadata,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE index_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`, s.table)

	rows, err := s.pool.Query(ctx, querySQL, pgvector.NewVector(vector), indexID, k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search failed: %w", err)
	}
	defer rows.Close()

	out := make([]model.ScoredPassage, 0, k)
	for rows.Next() {
		var sp model.ScoredPassage
		p, err := scanPassage(rows, &sp.Score)
		if err != nil {
			return nil, err
		}
		sp.Passage = p
		sp.Score = vectorstore.FiniteScore(sp.Score)
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows failed: %w", err)
	}
	return out, nil
}

func (s *Store) Passages(ctx context.Context, indexID string) ([]model.Passage, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	querySQL := fmt.Sprintf(`
		SELECT id, index_id, file_name, seq, content, metadata
		FROM %s WHERE index_id = $1 ORDER BY seq`, s.table)

	rows, err := s.pool.Query(ctx, querySQL, indexID)
	if err != nil {
		return nil, fmt.Errorf("list passages failed: %w", err)
	}
	defer rows.Close()

	var out []model.Passage
	for rows.Next() {
		p, err := scanPassage(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passage rows failed: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, indexID)
	}
	return out, nil
}

func (s *Store) Exists(ctx context.Context, indexID string) (bool, error) {
	if vectorstore.ValidateIndexID(indexID) != nil {
		return false, nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE index_id = $1)", s.table),
		indexID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check index exists failed: %w", err)
	}
	return exists, nil
}

// Persist is a no-op: every Add is committed when it returns.
func (s *Store) Persist(context.Context) error {
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if s.pool == nil {
		return vectorstore.ErrClosed
	}
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaEnsured {
		return nil
	}

	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			index_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, s.table, s.dimensions),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_index_id_idx ON %s (index_id)", s.table, s.table),
	}
	if s.dimensions <= maxIndexedDimensions {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)",
			s.table, s.table))
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure table %s failed: %w", s.table, err)
		}
	}
	s.schemaEnsured = true
	return nil
}

func scanPassage(rows pgx.Rows, score *float64) (model.Passage, error) {
	var (
		p            model.Passage
		metadataJSON []byte
		err          error
	)
	if score != nil {
		err = rows.Scan(&p.ID, &p.IndexID, &p.FileName, &p.Seq, &p.Text, &metadataJSON, score)
	} else {
		err = rows.Scan(&p.ID, &p.IndexID, &p.FileName, &p.Seq, &p.Text, &metadataJSON)
	}
	if err != nil {
		return p, fmt.Errorf("scan passage row failed: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return p, fmt.Errorf("parse passage metadata failed: %w", err)
		}
	}
	return p, nil
}

var _ vectorstore.Store = (*Store)(nil)
