package metastore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"docchat/internal/model"
)

// Store keeps the document list in a single JSON file that is rewritten whole on every save.
// There is no locking: concurrent writers race and the last one wins.
type Store struct {
	path   string
	logger zerolog.Logger
}

func New(path string, logger zerolog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted records in file order. A missing or unreadable file yields an
// empty list.
func (s *Store) Load() []model.Document {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Debug().Err(err).Str("path", s.path).Msg("metadata file not loaded")
		return []model.Document{}
	}

	var docs []model.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		s.logger.Debug().Err(err).Str("path", s.path).Msg("metadata file malformed")
		return []model.Document{}
	}
	if docs == nil {
		return []model.Document{}
	}
	return docs
}

// Save overwrites the file with the full list. docs is never modified.
func (s *Store) Save(docs []model.Document) error {
	if docs == nil {
		docs = []model.Document{}
	}
	payload, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal documents failed: %w", err)
	}
	if err := os.WriteFile(s.path, payload, 0o644); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("save metadata file failed")
		return fmt.Errorf("write metadata file failed: %w", err)
	}
	return nil
}

// FindByFileName returns the first record whose file name matches exactly.
func FindByFileName(docs []model.Document, name string) (model.Document, bool) {
	for _, doc := range docs {
		if doc.FileName == name {
			return doc, true
		}
	}
	return model.Document{}, false
}

// Append returns a new list with doc at the end. Duplicate names are not rejected.
func Append(docs []model.Document, doc model.Document) []model.Document {
	out := make([]model.Document, 0, len(docs)+1)
	out = append(out, docs...)
	return append(out, doc)
}

// FileNames lists the non-empty file names in record order.
func FileNames(docs []model.Document) []string {
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.FileName != "" {
			names = append(names, doc.FileName)
		}
	}
	return names
}
