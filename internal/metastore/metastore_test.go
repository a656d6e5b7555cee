package metastore

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/model"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "document.json"), zerolog.Nop())
}

func TestLoadExistingFile(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`[{"file_name":"a.pdf","index_id":"1"}]`), 0o644))

	docs := s.Load()
	require.Len(t, docs, 1)
	assert.Equal(t, "a.pdf", docs[0].FileName)
	assert.Equal(t, "1", docs[0].IndexID)
}

func TestLoadNullFieldsAreEmpty(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`[{"file_name":"a.pdf","index_id":null}]`), 0o644))

	docs := s.Load()
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].IndexID)
}

func TestLoadMissingOrMalformed(t *testing.T) {
	s := newStore(t)
	assert.Empty(t, s.Load())
	assert.NotNil(t, s.Load())

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{not json`), 0o644))
	assert.Empty(t, s.Load())

	require.NoError(t, os.WriteFile(s.Path(), []byte(`null`), 0o644))
	assert.Empty(t, s.Load())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	docs := []model.Document{
		{FileName: "a.pdf", IndexID: "1"},
		{FileName: "b.txt", IndexID: "2", Strategy: "directory", Passages: 3, IndexedAt: &at},
	}

	require.NoError(t, s.Save(docs))
	loaded := s.Load()
	require.Len(t, loaded, 2)
	assert.Equal(t, docs[0], loaded[0])
	assert.Equal(t, "directory", loaded[1].Strategy)
	assert.Equal(t, 3, loaded[1].Passages)
	require.NotNil(t, loaded[1].IndexedAt)
	assert.True(t, at.Equal(*loaded[1].IndexedAt))
}

func TestSaveEmptyListWritesArray(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(nil))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestSaveOmitsOptionalFields(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save([]model.Document{{FileName: "a.pdf", IndexID: "1"}}))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"file_name":"a.pdf","index_id":"1"}]`, string(raw))
}

func TestFindByFileName(t *testing.T) {
	docs := []model.Document{
		{FileName: "a.pdf", IndexID: "1"},
		{FileName: "a.pdf", IndexID: "dup"},
	}

	doc, ok := FindByFileName(docs, "a.pdf")
	require.True(t, ok)
	assert.Equal(t, "1", doc.IndexID)

	_, ok = FindByFileName(docs, "z.pdf")
	assert.False(t, ok)

	_, ok = FindByFileName(nil, "a.pdf")
	assert.False(t, ok)
}

func TestAppendWithSaveAfterEach(t *testing.T) {
	s := newStore(t)
	const n = 5

	for i := 0; i < n; i++ {
		docs := s.Load()
		docs = Append(docs, model.Document{FileName: fmt.Sprintf("f%d.pdf", i), IndexID: fmt.Sprint(i)})
		require.NoError(t, s.Save(docs))
	}

	docs := s.Load()
	require.Len(t, docs, n)
	for i, doc := range docs {
		assert.Equal(t, fmt.Sprintf("f%d.pdf", i), doc.FileName)
	}
}

func TestAppendDoesNotAlias(t *testing.T) {
	base := make([]model.Document, 1, 4)
	base[0] = model.Document{FileName: "a.pdf"}

	first := Append(base, model.Document{FileName: "b.pdf"})
	second := Append(base, model.Document{FileName: "c.pdf"})

	assert.Equal(t, "b.pdf", first[1].FileName)
	assert.Equal(t, "c.pdf", second[1].FileName)
	assert.Len(t, base, 1)
}

func TestSaveFailureLeavesListUnchanged(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing-dir", "document.json"), zerolog.Nop())
	docs := []model.Document{{FileName: "a.pdf", IndexID: "1"}}

	var err error
	assert.NotPanics(t, func() { err = s.Save(docs) })
	assert.Error(t, err)
	assert.Equal(t, []model.Document{{FileName: "a.pdf", IndexID: "1"}}, docs)
	assert.Empty(t, s.Load())
}

func TestFileNames(t *testing.T) {
	docs := []model.Document{{FileName: "a.pdf"}, {FileName: ""}, {FileName: "b.pdf"}}
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, FileNames(docs))
}
