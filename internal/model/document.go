package model

import "time"

// Document is one entry of the metadata file. IndexID is the only handle needed to reopen the
// document's index.
type Document struct {
	FileName  string     `json:"file_name"`
	IndexID   string     `json:"index_id"`
	Strategy  string     `json:"strategy,omitempty"`
	Passages  int        `json:"passages,omitempty"`
	IndexedAt *time.Time `json:"indexed_at,omitempty"`
}
