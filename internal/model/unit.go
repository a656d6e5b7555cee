package model

// Unit is a block of extracted text before chunking, e.g. a whole document or one page.
type Unit struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
