package model

// Passage is the unit of retrieval: a chunk of extracted text belonging to one index.
type Passage struct {
	ID       string            `json:"id"`
	IndexID  string            `json:"index_id"`
	FileName string            `json:"file_name"`
	Seq      int               `json:"seq"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScoredPassage is a retrieval hit. Score is higher-is-better within one retrieval mode.
type ScoredPassage struct {
	Passage
	Score float64 `json:"score"`
}
