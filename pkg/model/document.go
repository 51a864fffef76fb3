package model

// Document is an embedded quit-reason text with the remaining survey attributes as metadata
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"-"`
}

// ScoredDocument is a search hit. Score is cosine similarity, higher is closer.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}
