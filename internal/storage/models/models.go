package models

import "time"

type Document struct {
	ID        string
	OwnerID   string
	FileName  string
	Content   string
	CreatedAt time.Time
}

// DocumentChunk offsets are rune offsets into Document.Content for windowed
// chunks and (0, rune length of Content) for per-sheet or per-slide chunks.
type DocumentChunk struct {
	ID          string
	DocumentID  string
	OwnerID     string
	FileName    string
	Content     string
	ChunkNumber int
	StartIndex  int
	EndIndex    int
	Embedding   []float32
	CreatedAt   time.Time
}

func (c *DocumentChunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

type QueryRecord struct {
	ID            string
	OwnerID       string
	Question      string
	Answer        string
	RetrievalMode string
	ContextChars  int
	LatencyMS     int
	CreatedAt     time.Time
}
