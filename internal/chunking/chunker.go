package chunking

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	WorksheetDelimiter = "--- WORKSHEET: "
	SlideDelimiter     = "--- SLIDE "

	headingClose = "---"
)

// Chunk is one slice of a document. Start and End are rune offsets into
// the normalized text for windowed chunks and (0, rune length of Content)
// for structural chunks.
type Chunk struct {
	Number  int
	Start   int
	End     int
	Content string
}

type Chunker struct {
	chunkSize int
	overlap   int
}

type Option func(*Chunker)

func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

func (c *Chunker) ChunkSize() int { return c.chunkSize }

func (c *Chunker) Overlap() int { return c.overlap }

// Windowed emits ceil(n/(size-overlap)) windows of at most size runes,
// window i starting at i*(size-overlap).
func (c *Chunker) Windowed(text string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	step := c.chunkSize - c.overlap

	chunks := make([]Chunk, 0, (n+step-1)/step)
	for i := 0; ; i++ {
		start := i * step
		if start >= n {
			break
		}
		end := start + c.chunkSize
		if end > n {
			end = n
		}
		chunks = append(chunks, Chunk{
			Number:  len(chunks) + 1,
			Start:   start,
			End:     end,
			Content: string(runes[start:end]),
		})
	}
	return chunks
}

// Structural splits text on delimiter. The text before the first delimiter
// is a document header and is not emitted. Each remaining segment keeps the
// delimiter as its prefix and is numbered by its position. Segments with no
// body after their "---" heading are skipped without renumbering the rest.
func (c *Chunker) Structural(text, delimiter string) []Chunk {
	if text == "" || delimiter == "" {
		return nil
	}

	segments := strings.Split(text, delimiter)
	chunks := make([]Chunk, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		segment := strings.TrimSpace(segments[i])
		if isBlankSegment(segment) {
			continue
		}
		content := delimiter + segment
		chunks = append(chunks, Chunk{
			Number:  i,
			Start:   0,
			End:     utf8.RuneCountInString(content),
			Content: content,
		})
	}
	return chunks
}

func isBlankSegment(segment string) bool {
	if _, body, ok := strings.Cut(segment, headingClose); ok {
		return strings.TrimSpace(body) == ""
	}
	return segment == ""
}
