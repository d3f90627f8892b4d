package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/similarity"
	"github.com/docqa/backend/internal/storage/models"
)

var ErrBlankQuestion = errors.New("question must not be blank")

const (
	NoDocumentsContext      = "No document was found for the user"
	NoEmbeddedChunksContext = "No chunks with embeddings was found"

	fallbackNotice = "(No specific matches was found, showing the first parts)\n\n"
)

type Mode string

const (
	ModeEmbedding Mode = "embedding"
	ModeKeyword   Mode = "keyword"
	ModeFallback  Mode = "keyword_fallback"
	ModeEmpty     Mode = "empty"
)

// IsNoMaterial reports whether a context string carries no document text,
// in which case an answerer should fall back to a general answer.
func IsNoMaterial(context string) bool {
	return context == NoDocumentsContext || context == NoEmbeddedChunksContext
}

type ChunkSource interface {
	FindChunksByOwner(ctx context.Context, ownerID string) ([]models.DocumentChunk, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

type Config struct {
	TopK          int
	KeywordLimit  int
	FallbackLimit int
	MinKeywordLen int
}

func DefaultConfig() Config {
	return Config{TopK: 5, KeywordLimit: 5, FallbackLimit: 3, MinKeywordLen: 4}
}

type Match struct {
	Chunk models.DocumentChunk
	Score float64
}

type Result struct {
	Context string
	Mode    Mode
	Matches []Match
	// Candidates is the number of chunks that took part in scoring.
	Candidates int
}

type Engine struct {
	chunks   ChunkSource
	embedder Embedder
	cfg      Config
	logger   *zap.Logger
}

func NewEngine(chunks ChunkSource, embedder Embedder, cfg Config, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.KeywordLimit <= 0 {
		cfg.KeywordLimit = def.KeywordLimit
	}
	if cfg.FallbackLimit <= 0 {
		cfg.FallbackLimit = def.FallbackLimit
	}
	if cfg.MinKeywordLen <= 0 {
		cfg.MinKeywordLen = def.MinKeywordLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{chunks: chunks, embedder: embedder, cfg: cfg, logger: logger}
}

func (e *Engine) Retrieve(ctx context.Context, question, ownerID string) (string, error) {
	res, err := e.Search(ctx, question, ownerID)
	if err != nil {
		return "", err
	}
	return res.Context, nil
}

func (e *Engine) Search(ctx context.Context, question, ownerID string) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrBlankQuestion
	}

	chunks, err := e.chunks.FindChunksByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for owner: %w", err)
	}

	var queryVec []float32
	if len(chunks) > 0 && e.embedder != nil {
		queryVec = e.embedder.Embed(ctx, question)
	}

	var res *Result
	switch {
	case len(chunks) == 0:
		res = &Result{Context: NoDocumentsContext, Mode: ModeEmpty}
	case len(queryVec) == 0:
		e.logger.Info("Question embedding unavailable, using keyword search", zap.String("owner_id", ownerID))
		res = e.keywordSearch(question, chunks)
	default:
		res = e.embeddingSearch(queryVec, chunks)
	}

	metrics.RetrievalTotal.WithLabelValues(string(res.Mode)).Inc()
	metrics.RetrievalResultsCount.Observe(float64(len(res.Matches)))

	e.logger.Debug("Context retrieved",
		zap.String("owner_id", ownerID),
		zap.String("mode", string(res.Mode)),
		zap.Int("candidates", res.Candidates),
		zap.Int("matches", len(res.Matches)),
	)
	return res, nil
}

func (e *Engine) embeddingSearch(queryVec []float32, chunks []models.DocumentChunk) *Result {
	ranked := similarity.Rank(chunks, queryVec, func(c models.DocumentChunk) []float32 {
		return c.Embedding
	})
	if len(ranked) == 0 {
		return &Result{Context: NoEmbeddedChunksContext, Mode: ModeEmbedding}
	}

	top := similarity.TopK(ranked, e.cfg.TopK)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Searched with embeddings - found %d chunks with embeddings\n\n", len(ranked))

	matches := make([]Match, 0, len(top))
	for _, s := range top {
		fmt.Fprintf(&sb, "--- Chunk %d (relevance: %.3f) from %s ---\n%s\n\n",
			s.Item.ChunkNumber, s.Score, s.Item.FileName, s.Item.Content)
		matches = append(matches, Match{Chunk: s.Item, Score: s.Score})
	}

	return &Result{Context: sb.String(), Mode: ModeEmbedding, Matches: matches, Candidates: len(ranked)}
}

// keywordSearch returns chunks containing any keyword, in storage order.
// With no hit it returns the owner's first chunks instead.
func (e *Engine) keywordSearch(question string, chunks []models.DocumentChunk) *Result {
	keywords := Keywords(question, e.cfg.MinKeywordLen)

	var sb strings.Builder
	var matches []Match
	for _, c := range chunks {
		if len(matches) >= e.cfg.KeywordLimit {
			break
		}
		content := strings.ToLower(c.Content)
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				writeChunk(&sb, c)
				matches = append(matches, Match{Chunk: c})
				break
			}
		}
	}
	if len(matches) > 0 {
		return &Result{Context: sb.String(), Mode: ModeKeyword, Matches: matches, Candidates: len(chunks)}
	}

	sb.Reset()
	sb.WriteString(fallbackNotice)
	for i := 0; i < len(chunks) && i < e.cfg.FallbackLimit; i++ {
		writeChunk(&sb, chunks[i])
		matches = append(matches, Match{Chunk: chunks[i]})
	}
	return &Result{Context: sb.String(), Mode: ModeFallback, Matches: matches, Candidates: len(chunks)}
}

func writeChunk(sb *strings.Builder, c models.DocumentChunk) {
	fmt.Fprintf(sb, "--- Chunk %d from %s ---\n%s\n\n", c.ChunkNumber, c.FileName, c.Content)
}

// Keywords lowercases the question and keeps whitespace tokens of at least
// minLen runes.
func Keywords(question string, minLen int) []string {
	var keywords []string
	for _, tok := range strings.Fields(strings.ToLower(question)) {
		if utf8.RuneCountInString(tok) >= minLen {
			keywords = append(keywords, tok)
		}
	}
	return keywords
}
