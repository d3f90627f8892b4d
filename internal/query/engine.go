package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/retrieval"
	"github.com/docqa/backend/internal/storage/models"
)

var ErrNoAnswerer = errors.New("no answer generator configured")

const DefaultHistoryLimit = 20

type Retriever interface {
	Search(ctx context.Context, question, ownerID string) (*retrieval.Result, error)
}

type Answerer interface {
	Answer(ctx context.Context, question, docContext string) (*llm.Answer, error)
}

type HistoryStore interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
	GetQueryHistory(ctx context.Context, ownerID string, limit int) ([]models.QueryRecord, error)
}

type Engine struct {
	retriever Retriever
	answerer  Answerer
	history   HistoryStore
	logger    *zap.Logger
}

type QueryRequest struct {
	Question string
	OwnerID  string
}

type QueryResponse struct {
	ID        string
	Question  string
	Answer    string
	Model     string
	Mode      retrieval.Mode
	General   bool
	Tokens    int
	Sources   []Source
	LatencyMS int
}

type Source struct {
	DocumentID  string  `json:"document_id"`
	FileName    string  `json:"file_name"`
	ChunkNumber int     `json:"chunk_number"`
	Score       float64 `json:"score,omitempty"`
}

// NewEngine wires retrieval to answer generation. history may be nil, in
// which case questions are not recorded.
func NewEngine(retriever Retriever, answerer Answerer, history HistoryStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		retriever: retriever,
		answerer:  answerer,
		history:   history,
		logger:    logger,
	}
}

func (e *Engine) Ask(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, retrieval.ErrBlankQuestion
	}
	if e.answerer == nil {
		return nil, ErrNoAnswerer
	}

	startTime := time.Now()
	queryID := uuid.NewString()

	e.logger.Info("Processing question",
		zap.String("query_id", queryID),
		zap.String("owner_id", req.OwnerID),
		zap.String("question", truncate(req.Question, 100)),
	)

	found, err := e.retriever.Search(ctx, req.Question, req.OwnerID)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	answer, err := e.answerer.Answer(ctx, req.Question, found.Context)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	latency := time.Since(startTime)
	metrics.QueryDuration.WithLabelValues(string(found.Mode)).Observe(latency.Seconds())
	metrics.QueryTotal.WithLabelValues("success").Inc()

	sources := make([]Source, 0, len(found.Matches))
	for _, m := range found.Matches {
		sources = append(sources, Source{
			DocumentID:  m.Chunk.DocumentID,
			FileName:    m.Chunk.FileName,
			ChunkNumber: m.Chunk.ChunkNumber,
			Score:       m.Score,
		})
	}

	resp := &QueryResponse{
		ID:        queryID,
		Question:  req.Question,
		Answer:    answer.Content,
		Model:     answer.Model,
		Mode:      found.Mode,
		General:   answer.General,
		Tokens:    answer.Tokens,
		Sources:   sources,
		LatencyMS: int(latency.Milliseconds()),
	}

	e.record(ctx, req, resp, len(found.Context))

	e.logger.Info("Question answered",
		zap.String("query_id", queryID),
		zap.String("mode", string(found.Mode)),
		zap.Bool("general", answer.General),
		zap.Int("tokens", answer.Tokens),
		zap.Int("latency_ms", resp.LatencyMS),
	)

	return resp, nil
}

func (e *Engine) record(ctx context.Context, req QueryRequest, resp *QueryResponse, contextChars int) {
	if e.history == nil {
		return
	}

	err := e.history.InsertQueryRecord(ctx, &models.QueryRecord{
		ID:            resp.ID,
		OwnerID:       req.OwnerID,
		Question:      req.Question,
		Answer:        resp.Answer,
		RetrievalMode: string(resp.Mode),
		ContextChars:  contextChars,
		LatencyMS:     resp.LatencyMS,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		e.logger.Warn("Failed to record question", zap.String("query_id", resp.ID), zap.Error(err))
	}
}

func (e *Engine) History(ctx context.Context, ownerID string, limit int) ([]models.QueryRecord, error) {
	if e.history == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	records, err := e.history.GetQueryHistory(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load query history: %w", err)
	}
	return records, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
