package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/docqa/backend/internal/chunking"
	"github.com/docqa/backend/internal/extract"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/storage"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/retry"
)

type Extractors interface {
	For(filename string) (extract.Extractor, extract.Kind, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

type Config struct {
	WindowBatchSize        int
	StructuralBatchSize    int
	PDFBatchDelay          time.Duration
	SpreadsheetBatchDelay  time.Duration
	PresentationBatchDelay time.Duration
	EmbedConcurrency       int
	PipelineAttempts       int
	PipelineRetryDelay     time.Duration
	// CleanupRetryDelay should be at least the store breaker's cool-down:
	// the outage that broke chunk creation has usually opened it.
	CleanupAttempts   int
	CleanupRetryDelay time.Duration
	// SerializeSameName makes uploads of the same file name by the same
	// owner run one after another instead of racing on supersede.
	SerializeSameName bool
	PreviewChars      int
}

func DefaultConfig() Config {
	return Config{
		WindowBatchSize:        10,
		StructuralBatchSize:    5,
		PDFBatchDelay:          300 * time.Millisecond,
		SpreadsheetBatchDelay:  400 * time.Millisecond,
		PresentationBatchDelay: 500 * time.Millisecond,
		EmbedConcurrency:       1,
		PipelineAttempts:       2,
		PipelineRetryDelay:     time.Second,
		CleanupAttempts:        3,
		CleanupRetryDelay:      30 * time.Second,
		PreviewChars:           200,
	}
}

type Upload struct {
	OwnerID  string
	FileName string
	Data     []byte
}

type Result struct {
	Document   *models.Document
	Kind       extract.Kind
	Stage      Stage
	Chunks     int
	Embedded   int
	Superseded []string
	Preview    string
}

type Coordinator struct {
	store      storage.Store
	extractors Extractors
	chunker    *chunking.Chunker
	embedder   Embedder
	cfg        Config
	logger     *zap.Logger
	locks      *keyedMutex
	now        func() time.Time

	wg sync.WaitGroup
}

func NewCoordinator(store storage.Store, extractors Extractors, chunker *chunking.Chunker, embedder Embedder, cfg Config, logger *zap.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.WindowBatchSize <= 0 {
		cfg.WindowBatchSize = def.WindowBatchSize
	}
	if cfg.StructuralBatchSize <= 0 {
		cfg.StructuralBatchSize = def.StructuralBatchSize
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = def.EmbedConcurrency
	}
	if cfg.PipelineAttempts <= 0 {
		cfg.PipelineAttempts = 1
	}
	if cfg.CleanupAttempts <= 0 {
		cfg.CleanupAttempts = def.CleanupAttempts
	}
	if cfg.CleanupRetryDelay < 0 {
		cfg.CleanupRetryDelay = 0
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = def.PreviewChars
	}
	if chunker == nil {
		chunker = chunking.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		store:      store,
		extractors: extractors,
		chunker:    chunker,
		embedder:   embedder,
		cfg:        cfg,
		logger:     logger,
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
}

// Ingest validates and extracts the upload, then runs the storage pipeline.
// Once extraction succeeds the pipeline is detached from ctx: if the caller
// goes away Ingest returns ctx.Err() and the work finishes in the
// background. Wait blocks until such work is done.
func (c *Coordinator) Ingest(ctx context.Context, up Upload) (*Result, error) {
	if up.OwnerID == "" {
		return nil, ErrMissingOwner
	}

	extractor, kind, err := c.extractors.For(up.FileName)
	if err != nil {
		return nil, err
	}
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyUpload, up.FileName)
	}

	raw, err := extractor.Extract(ctx, up.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from %s: %w", up.FileName, err)
	}

	text := chunking.Normalize(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoText, up.FileName)
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := c.run(context.WithoutCancel(ctx), up.OwnerID, up.FileName, kind, text)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		c.logger.Warn("Upload request ended, ingestion continues in background",
			zap.String("owner_id", up.OwnerID),
			zap.String("file_name", up.FileName),
		)
		return nil, ctx.Err()
	}
}

func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, ownerID, fileName string, kind extract.Kind, text string) (*Result, error) {
	start := time.Now()

	if c.cfg.SerializeSameName {
		unlock := c.locks.Lock(ownerID + "\x00" + fileName)
		defer unlock()
	}

	var res *Result
	var failures []error
	// partial is a document left behind by an attempt whose cleanup failed.
	var partial string
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  c.cfg.PipelineAttempts,
		InitialDelay: c.cfg.PipelineRetryDelay,
		MaxDelay:     c.cfg.PipelineRetryDelay,
		Retryable:    retryablePipelineError,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			c.logger.Warn("Ingestion pipeline failed, retrying",
				zap.String("file_name", fileName),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}, func() error {
		var perr error
		res, perr = c.pipeline(ctx, ownerID, fileName, kind, text, &partial)
		if perr != nil {
			failures = append(failures, perr)
		}
		return perr
	})
	err = rootFailure(err, failures)

	metrics.IngestionDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.DocumentsProcessed.WithLabelValues(string(StageFailed)).Inc()
		c.logger.Error("Document ingestion failed",
			zap.String("owner_id", ownerID),
			zap.String("file_name", fileName),
			zap.Error(err),
		)
		if res != nil {
			res.Stage = StageFailed
		}
		return res, err
	}

	metrics.DocumentsProcessed.WithLabelValues(string(StageSaved)).Inc()
	c.logger.Info("Document processed successfully",
		zap.String("document_id", res.Document.ID),
		zap.String("file_name", fileName),
		zap.Int("chunks", res.Chunks),
		zap.Int("embedded", res.Embedded),
		zap.Int("superseded", len(res.Superseded)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// rootFailure reports the failure that started a run of attempts when a
// later attempt was only turned away by the circuit that failure opened.
func rootFailure(err error, failures []error) error {
	if err == nil || !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return err
	}
	for _, f := range failures {
		if !errors.Is(f, circuitbreaker.ErrCircuitOpen) {
			return f
		}
	}
	return err
}

// retryablePipelineError is true for store outages. An open circuit is
// left alone so it can cool down.
func retryablePipelineError(err error) bool {
	return storage.IsUnavailable(err) && !errors.Is(err, circuitbreaker.ErrCircuitOpen)
}

func (c *Coordinator) pipeline(ctx context.Context, ownerID, fileName string, kind extract.Kind, text string, partial *string) (*Result, error) {
	res := &Result{Kind: kind, Stage: StageReceived}

	res.Stage = StageSupersede
	if *partial != "" {
		if err := c.deleteDocument(ctx, *partial); err != nil {
			return res, stageErr(StageSupersede, err)
		}
		*partial = ""
	}
	existing, err := c.store.FindDocumentsByOwnerAndName(ctx, ownerID, fileName)
	if err != nil {
		return res, stageErr(StageSupersede, err)
	}
	for _, old := range existing {
		if err := c.deleteDocument(ctx, old.ID); err != nil {
			return res, stageErr(StageSupersede, err)
		}
		res.Superseded = append(res.Superseded, old.ID)
		metrics.DocumentsSuperseded.Inc()
		c.logger.Info("Superseded previous upload",
			zap.String("document_id", old.ID),
			zap.String("file_name", fileName),
		)
	}

	res.Stage = StageCreateDocument
	doc := &models.Document{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		FileName:  fileName,
		Content:   text,
		CreatedAt: c.now(),
	}
	if err := c.store.SaveDocument(ctx, doc); err != nil {
		return res, stageErr(StageCreateDocument, err)
	}
	res.Document = doc
	res.Preview = preview(text, c.cfg.PreviewChars)

	res.Stage = StageCreateChunks
	pieces := c.split(kind, text)
	embedded, err := c.persistChunks(ctx, doc, kind, pieces)
	if err != nil {
		if cleanupErr := c.removePartial(ctx, doc.ID); cleanupErr != nil {
			*partial = doc.ID
			c.logger.Error("Failed to remove partially ingested document",
				zap.String("document_id", doc.ID),
				zap.Error(cleanupErr),
			)
		} else {
			res.Document = nil
		}
		return res, err
	}

	res.Chunks = len(pieces)
	res.Embedded = embedded
	res.Stage = StageSaved
	return res, nil
}

func (c *Coordinator) split(kind extract.Kind, text string) []chunking.Chunk {
	switch kind {
	case extract.KindSpreadsheet:
		return c.chunker.Structural(text, chunking.WorksheetDelimiter)
	case extract.KindPresentation:
		return c.chunker.Structural(text, chunking.SlideDelimiter)
	default:
		return c.chunker.Windowed(text)
	}
}

func (c *Coordinator) batching(kind extract.Kind) (int, time.Duration) {
	switch kind {
	case extract.KindSpreadsheet:
		return c.cfg.StructuralBatchSize, c.cfg.SpreadsheetBatchDelay
	case extract.KindPresentation:
		return c.cfg.StructuralBatchSize, c.cfg.PresentationBatchDelay
	default:
		return c.cfg.WindowBatchSize, c.cfg.PDFBatchDelay
	}
}

// persistChunks saves chunks batch by batch, embeds each saved batch and
// saves it again with the vectors that came back. Batches are paced so the
// embedding API sees at most one batch per delay.
func (c *Coordinator) persistChunks(ctx context.Context, doc *models.Document, kind extract.Kind, pieces []chunking.Chunk) (int, error) {
	batchSize, delay := c.batching(kind)

	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	records := make([]models.DocumentChunk, len(pieces))
	for i, p := range pieces {
		records[i] = models.DocumentChunk{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			OwnerID:     doc.OwnerID,
			FileName:    doc.FileName,
			Content:     p.Content,
			ChunkNumber: p.Number,
			StartIndex:  p.Start,
			EndIndex:    p.End,
			CreatedAt:   c.now(),
		}
	}

	embedded := 0
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if err := limiter.Wait(ctx); err != nil {
			return embedded, stageErr(StageCreateChunks, err)
		}
		if err := c.store.SaveChunks(ctx, batch); err != nil {
			return embedded, stageErr(StageCreateChunks, err)
		}

		n := c.embedBatch(ctx, batch)
		if n == 0 {
			metrics.ChunksCreated.WithLabelValues("false").Add(float64(len(batch)))
			continue
		}
		if err := c.store.SaveChunks(ctx, batch); err != nil {
			// The chunks are already stored without vectors and stay
			// keyword-searchable.
			c.logger.Warn("Failed to store chunk embeddings",
				zap.String("document_id", doc.ID),
				zap.Int("batch_start", start),
				zap.Error(stageErr(StageEmbedChunks, err)),
			)
			metrics.ChunksCreated.WithLabelValues("false").Add(float64(len(batch)))
			continue
		}
		embedded += n
		metrics.ChunksCreated.WithLabelValues("true").Add(float64(n))
		metrics.ChunksCreated.WithLabelValues("false").Add(float64(len(batch) - n))
	}

	c.logger.Debug("Chunks stored",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(records)),
		zap.Int("embedded", embedded),
	)
	return embedded, nil
}

func (c *Coordinator) embedBatch(ctx context.Context, batch []models.DocumentChunk) int {
	if c.embedder == nil {
		return 0
	}

	var embedded atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.EmbedConcurrency)

	for i := range batch {
		g.Go(func() error {
			if v := c.embedder.Embed(ctx, batch[i].Content); len(v) > 0 {
				batch[i].Embedding = v
				embedded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(embedded.Load())
}

// removePartial deletes a document whose chunks could not all be stored,
// waiting for the store circuit to close again between attempts.
func (c *Coordinator) removePartial(ctx context.Context, documentID string) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts:  c.cfg.CleanupAttempts,
		InitialDelay: c.cfg.CleanupRetryDelay,
		MaxDelay:     c.cfg.CleanupRetryDelay,
		Retryable: func(err error) bool {
			return storage.IsUnavailable(err) || errors.Is(err, circuitbreaker.ErrCircuitOpen)
		},
		Logger: c.logger,
	}, func() error {
		return c.deleteDocument(ctx, documentID)
	})
}

// deleteDocument removes the chunks before the document itself.
func (c *Coordinator) deleteDocument(ctx context.Context, documentID string) error {
	if err := c.store.DeleteChunksByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	if err := c.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

func (c *Coordinator) Delete(ctx context.Context, ownerID, documentID string) error {
	if _, err := c.ownedDocument(ctx, ownerID, documentID); err != nil {
		return err
	}
	if err := c.deleteDocument(ctx, documentID); err != nil {
		return err
	}

	c.logger.Info("Document deleted", zap.String("document_id", documentID), zap.String("owner_id", ownerID))
	return nil
}

func (c *Coordinator) ListDocuments(ctx context.Context, ownerID string) ([]models.Document, error) {
	docs, err := c.store.FindDocumentsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

func (c *Coordinator) Chunks(ctx context.Context, ownerID, documentID string) ([]models.DocumentChunk, error) {
	if _, err := c.ownedDocument(ctx, ownerID, documentID); err != nil {
		return nil, err
	}
	chunks, err := c.store.FindChunksByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	return chunks, nil
}

func (c *Coordinator) ownedDocument(ctx context.Context, ownerID, documentID string) (*models.Document, error) {
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %s: %w", documentID, storage.ErrNotFound)
	}
	return doc, nil
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
