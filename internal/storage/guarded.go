package storage

import (
	"context"

	"github.com/docqa/backend/internal/resilience"
	"github.com/docqa/backend/internal/storage/models"
)

// Guarded routes every call of the wrapped Store through one shared guard,
// so a failing database trips a single process-wide breaker.
type Guarded struct {
	store Store
	guard *resilience.Guard
}

func NewGuarded(store Store, guard *resilience.Guard) *Guarded {
	return &Guarded{store: store, guard: guard}
}

func (g *Guarded) SaveDocument(ctx context.Context, doc *models.Document) error {
	return g.guard.Do(ctx, func(ctx context.Context) error {
		return g.store.SaveDocument(ctx, doc)
	})
}

func (g *Guarded) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) (*models.Document, error) {
		return g.store.GetDocument(ctx, id)
	})
}

func (g *Guarded) FindDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) ([]models.Document, error) {
		return g.store.FindDocumentsByOwner(ctx, ownerID)
	})
}

func (g *Guarded) FindDocumentsByOwnerAndName(ctx context.Context, ownerID, fileName string) ([]models.Document, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) ([]models.Document, error) {
		return g.store.FindDocumentsByOwnerAndName(ctx, ownerID, fileName)
	})
}

func (g *Guarded) DeleteDocument(ctx context.Context, id string) error {
	return g.guard.Do(ctx, func(ctx context.Context) error {
		return g.store.DeleteDocument(ctx, id)
	})
}

func (g *Guarded) SaveChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	return g.guard.Do(ctx, func(ctx context.Context) error {
		return g.store.SaveChunks(ctx, chunks)
	})
}

func (g *Guarded) FindChunksByOwner(ctx context.Context, ownerID string) ([]models.DocumentChunk, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) ([]models.DocumentChunk, error) {
		return g.store.FindChunksByOwner(ctx, ownerID)
	})
}

func (g *Guarded) FindChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) ([]models.DocumentChunk, error) {
		return g.store.FindChunksByDocument(ctx, documentID)
	})
}

func (g *Guarded) CountChunksByDocument(ctx context.Context, documentID string) (int, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) (int, error) {
		return g.store.CountChunksByDocument(ctx, documentID)
	})
}

func (g *Guarded) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	return g.guard.Do(ctx, func(ctx context.Context) error {
		return g.store.DeleteChunksByDocument(ctx, documentID)
	})
}

func (g *Guarded) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	return g.guard.Do(ctx, func(ctx context.Context) error {
		return g.store.InsertQueryRecord(ctx, record)
	})
}

func (g *Guarded) GetQueryHistory(ctx context.Context, ownerID string, limit int) ([]models.QueryRecord, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) ([]models.QueryRecord, error) {
		return g.store.GetQueryHistory(ctx, ownerID, limit)
	})
}
