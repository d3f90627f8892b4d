package storage

import (
	"context"
	"errors"

	"github.com/docqa/backend/internal/storage/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks transient failures of the backing store. Only
	// these are retried and counted by the store circuit breaker.
	ErrUnavailable = errors.New("store temporarily unavailable")
)

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

type Store interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	FindDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error)
	FindDocumentsByOwnerAndName(ctx context.Context, ownerID, fileName string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	SaveChunks(ctx context.Context, chunks []models.DocumentChunk) error
	FindChunksByOwner(ctx context.Context, ownerID string) ([]models.DocumentChunk, error)
	FindChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	CountChunksByDocument(ctx context.Context, documentID string) (int, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
	GetQueryHistory(ctx context.Context, ownerID string, limit int) ([]models.QueryRecord, error)
}
