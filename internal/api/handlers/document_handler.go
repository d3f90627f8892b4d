package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

type Ingester interface {
	Ingest(ctx context.Context, up ingestion.Upload) (*ingestion.Result, error)
	Delete(ctx context.Context, ownerID, documentID string) error
	ListDocuments(ctx context.Context, ownerID string) ([]models.Document, error)
	Chunks(ctx context.Context, ownerID, documentID string) ([]models.DocumentChunk, error)
}

type DocumentHandler struct {
	coordinator Ingester
}

func NewDocumentHandler(coordinator Ingester) *DocumentHandler {
	return &DocumentHandler{
		coordinator: coordinator,
	}
}

type documentView struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	Size      int       `json:"content_length"`
	CreatedAt time.Time `json:"created_at"`
}

func viewOf(doc models.Document) documentView {
	return documentView{
		ID:        doc.ID,
		FileName:  doc.FileName,
		Size:      len([]rune(doc.Content)),
		CreatedAt: doc.CreatedAt,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A file is required in the 'file' form field",
		})
	}

	f, err := fh.Open()
	if err != nil {
		logger.Error("Failed to open uploaded file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		logger.Error("Failed to read uploaded file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}

	res, err := h.coordinator.Ingest(c.UserContext(), ingestion.Upload{
		OwnerID:  ownerID(c),
		FileName: fh.Filename,
		Data:     data,
	})
	if err != nil {
		return respondError(c, err, "Failed to process document")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":         "Document processed successfully",
		"document":        viewOf(*res.Document),
		"kind":            res.Kind.String(),
		"chunks":          res.Chunks,
		"embedded_chunks": res.Embedded,
		"superseded":      res.Superseded,
		"preview":         res.Preview,
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.coordinator.ListDocuments(c.UserContext(), ownerID(c))
	if err != nil {
		return respondError(c, err, "Failed to list documents")
	}

	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, viewOf(d))
	}
	return c.JSON(fiber.Map{
		"documents": views,
		"count":     len(views),
	})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.coordinator.Delete(c.UserContext(), ownerID(c), id); err != nil {
		return respondError(c, err, "Failed to delete document")
	}
	return c.JSON(fiber.Map{
		"message": "Document deleted",
		"id":      id,
	})
}

func (h *DocumentHandler) GetChunks(c *fiber.Ctx) error {
	chunks, err := h.coordinator.Chunks(c.UserContext(), ownerID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to load chunks")
	}

	out := make([]fiber.Map, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, fiber.Map{
			"id":            ch.ID,
			"chunk_number":  ch.ChunkNumber,
			"start_index":   ch.StartIndex,
			"end_index":     ch.EndIndex,
			"content":       ch.Content,
			"has_embedding": ch.HasEmbedding(),
		})
	}
	return c.JSON(fiber.Map{
		"chunks": out,
		"count":  len(out),
	})
}
