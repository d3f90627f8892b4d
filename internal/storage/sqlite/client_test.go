package sqlite

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/storage"
	"github.com/docqa/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func saveDoc(t *testing.T, c *Client, id, owner, name string, at time.Time) *models.Document {
	t.Helper()
	doc := &models.Document{ID: id, OwnerID: owner, FileName: name, Content: "content of " + id, CreatedAt: at}
	require.NoError(t, c.SaveDocument(context.Background(), doc))
	return doc
}

func chunk(docID, owner string, n int, embedding []float32) models.DocumentChunk {
	return models.DocumentChunk{
		ID:          fmt.Sprintf("%s-c%d", docID, n),
		DocumentID:  docID,
		OwnerID:     owner,
		FileName:    docID + ".pdf",
		Content:     fmt.Sprintf("chunk %d of %s", n, docID),
		ChunkNumber: n,
		StartIndex:  (n - 1) * 800,
		EndIndex:    (n-1)*800 + 1000,
		Embedding:   embedding,
		CreatedAt:   time.Now(),
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 123)

	saveDoc(t, c, "d1", "alice", "report.pdf", at)

	got, err := c.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, "report.pdf", got.FileName)
	assert.True(t, got.CreatedAt.Equal(at))

	_, err = c.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindDocumentsByOwnerAndName(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Now()

	saveDoc(t, c, "d1", "alice", "x.pdf", now)
	saveDoc(t, c, "d2", "alice", "y.pdf", now)
	saveDoc(t, c, "d3", "bob", "x.pdf", now)

	docs, err := c.FindDocumentsByOwnerAndName(ctx, "alice", "x.pdf")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)

	all, err := c.FindDocumentsByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := c.FindDocumentsByOwner(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChunksSaveUpsertAndOrder(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	saveDoc(t, c, "old", "alice", "a.pdf", base)
	saveDoc(t, c, "new", "alice", "b.pdf", base.Add(time.Minute))

	require.NoError(t, c.SaveChunks(ctx, []models.DocumentChunk{
		chunk("new", "alice", 2, nil),
		chunk("new", "alice", 1, nil),
	}))
	require.NoError(t, c.SaveChunks(ctx, []models.DocumentChunk{
		chunk("old", "alice", 1, []float32{0.5, -0.25}),
	}))

	embedded := chunk("new", "alice", 1, []float32{1, 2, 3})
	require.NoError(t, c.SaveChunks(ctx, []models.DocumentChunk{embedded}))

	chunks, err := c.FindChunksByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "old-c1", chunks[0].ID)
	assert.Equal(t, []float32{0.5, -0.25}, chunks[0].Embedding)
	assert.Equal(t, "new-c1", chunks[1].ID)
	assert.Equal(t, []float32{1, 2, 3}, chunks[1].Embedding)
	assert.Equal(t, "new-c2", chunks[2].ID)
	assert.Nil(t, chunks[2].Embedding)
	assert.False(t, chunks[2].HasEmbedding())

	count, err := c.CountChunksByDocument(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDeleteChunksThenDocument(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	saveDoc(t, c, "d1", "alice", "x.pdf", time.Now())
	require.NoError(t, c.SaveChunks(ctx, []models.DocumentChunk{chunk("d1", "alice", 1, nil)}))

	require.NoError(t, c.DeleteChunksByDocument(ctx, "d1"))
	require.NoError(t, c.DeleteDocument(ctx, "d1"))

	chunks, err := c.FindChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = c.GetDocument(ctx, "d1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUnreadableEmbeddingIsDropped(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	saveDoc(t, c, "d1", "alice", "x.pdf", time.Now())
	require.NoError(t, c.SaveChunks(ctx, []models.DocumentChunk{chunk("d1", "alice", 1, nil)}))
	_, err := c.db.Exec(`UPDATE document_chunks SET embedding_json = '[1,2,' WHERE id = 'd1-c1'`)
	require.NoError(t, err)

	chunks, err := c.FindChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].Embedding)
}

func TestQueryHistory(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.InsertQueryRecord(ctx, &models.QueryRecord{
			ID:            fmt.Sprintf("q%d", i),
			OwnerID:       "alice",
			Question:      fmt.Sprintf("question %d", i),
			Answer:        "answer",
			RetrievalMode: "keyword",
			LatencyMS:     10,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}

	records, err := c.GetQueryHistory(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "q2", records[0].ID)
	assert.Equal(t, "keyword", records[0].RetrievalMode)
	assert.Equal(t, "q1", records[1].ID)
}

func TestClassify(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	assert.ErrorIs(t, classify(busy), storage.ErrUnavailable)
	assert.ErrorIs(t, classify(fmt.Errorf("wrapped: %w", driver.ErrBadConn)), storage.ErrUnavailable)

	constraint := sqlite3.Error{Code: sqlite3.ErrConstraint}
	assert.False(t, errors.Is(classify(constraint), storage.ErrUnavailable))
	assert.Nil(t, classify(nil))
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	c, err := NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	require.NoError(t, c.Close())

	_, err = c.FindChunksByOwner(context.Background(), "alice")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}
