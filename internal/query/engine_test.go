package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/retrieval"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/storage/sqlite"
)

type stubAnswerer struct {
	gotQuestion string
	gotContext  string
	err         error
}

func (s *stubAnswerer) Answer(_ context.Context, question, docContext string) (*llm.Answer, error) {
	s.gotQuestion = question
	s.gotContext = docContext
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Answer{
		Content: "answer to " + question,
		Model:   "gpt-3.5-turbo",
		Tokens:  42,
		General: retrieval.IsNoMaterial(docContext),
	}, nil
}

type staticChunks []models.DocumentChunk

func (s staticChunks) FindChunksByOwner(_ context.Context, ownerID string) ([]models.DocumentChunk, error) {
	var out []models.DocumentChunk
	for _, c := range s {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fixedEmbedder []float32

func (f fixedEmbedder) Embed(context.Context, string) []float32 { return f }

func newHistory(t *testing.T) *sqlite.Client {
	t.Helper()
	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAskAnswersFromRetrievedChunks(t *testing.T) {
	chunks := staticChunks{
		{ID: "c1", DocumentID: "d1", OwnerID: "alice", FileName: "a.pdf", ChunkNumber: 1, Content: "cats", Embedding: []float32{0, 1}},
		{ID: "c2", DocumentID: "d1", OwnerID: "alice", FileName: "a.pdf", ChunkNumber: 2, Content: "revenue", Embedding: []float32{1, 0}},
	}
	retriever := retrieval.NewEngine(chunks, fixedEmbedder{1, 0}, retrieval.Config{TopK: 1}, nil)
	answerer := &stubAnswerer{}
	history := newHistory(t)
	e := NewEngine(retriever, answerer, history, nil)

	resp, err := e.Ask(context.Background(), QueryRequest{Question: "what about revenue", OwnerID: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "answer to what about revenue", resp.Answer)
	assert.Equal(t, retrieval.ModeEmbedding, resp.Mode)
	assert.False(t, resp.General)
	assert.Equal(t, 42, resp.Tokens)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "d1", resp.Sources[0].DocumentID)
	assert.Equal(t, 2, resp.Sources[0].ChunkNumber)
	assert.InDelta(t, 1.0, resp.Sources[0].Score, 1e-9)
	assert.Contains(t, answerer.gotContext, "revenue")

	records, err := e.History(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, resp.ID, records[0].ID)
	assert.Equal(t, "embedding", records[0].RetrievalMode)
	assert.Equal(t, resp.Answer, records[0].Answer)
}

func TestAskWithoutDocumentsIsGeneral(t *testing.T) {
	retriever := retrieval.NewEngine(staticChunks{}, fixedEmbedder{1}, retrieval.DefaultConfig(), nil)
	answerer := &stubAnswerer{}
	e := NewEngine(retriever, answerer, nil, nil)

	resp, err := e.Ask(context.Background(), QueryRequest{Question: "hello there", OwnerID: "bob"})
	require.NoError(t, err)
	assert.True(t, resp.General)
	assert.Equal(t, retrieval.ModeEmpty, resp.Mode)
	assert.Equal(t, retrieval.NoDocumentsContext, answerer.gotContext)
	assert.Empty(t, resp.Sources)
}

func TestAskRejectsBlankQuestion(t *testing.T) {
	e := NewEngine(nil, &stubAnswerer{}, nil, nil)
	_, err := e.Ask(context.Background(), QueryRequest{Question: "  \n", OwnerID: "alice"})
	assert.ErrorIs(t, err, retrieval.ErrBlankQuestion)
}

func TestAskRequiresAnswerer(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil)
	_, err := e.Ask(context.Background(), QueryRequest{Question: "q", OwnerID: "alice"})
	assert.ErrorIs(t, err, ErrNoAnswerer)
}

func TestAskPropagatesAnswerFailure(t *testing.T) {
	boom := errors.New("llm down")
	retriever := retrieval.NewEngine(staticChunks{}, nil, retrieval.DefaultConfig(), nil)
	history := newHistory(t)
	e := NewEngine(retriever, &stubAnswerer{err: boom}, history, nil)

	_, err := e.Ask(context.Background(), QueryRequest{Question: "q", OwnerID: "alice"})
	assert.ErrorIs(t, err, boom)

	records, err := e.History(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHistoryNewestFirst(t *testing.T) {
	history := newHistory(t)
	base := time.Now()
	for i, q := range []string{"first", "second", "third"} {
		require.NoError(t, history.InsertQueryRecord(context.Background(), &models.QueryRecord{
			ID: q, OwnerID: "alice", Question: q, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	e := NewEngine(nil, nil, history, nil)
	records, err := e.History(context.Background(), "alice", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "third", records[0].Question)
	assert.Equal(t, "second", records[1].Question)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
