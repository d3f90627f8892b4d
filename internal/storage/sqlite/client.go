package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/storage"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

var _ storage.Store = (*Client)(nil)

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if dbPath != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode = WAL")
		if err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		_, err = db.Exec("PRAGMA busy_timeout = 5000")
		if err != nil {
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", classify(err))
	}
	return nil
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_owner_name ON documents(owner_id, file_name);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content TEXT NOT NULL,
		chunk_number INTEGER NOT NULL,
		start_index INTEGER NOT NULL,
		end_index INTEGER NOT NULL,
		embedding_json TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_owner ON document_chunks(owner_id);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		retrieval_mode TEXT,
		context_chars INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_owner ON query_history(owner_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

func (c *Client) SaveDocument(ctx context.Context, doc *models.Document) error {
	query := `INSERT INTO documents (id, owner_id, file_name, content, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		doc.ID,
		doc.OwnerID,
		doc.FileName,
		doc.Content,
		doc.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", classify(err))
	}

	logger.Debug("Document inserted", zap.String("document_id", doc.ID), zap.String("file_name", doc.FileName))
	return nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT id, owner_id, file_name, content, created_at FROM documents WHERE id = ?`

	doc, err := scanDocument(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", classify(err))
	}
	return doc, nil
}

func (c *Client) FindDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error) {
	query := `
		SELECT id, owner_id, file_name, content, created_at
		FROM documents
		WHERE owner_id = ?
		ORDER BY created_at DESC
	`
	return c.queryDocuments(ctx, query, ownerID)
}

func (c *Client) FindDocumentsByOwnerAndName(ctx context.Context, ownerID, fileName string) ([]models.Document, error) {
	query := `
		SELECT id, owner_id, file_name, content, created_at
		FROM documents
		WHERE owner_id = ? AND file_name = ?
		ORDER BY created_at
	`
	return c.queryDocuments(ctx, query, ownerID, fileName)
}

func (c *Client) queryDocuments(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", classify(err))
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", classify(err))
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", classify(err))
	}
	return docs, nil
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", classify(err))
	}

	logger.Debug("Document deleted", zap.String("document_id", id))
	return nil
}

func (c *Client) SaveChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, document_id, owner_id, file_name, content, chunk_number,
			start_index, end_index, embedding_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			embedding_json = excluded.embedding_json
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", classify(err))
	}
	defer stmt.Close()

	for i := range chunks {
		chunk := &chunks[i]
		embedding, err := encodeEmbedding(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding for chunk %s: %w", chunk.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			chunk.ID,
			chunk.DocumentID,
			chunk.OwnerID,
			chunk.FileName,
			chunk.Content,
			chunk.ChunkNumber,
			chunk.StartIndex,
			chunk.EndIndex,
			embedding,
			chunk.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", classify(err))
	}
	return nil
}

// FindChunksByOwner returns chunks grouped by document in upload order and
// ordered by chunk number within each document.
func (c *Client) FindChunksByOwner(ctx context.Context, ownerID string) ([]models.DocumentChunk, error) {
	query := `
		SELECT c.id, c.document_id, c.owner_id, c.file_name, c.content, c.chunk_number,
			c.start_index, c.end_index, c.embedding_json, c.created_at
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.owner_id = ?
		ORDER BY d.created_at, d.rowid, c.chunk_number
	`
	return c.queryChunks(ctx, query, ownerID)
}

func (c *Client) FindChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	query := `
		SELECT id, document_id, owner_id, file_name, content, chunk_number,
			start_index, end_index, embedding_json, created_at
		FROM document_chunks
		WHERE document_id = ?
		ORDER BY chunk_number
	`
	return c.queryChunks(ctx, query, documentID)
}

func (c *Client) queryChunks(ctx context.Context, query string, args ...any) ([]models.DocumentChunk, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", classify(err))
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		var embedding sql.NullString
		var createdAt int64

		err := rows.Scan(
			&ch.ID,
			&ch.DocumentID,
			&ch.OwnerID,
			&ch.FileName,
			&ch.Content,
			&ch.ChunkNumber,
			&ch.StartIndex,
			&ch.EndIndex,
			&embedding,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", classify(err))
		}

		ch.Embedding = decodeEmbedding(ch.ID, embedding)
		ch.CreatedAt = time.Unix(0, createdAt)
		chunks = append(chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", classify(err))
	}
	return chunks, nil
}

func (c *Client) CountChunksByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = ?`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", classify(err))
	}
	return count, nil
}

func (c *Client) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", classify(err))
	}
	return nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, owner_id, question, answer, retrieval_mode, context_chars,
			latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		record.OwnerID,
		record.Question,
		record.Answer,
		record.RetrievalMode,
		record.ContextChars,
		record.LatencyMS,
		record.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", classify(err))
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("owner_id", record.OwnerID),
		zap.String("retrieval_mode", record.RetrievalMode),
	)
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, ownerID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, owner_id, question, answer, retrieval_mode, context_chars, latency_ms, created_at
		FROM query_history
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", classify(err))
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var answer, mode sql.NullString
		var contextChars, latency sql.NullInt64
		var createdAt int64

		err := rows.Scan(&r.ID, &r.OwnerID, &r.Question, &answer, &mode, &contextChars, &latency, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", classify(err))
		}

		r.Answer = answer.String
		r.RetrievalMode = mode.String
		r.ContextChars = int(contextChars.Int64)
		r.LatencyMS = int(latency.Int64)
		r.CreatedAt = time.Unix(0, createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query history: %w", classify(err))
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var createdAt int64

	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.FileName, &doc.Content, &createdAt); err != nil {
		return nil, err
	}
	doc.CreatedAt = time.Unix(0, createdAt)
	return &doc, nil
}

func encodeEmbedding(v []float32) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeEmbedding treats an unreadable stored vector as absent so the chunk
// stays keyword-searchable.
func decodeEmbedding(chunkID string, s sql.NullString) []float32 {
	if !s.Valid || s.String == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		logger.Warn("Discarding unreadable chunk embedding", zap.String("chunk_id", chunkID), zap.Error(err))
		return nil
	}
	return v
}

// classify tags connection-level failures with storage.ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen, sqlite3.ErrProtocol:
			return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	if err.Error() == "sql: database is closed" {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return err
}
