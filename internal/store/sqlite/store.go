// Package sqlite implements the durable vector store on an embedded SQLite
// database. All records are mirrored in memory for brute-force similarity
// search; SQLite owns durability and batch atomicity.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/offprint-io/docqa/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	pages       INTEGER NOT NULL,
	ingested_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	document_id TEXT NOT NULL,
	filename    TEXT NOT NULL,
	page        INTEGER NOT NULL,
	chunk_index INTEGER NOT NULL,
	span_start  INTEGER NOT NULL,
	span_end    INTEGER NOT NULL,
	text        TEXT NOT NULL,
	dim         INTEGER NOT NULL,
	embedding   BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_document ON records(document_id);

CREATE TABLE IF NOT EXISTS embedding_cache (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// Store is the vector store: exclusive owner of all VectorRecords. Writes
// (replace, delete) are serialized against concurrent searches with a
// single-writer/multiple-reader lock, so a search never observes a
// half-written batch.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	records []domain.VectorRecord // mirror, ascending seq
	docs    map[string]domain.Document
}

// Open opens (or creates) the store file, applies the schema, and loads all
// persisted records into memory. A partially written or inconsistent state
// fails with domain.ErrStoreCorrupted rather than serving truncated results.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: logger,
		docs:   make(map[string]domain.Document),
	}

	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Vector store loaded",
		zap.String("path", path),
		zap.Int("documents", len(s.docs)),
		zap.Int("records", len(s.records)),
	)

	return s, nil
}

// Close closes the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks that the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// load reads all persisted state into the in-memory mirror, verifying
// integrity row by row. SQLite's journal already discards uncommitted
// batches; this check catches external corruption.
func (s *Store) load() error {
	rows, err := s.db.Query(
		`SELECT id, filename, pages, ingested_at FROM documents`)
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc domain.Document
		var ingestedAt int64
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Pages, &ingestedAt); err != nil {
			return fmt.Errorf("scan document: %v: %w", err, domain.ErrStoreCorrupted)
		}
		doc.IngestedAt = time.UnixMilli(ingestedAt).UTC()
		s.docs[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load documents: %w", err)
	}

	recRows, err := s.db.Query(
		`SELECT seq, id, document_id, filename, page, chunk_index,
		        span_start, span_end, text, dim, embedding
		 FROM records ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	defer recRows.Close()

	dim := 0
	for recRows.Next() {
		var rec domain.VectorRecord
		var rowDim int
		var blob []byte
		if err := recRows.Scan(
			&rec.Seq, &rec.ID, &rec.Chunk.DocumentID, &rec.Filename,
			&rec.Chunk.Page, &rec.Chunk.Index,
			&rec.Chunk.Span.Start, &rec.Chunk.Span.End,
			&rec.Chunk.Text, &rowDim, &blob,
		); err != nil {
			return fmt.Errorf("scan record: %v: %w", err, domain.ErrStoreCorrupted)
		}

		if err := s.verify(rec, rowDim, blob, &dim); err != nil {
			return err
		}

		vec, err := bytesToVector(blob)
		if err != nil {
			return fmt.Errorf("record %s: %v: %w", rec.ID, err, domain.ErrStoreCorrupted)
		}
		rec.Embedding = vec
		s.records = append(s.records, rec)
	}
	if err := recRows.Err(); err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	return nil
}

// verify rejects any persisted row that violates the data model invariants.
func (s *Store) verify(rec domain.VectorRecord, rowDim int, blob []byte, dim *int) error {
	if _, ok := s.docs[rec.Chunk.DocumentID]; !ok {
		return fmt.Errorf("record %s: orphaned document id %s: %w",
			rec.ID, rec.Chunk.DocumentID, domain.ErrStoreCorrupted)
	}
	if rowDim <= 0 || len(blob) != rowDim*4 {
		return fmt.Errorf("record %s: embedding blob %d bytes for dim %d: %w",
			rec.ID, len(blob), rowDim, domain.ErrStoreCorrupted)
	}
	if *dim == 0 {
		*dim = rowDim
	} else if rowDim != *dim {
		return fmt.Errorf("record %s: dim %d differs from store dim %d: %w",
			rec.ID, rowDim, *dim, domain.ErrStoreCorrupted)
	}
	if rec.Chunk.Span.Start < 0 || rec.Chunk.Span.End <= rec.Chunk.Span.Start {
		return fmt.Errorf("record %s: invalid span [%d, %d): %w",
			rec.ID, rec.Chunk.Span.Start, rec.Chunk.Span.End, domain.ErrStoreCorrupted)
	}
	return nil
}

// ReplaceDocument atomically replaces any prior document with the same
// filename and inserts the batch: either every record of the document is
// durably saved or none are. The in-memory mirror is updated only after
// commit. Record Seq values are assigned here.
//
// Every record in the store carries the same embedding dimension; load()
// refuses a file that violates it. A batch whose dimension differs from the
// records surviving the replace fails with domain.ErrDimensionMismatch, so
// the check runs after the same-filename delete: replacing the store's only
// document may legally change the dimension.
func (s *Store) ReplaceDocument(
	ctx context.Context, doc domain.Document, records []domain.VectorRecord,
) error {
	batchDim := 0
	for i, rec := range records {
		switch {
		case len(rec.Embedding) == 0:
			return fmt.Errorf("record %d: empty embedding: %w", i, domain.ErrDimensionMismatch)
		case batchDim == 0:
			batchDim = len(rec.Embedding)
		case len(rec.Embedding) != batchDim:
			return fmt.Errorf("record %d: dim %d differs from batch dim %d: %w",
				i, len(rec.Embedding), batchDim, domain.ErrDimensionMismatch)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	replaced, err := s.deleteByFilenameTx(ctx, tx, doc.Filename)
	if err != nil {
		return err
	}

	if batchDim != 0 {
		var storeDim int
		switch err := tx.QueryRowContext(ctx, `SELECT dim FROM records LIMIT 1`).Scan(&storeDim); {
		case err == sql.ErrNoRows:
			// No surviving records; the batch sets the dimension.
		case err != nil:
			return fmt.Errorf("read store dim: %w", err)
		case storeDim != batchDim:
			return fmt.Errorf("batch dim %d vs store dim %d: %w",
				batchDim, storeDim, domain.ErrDimensionMismatch)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, filename, pages, ingested_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.Pages, doc.IngestedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	inserted := make([]domain.VectorRecord, len(records))
	for i, rec := range records {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO records
			 (id, document_id, filename, page, chunk_index,
			  span_start, span_end, text, dim, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Chunk.DocumentID, rec.Filename,
			rec.Chunk.Page, rec.Chunk.Index,
			rec.Chunk.Span.Start, rec.Chunk.Span.End,
			rec.Chunk.Text, len(rec.Embedding), vectorToBytes(rec.Embedding),
		)
		if err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("record %d seq: %w", i, err)
		}
		rec.Seq = seq
		inserted[i] = rec
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}

	s.mu.Lock()
	for _, id := range replaced {
		s.dropDocumentLocked(id)
	}
	s.docs[doc.ID] = doc
	s.records = append(s.records, inserted...)
	s.mu.Unlock()

	s.logger.Info("Document stored",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.Int("records", len(inserted)),
		zap.Int("replaced_documents", len(replaced)),
	)

	return nil
}

// deleteByFilenameTx removes all documents (and their records) with the given
// filename inside tx, returning the removed document ids.
func (s *Store) deleteByFilenameTx(ctx context.Context, tx *sql.Tx, filename string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM documents WHERE filename = ?`, filename)
	if err != nil {
		return nil, fmt.Errorf("find prior documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan prior document: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find prior documents: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE document_id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete prior records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete prior document: %w", err)
		}
	}
	return ids, nil
}

// DeleteDocument removes a document and all its records. Subsequent searches
// never reference it.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.RLock()
	_, ok := s.docs[documentID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	s.mu.Lock()
	s.dropDocumentLocked(documentID)
	s.mu.Unlock()

	s.logger.Info("Document deleted", zap.String("document_id", documentID))
	return nil
}

func (s *Store) dropDocumentLocked(documentID string) {
	delete(s.docs, documentID)
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.Chunk.DocumentID != documentID {
			kept = append(kept, rec)
		}
	}
	s.records = kept
}

// Search returns the topK records most similar to the query vector by cosine
// similarity, descending; ties break by ascending insertion seq so results
// are deterministic. documentID (if non-empty) restricts the scan to one
// document. The scan is exhaustive, which is fine at single-document scale;
// the contract (vector in, ranked records out) leaves room for an index later.
func (s *Store) Search(
	ctx context.Context, vector []float32, topK int, documentID string,
) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if documentID != "" {
		if _, ok := s.docs[documentID]; !ok {
			return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentNotFound)
		}
	}

	hits := make([]domain.ScoredChunk, 0, len(s.records))
	for _, rec := range s.records {
		if documentID != "" && rec.Chunk.DocumentID != documentID {
			continue
		}
		if len(rec.Embedding) != len(vector) {
			return nil, fmt.Errorf("query dim %d vs stored dim %d: %w",
				len(vector), len(rec.Embedding), domain.ErrDimensionMismatch)
		}
		hits = append(hits, domain.ScoredChunk{Record: rec, Score: cosine(vector, rec.Embedding)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.Seq < hits[j].Record.Seq
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// ListDocuments returns all stored documents ordered by ingestion time.
func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].IngestedAt.Equal(docs[j].IngestedAt) {
			return docs[i].IngestedAt.Before(docs[j].IngestedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

// GetDocument returns one stored document by id.
func (s *Store) GetDocument(ctx context.Context, documentID string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentNotFound)
	}
	return doc, nil
}

// CacheGet reads a value from the embedding cache table.
func (s *Store) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM embedding_cache WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return value, true, nil
}

// CacheSet writes a value into the embedding cache table.
func (s *Store) CacheSet(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_cache (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
