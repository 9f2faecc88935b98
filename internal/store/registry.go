package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

// registrySchemaVersion is the current registry schema version.
const registrySchemaVersion = 1

// SQLiteRegistry implements Registry on a single SQLite database.
type SQLiteRegistry struct {
	db   *sql.DB
	path string
}

var _ Registry = (*SQLiteRegistry)(nil)

// NewSQLiteRegistry opens or creates the registry database at path.
// An empty path creates an in-memory registry for testing.
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, qerrors.New(qerrors.ErrCodeRegistryFailed,
				fmt.Sprintf("create registry directory for %s", path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "open registry database", err)
	}

	// Single connection prevents SQLITE_BUSY between goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores DSN journal params; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "set registry pragma", err)
		}
	}

	r := &SQLiteRegistry{db: db, path: path}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "initialize registry schema", err)
	}

	return r, nil
}

func (r *SQLiteRegistry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id            TEXT PRIMARY KEY,
		path          TEXT NOT NULL UNIQUE,
		folder        TEXT NOT NULL,
		fingerprint   TEXT NOT NULL DEFAULT '',
		size          INTEGER NOT NULL DEFAULT 0,
		mod_time      INTEGER NOT NULL DEFAULT 0,
		status        TEXT NOT NULL,
		chunk_count   INTEGER NOT NULL DEFAULT 0,
		attempts      INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT NOT NULL DEFAULT '',
		indexed_at    INTEGER NOT NULL DEFAULT 0,
		updated_at    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder);

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		doc_id       TEXT NOT NULL,
		path         TEXT NOT NULL,
		content      TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset   INTEGER NOT NULL,
		heading      TEXT NOT NULL DEFAULT '',
		page         INTEGER NOT NULL DEFAULT 0,
		paragraph    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);

	CREATE TABLE IF NOT EXISTS folders (
		path     TEXT PRIMARY KEY,
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := r.db.Exec(schema)
	return err
}

// SaveDocument upserts a document record.
func (r *SQLiteRegistry) SaveDocument(ctx context.Context, doc *DocumentRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, path, folder, fingerprint, size, mod_time, status, chunk_count,
			 attempts, next_retry_at, last_error, indexed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			folder = excluded.folder,
			fingerprint = excluded.fingerprint,
			size = excluded.size,
			mod_time = excluded.mod_time,
			status = excluded.status,
			chunk_count = excluded.chunk_count,
			attempts = excluded.attempts,
			next_retry_at = excluded.next_retry_at,
			last_error = excluded.last_error,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Path, doc.Folder, doc.Fingerprint, doc.Size, toUnix(doc.ModTime),
		string(doc.Status), doc.ChunkCount, doc.Attempts, toUnix(doc.NextRetryAt),
		doc.LastError, toUnix(doc.IndexedAt), toUnix(doc.UpdatedAt))
	if err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed,
			fmt.Sprintf("save document %s", doc.Path), err)
	}
	return nil
}

const documentColumns = `id, path, folder, fingerprint, size, mod_time, status,
	chunk_count, attempts, next_retry_at, last_error, indexed_at, updated_at`

// GetDocumentByPath returns the document at path, or nil when untracked.
func (r *SQLiteRegistry) GetDocumentByPath(ctx context.Context, path string) (*DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeRegistryFailed,
			fmt.Sprintf("get document %s", path), err)
	}
	return doc, nil
}

// ListDocuments returns every tracked document.
func (r *SQLiteRegistry) ListDocuments(ctx context.Context) ([]*DocumentRecord, error) {
	return r.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY path`)
}

// ListDocumentsByStatus returns documents in the given lifecycle state.
func (r *SQLiteRegistry) ListDocumentsByStatus(ctx context.Context, status DocStatus) ([]*DocumentRecord, error) {
	return r.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE status = ? ORDER BY path`,
		string(status))
}

func (r *SQLiteRegistry) queryDocuments(ctx context.Context, query string, args ...any) ([]*DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "query documents", err)
	}
	defer rows.Close()

	var docs []*DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "scan document row", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "iterate documents", err)
	}
	return docs, nil
}

// DeleteDocument removes a document and its chunks.
func (r *SQLiteRegistry) DeleteDocument(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed, "begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, id); err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed, "delete document chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed, "delete document", err)
	}

	return tx.Commit()
}

// CountDocuments counts documents, optionally filtered by status.
// An empty status counts everything.
func (r *SQLiteRegistry) CountDocuments(ctx context.Context, status DocStatus) (int, error) {
	var count int
	var err error
	if status == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM documents WHERE status = ?`, string(status)).Scan(&count)
	}
	if err != nil {
		return 0, qerrors.New(qerrors.ErrCodeRegistryFailed, "count documents", err)
	}
	return count, nil
}

// SaveChunks inserts or replaces chunk records in one transaction.
func (r *SQLiteRegistry) SaveChunks(ctx context.Context, chunks []*ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed, "begin chunk transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, doc_id, path, content, start_offset, end_offset, heading, page, paragraph)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed, "prepare chunk insert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocID, c.Path, c.Content,
			c.StartOffset, c.EndOffset, c.Heading, c.Page, c.Paragraph); err != nil {
			return qerrors.New(qerrors.ErrCodeRegistryFailed,
				fmt.Sprintf("save chunk %s", c.ID), err)
		}
	}

	return tx.Commit()
}

// GetChunks fetches chunk records by ID, joined with the parent document's
// mtime for recency scoring. Missing IDs are silently skipped.
func (r *SQLiteRegistry) GetChunks(ctx context.Context, ids []string) ([]*ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.doc_id, c.path, c.content, c.start_offset, c.end_offset,
		       c.heading, c.page, c.paragraph, COALESCE(d.mod_time, 0)
		FROM chunks c
		LEFT JOIN documents d ON c.doc_id = d.id
		WHERE c.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "query chunks", err)
	}
	defer rows.Close()

	byID := make(map[string]*ChunkRecord, len(ids))
	for rows.Next() {
		var c ChunkRecord
		var modTime int64
		if err := rows.Scan(&c.ID, &c.DocID, &c.Path, &c.Content, &c.StartOffset,
			&c.EndOffset, &c.Heading, &c.Page, &c.Paragraph, &modTime); err != nil {
			return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "scan chunk row", err)
		}
		c.ModTime = fromUnix(modTime)
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "iterate chunks", err)
	}

	// Preserve the caller's ID order.
	result := make([]*ChunkRecord, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// GetChunkIDsByDoc returns the chunk IDs belonging to a document.
func (r *SQLiteRegistry) GetChunkIDsByDoc(ctx context.Context, docID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE doc_id = ? ORDER BY start_offset`, docID)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "query chunk ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChunksByDoc removes all chunk records for a document.
func (r *SQLiteRegistry) DeleteChunksByDoc(ctx context.Context, docID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed,
			fmt.Sprintf("delete chunks for document %s", docID), err)
	}
	return nil
}

// CountChunks returns the total number of chunk records.
func (r *SQLiteRegistry) CountChunks(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, qerrors.New(qerrors.ErrCodeRegistryFailed, "count chunks", err)
	}
	return count, nil
}

// AddFolder registers a folder root. Re-adding is a no-op.
func (r *SQLiteRegistry) AddFolder(ctx context.Context, path string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO folders (path, added_at) VALUES (?, ?)`,
		path, time.Now().Unix())
	if err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed,
			fmt.Sprintf("add folder %s", path), err)
	}
	return nil
}

// ListFolders returns registered folders, oldest first.
func (r *SQLiteRegistry) ListFolders(ctx context.Context) ([]*Folder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT path, added_at FROM folders ORDER BY added_at, path`)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "list folders", err)
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		var f Folder
		var addedAt int64
		if err := rows.Scan(&f.Path, &addedAt); err != nil {
			return nil, qerrors.New(qerrors.ErrCodeRegistryFailed, "scan folder row", err)
		}
		f.AddedAt = fromUnix(addedAt)
		folders = append(folders, &f)
	}
	return folders, rows.Err()
}

// RemoveFolder unregisters a folder root. Documents under it are handled
// by the coordinator's reconciliation.
func (r *SQLiteRegistry) RemoveFolder(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM folders WHERE path = ?`, path); err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed,
			fmt.Sprintf("remove folder %s", path), err)
	}
	return nil
}

// GetState returns the value for key, or "" when unset.
func (r *SQLiteRegistry) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", qerrors.New(qerrors.ErrCodeRegistryFailed,
			fmt.Sprintf("get state %s", key), err)
	}
	return value, nil
}

// SetState stores a key-value pair.
func (r *SQLiteRegistry) SetState(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeRegistryFailed,
			fmt.Sprintf("set state %s", key), err)
	}
	return nil
}

// Close closes the database.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanDocument.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*DocumentRecord, error) {
	var doc DocumentRecord
	var status string
	var modTime, nextRetryAt, indexedAt, updatedAt int64

	err := row.Scan(&doc.ID, &doc.Path, &doc.Folder, &doc.Fingerprint, &doc.Size,
		&modTime, &status, &doc.ChunkCount, &doc.Attempts, &nextRetryAt,
		&doc.LastError, &indexedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	doc.Status = DocStatus(status)
	doc.ModTime = fromUnix(modTime)
	doc.NextRetryAt = fromUnix(nextRetryAt)
	doc.IndexedAt = fromUnix(indexedAt)
	doc.UpdatedAt = fromUnix(updatedAt)
	return &doc, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
