// Package index coordinates the indexing pipeline: scanning folders,
// diffing against the registry, and moving each document through its
// lifecycle (pending, indexing, indexed, failed, deleted).
package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/embed"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/extract"
	"github.com/quarrysearch/quarry/internal/scanner"
	"github.com/quarrysearch/quarry/internal/store"
)

// DefaultMaxAttempts is how many consecutive failures a document gets
// before it is parked until its content changes.
const DefaultMaxAttempts = 5

// Config wires the coordinator's collaborators.
type Config struct {
	Registry store.Registry
	Vectors  store.VectorIndex
	Lexical  store.LexicalIndex
	Embedder embed.Embedder
	Chunker  *chunk.TextChunker
	Scanner  *scanner.Scanner
	Logger   *slog.Logger

	// Workers bounds parallel document indexing (0 = NumCPU, capped at 4).
	Workers int

	// MaxAttempts caps consecutive failures per document.
	MaxAttempts int

	// MaxFileSize caps extracted file size in bytes.
	MaxFileSize int64

	// VectorPath is where the vector index is persisted after a sync.
	VectorPath string

	// Retry controls the failure backoff schedule.
	Retry qerrors.RetryConfig
}

// Coordinator owns all index mutations. Searches go straight to the
// stores; writes go through here.
type Coordinator struct {
	cfg Config

	syncMu   sync.Mutex // one sync runs at a time
	docLocks *keyedMutex
	progress *Progress
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers > 4 {
			cfg.Workers = 4
		}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry = qerrors.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		docLocks: newKeyedMutex(),
		progress: &Progress{},
	}
}

// Progress returns the live progress tracker for the current/last sync.
func (c *Coordinator) Progress() *Progress {
	return c.progress
}

// VerifyEmbedder checks the registry's recorded embedding dimension and
// model against the configured embedder. A changed embedder over a
// non-empty index would make old and new vectors incomparable, so that
// is an error; a fresh index just records the pairing.
func (c *Coordinator) VerifyEmbedder(ctx context.Context) error {
	recordedDim, err := c.cfg.Registry.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil {
		return err
	}
	recordedModel, err := c.cfg.Registry.GetState(ctx, store.StateKeyIndexModel)
	if err != nil {
		return err
	}

	dims := c.cfg.Embedder.Dimensions()
	model := c.cfg.Embedder.ModelName()

	if recordedDim == "" {
		if err := c.cfg.Registry.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(dims)); err != nil {
			return err
		}
		return c.cfg.Registry.SetState(ctx, store.StateKeyIndexModel, model)
	}

	if recordedDim != strconv.Itoa(dims) || recordedModel != model {
		return qerrors.New(qerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index was built with model %s (%s dims) but embedder is %s (%d dims); reindex from scratch",
				recordedModel, recordedDim, model, dims), nil)
	}
	return nil
}

// SyncAll syncs every registered folder and purges documents whose
// folder registration was removed.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	folders, err := c.cfg.Registry.ListFolders(ctx)
	if err != nil {
		return err
	}

	c.progress.reset(0)

	folderSet := make(map[string]bool, len(folders))
	for _, folder := range folders {
		folderSet[folder.Path] = true
		if err := c.syncFolderLocked(ctx, folder.Path); err != nil {
			return err
		}
	}

	// Purge documents under unregistered folders.
	docs, err := c.cfg.Registry.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !folderSet[doc.Folder] {
			c.removeDocument(ctx, doc)
		}
	}

	return c.save()
}

// SyncFolder syncs a single folder: new and changed documents are
// (re)indexed, vanished ones are purged.
func (c *Coordinator) SyncFolder(ctx context.Context, folder string) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.progress.reset(0)
	if err := c.syncFolderLocked(ctx, folder); err != nil {
		return err
	}
	return c.save()
}

func (c *Coordinator) syncFolderLocked(ctx context.Context, folder string) error {
	files, err := c.cfg.Scanner.Scan(ctx, folder)
	if err != nil {
		return err
	}
	c.progress.addScanned(len(files))

	c.cfg.Logger.Info("folder scan complete",
		"folder", folder, "documents", len(files))

	// Bounded parallel indexing. Document failures are isolated: they
	// mark the document failed and the sync continues.
	sem := semaphore.NewWeighted(int64(c.cfg.Workers))
	g, gctx := errgroup.WithContext(ctx)

	for _, fi := range files {
		if err := sem.Acquire(gctx, 1); err != nil {
			break // context cancelled between documents
		}
		g.Go(func() error {
			defer sem.Release(1)
			c.syncFile(gctx, fi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.reconcileFolder(ctx, folder, files)
}

// reconcileFolder purges registry documents under folder whose source
// file no longer exists on disk.
func (c *Coordinator) reconcileFolder(ctx context.Context, folder string, files []*scanner.FileInfo) error {
	present := make(map[string]bool, len(files))
	for _, fi := range files {
		present[fi.Path] = true
	}

	docs, err := c.cfg.Registry.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if doc.Folder == folder && !present[doc.Path] {
			c.removeDocument(ctx, doc)
		}
	}
	return nil
}

// syncFile decides whether a document needs (re)indexing and runs the
// pipeline if so. Cheap to call: unchanged documents short-circuit on
// size and mtime before any content is read.
func (c *Coordinator) syncFile(ctx context.Context, fi *scanner.FileInfo) {
	unlock := c.docLocks.lock(fi.Path)
	defer unlock()

	rec, err := c.cfg.Registry.GetDocumentByPath(ctx, fi.Path)
	if err != nil {
		c.cfg.Logger.Warn("registry lookup failed", "path", fi.Path, "error", err)
		c.progress.markFailed()
		return
	}

	modTime := fi.ModTime.Truncate(time.Second)

	// Fast path: indexed and stat-identical means untouched.
	if rec != nil && rec.Status == store.StatusIndexed &&
		rec.Size == fi.Size && rec.ModTime.Equal(modTime) {
		c.progress.markSkipped()
		return
	}

	fingerprint, err := scanner.Fingerprint(fi.Path)
	if err != nil {
		c.fail(ctx, rec, fi, "", qerrors.ExtractionError(
			fmt.Sprintf("fingerprint %s", fi.Path), err))
		return
	}

	if rec != nil && rec.Fingerprint == fingerprint {
		switch rec.Status {
		case store.StatusIndexed:
			// Touched but unchanged (e.g. mtime bump). Refresh stat info only.
			rec.Size = fi.Size
			rec.ModTime = modTime
			rec.UpdatedAt = time.Now()
			if err := c.cfg.Registry.SaveDocument(ctx, rec); err != nil {
				c.cfg.Logger.Warn("refresh stat info failed", "path", fi.Path, "error", err)
			}
			c.progress.markSkipped()
			return
		case store.StatusFailed:
			if rec.Attempts >= c.cfg.MaxAttempts {
				// Parked until the content changes.
				c.progress.markSkipped()
				return
			}
			if time.Now().Before(rec.NextRetryAt) {
				c.progress.markSkipped()
				return
			}
		}
	}

	c.indexDocument(ctx, rec, fi, fingerprint, modTime)
}

// indexDocument runs the full pipeline for one document: extract, chunk,
// embed, then replace the old chunk set with the new one. Old entries are
// fully deleted before any new entry is inserted, so a query never sees a
// mix of stale and fresh chunks.
func (c *Coordinator) indexDocument(ctx context.Context, rec *store.DocumentRecord, fi *scanner.FileInfo, fingerprint string, modTime time.Time) {
	docID := scanner.DocID(fi.Path)
	now := time.Now()

	if rec == nil {
		rec = &store.DocumentRecord{
			ID:     docID,
			Path:   fi.Path,
			Folder: fi.Folder,
		}
	}
	contentChanged := rec.Fingerprint != fingerprint
	rec.Size = fi.Size
	rec.ModTime = modTime
	rec.Fingerprint = fingerprint
	rec.Status = store.StatusPending
	rec.UpdatedAt = now
	if contentChanged {
		rec.Attempts = 0
		rec.NextRetryAt = time.Time{}
	}
	if err := c.cfg.Registry.SaveDocument(ctx, rec); err != nil {
		c.cfg.Logger.Warn("mark pending failed", "path", fi.Path, "error", err)
		c.progress.markFailed()
		return
	}

	result, err := extract.Extract(fi.Path, c.cfg.MaxFileSize)
	if err != nil {
		c.fail(ctx, rec, fi, fingerprint, err)
		return
	}

	pages := make([]chunk.PageMark, len(result.Pages))
	for i, p := range result.Pages {
		pages[i] = chunk.PageMark{Page: p.Page, Offset: p.Offset}
	}

	chunks := c.cfg.Chunker.Split(&chunk.Input{
		DocID: docID,
		Path:  fi.RelPath,
		Text:  result.Text,
		Pages: pages,
	})

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	var embeddings [][]float32
	if len(texts) > 0 {
		embeddings, err = c.cfg.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			c.fail(ctx, rec, fi, fingerprint, err)
			return
		}
	}

	// Extraction and embedding are done; from here the indexes get
	// mutated. A crash leaves "indexing", reindexed on the next sync.
	rec.Status = store.StatusIndexing
	rec.UpdatedAt = time.Now()
	if err := c.cfg.Registry.SaveDocument(ctx, rec); err != nil {
		c.cfg.Logger.Warn("mark indexing failed", "path", fi.Path, "error", err)
		c.progress.markFailed()
		return
	}

	if err := c.replaceChunks(ctx, docID, chunks, embeddings); err != nil {
		c.fail(ctx, rec, fi, fingerprint, err)
		return
	}

	rec.Status = store.StatusIndexed
	rec.ChunkCount = len(chunks)
	rec.Attempts = 0
	rec.NextRetryAt = time.Time{}
	rec.LastError = ""
	rec.IndexedAt = time.Now()
	rec.UpdatedAt = rec.IndexedAt
	if err := c.cfg.Registry.SaveDocument(ctx, rec); err != nil {
		c.cfg.Logger.Warn("mark indexed failed", "path", fi.Path, "error", err)
		c.progress.markFailed()
		return
	}

	c.cfg.Logger.Debug("document indexed",
		"path", fi.RelPath, "chunks", len(chunks))
	c.progress.markIndexed()
}

// replaceChunks swaps a document's chunk set atomically with respect to
// the lifecycle: delete everything old, then insert everything new.
func (c *Coordinator) replaceChunks(ctx context.Context, docID string, chunks []chunk.Chunk, embeddings [][]float32) error {
	oldIDs, err := c.cfg.Registry.GetChunkIDsByDoc(ctx, docID)
	if err != nil {
		return err
	}
	if len(oldIDs) > 0 {
		if err := c.cfg.Vectors.Delete(ctx, oldIDs); err != nil {
			return qerrors.IndexWriteError("delete stale vectors", err)
		}
		if err := c.cfg.Lexical.Delete(ctx, oldIDs); err != nil {
			return qerrors.IndexWriteError("delete stale lexical entries", err)
		}
		if err := c.cfg.Registry.DeleteChunksByDoc(ctx, docID); err != nil {
			return err
		}
	}

	if len(chunks) == 0 {
		return nil
	}

	records := make([]*store.ChunkRecord, len(chunks))
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
		records[i] = &store.ChunkRecord{
			ID:          ch.ID,
			DocID:       ch.DocID,
			Path:        ch.Path,
			Content:     ch.Content,
			StartOffset: ch.StartOffset,
			EndOffset:   ch.EndOffset,
			Heading:     ch.Heading,
			Page:        ch.Page,
			Paragraph:   ch.Paragraph,
		}
	}

	if err := c.cfg.Registry.SaveChunks(ctx, records); err != nil {
		return err
	}
	if err := c.cfg.Lexical.Index(ctx, records); err != nil {
		return qerrors.IndexWriteError("index lexical entries", err)
	}
	if err := c.cfg.Vectors.Add(ctx, ids, embeddings); err != nil {
		return qerrors.IndexWriteError("add vectors", err)
	}
	return nil
}

// fail records a document failure and schedules the retry with
// exponential backoff.
func (c *Coordinator) fail(ctx context.Context, rec *store.DocumentRecord, fi *scanner.FileInfo, fingerprint string, cause error) {
	if rec == nil {
		rec = &store.DocumentRecord{
			ID:     scanner.DocID(fi.Path),
			Path:   fi.Path,
			Folder: fi.Folder,
		}
	}
	now := time.Now()
	rec.Size = fi.Size
	rec.ModTime = fi.ModTime.Truncate(time.Second)
	if fingerprint != "" {
		rec.Fingerprint = fingerprint
	}
	rec.Status = store.StatusFailed
	rec.Attempts++
	rec.NextRetryAt = now.Add(c.cfg.Retry.BackoffDelay(rec.Attempts))
	rec.LastError = cause.Error()
	rec.UpdatedAt = now

	if err := c.cfg.Registry.SaveDocument(ctx, rec); err != nil {
		c.cfg.Logger.Warn("record failure failed", "path", fi.Path, "error", err)
	}

	c.cfg.Logger.Warn("document indexing failed",
		"path", fi.Path,
		"attempts", rec.Attempts,
		"next_retry", rec.NextRetryAt,
		"error", cause)
	c.progress.markFailed()
}

// removeDocument purges a vanished document: chunks leave every index
// first, then the registry record goes.
func (c *Coordinator) removeDocument(ctx context.Context, doc *store.DocumentRecord) {
	unlock := c.docLocks.lock(doc.Path)
	defer unlock()

	chunkIDs, err := c.cfg.Registry.GetChunkIDsByDoc(ctx, doc.ID)
	if err != nil {
		c.cfg.Logger.Warn("lookup chunks for removal failed", "path", doc.Path, "error", err)
		return
	}

	if len(chunkIDs) > 0 {
		if err := c.cfg.Vectors.Delete(ctx, chunkIDs); err != nil {
			c.cfg.Logger.Warn("delete vectors failed", "path", doc.Path, "error", err)
			return
		}
		if err := c.cfg.Lexical.Delete(ctx, chunkIDs); err != nil {
			c.cfg.Logger.Warn("delete lexical entries failed", "path", doc.Path, "error", err)
			return
		}
	}

	doc.Status = store.StatusDeleted
	doc.ChunkCount = 0
	doc.UpdatedAt = time.Now()
	if err := c.cfg.Registry.SaveDocument(ctx, doc); err != nil {
		c.cfg.Logger.Warn("mark deleted failed", "path", doc.Path, "error", err)
	}
	if err := c.cfg.Registry.DeleteDocument(ctx, doc.ID); err != nil {
		c.cfg.Logger.Warn("purge document failed", "path", doc.Path, "error", err)
		return
	}

	c.cfg.Logger.Info("document removed", "path", doc.Path)
	c.progress.markRemoved()
}

// HandleFileChange reacts to a single watcher event.
func (c *Coordinator) HandleFileChange(ctx context.Context, folder, path string, deleted bool) error {
	if deleted {
		doc, err := c.cfg.Registry.GetDocumentByPath(ctx, path)
		if err != nil {
			return err
		}
		if doc != nil {
			c.removeDocument(ctx, doc)
		}
		return c.save()
	}

	if !extract.Supported(path) {
		return nil
	}

	fi, err := scanner.Stat(folder, path)
	if err != nil {
		// Raced with a delete; the next sync reconciles.
		return nil
	}
	c.syncFile(ctx, fi)
	return c.save()
}

// save persists the vector index if a path is configured. Bleve and
// SQLite persist their own writes.
func (c *Coordinator) save() error {
	if c.cfg.VectorPath == "" {
		return nil
	}
	if err := c.cfg.Vectors.Save(c.cfg.VectorPath); err != nil {
		return qerrors.IndexWriteError("save vector index", err)
	}
	return nil
}

// keyedMutex provides per-document mutexes so two workers never process
// the same path at once.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*entryLock)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entryLock{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
