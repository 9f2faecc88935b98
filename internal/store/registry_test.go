package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	reg, err := NewSQLiteRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestSQLiteRegistry_DocumentLifecycle(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	modTime := time.Now().Truncate(time.Second)
	doc := &DocumentRecord{
		ID:          "doc1",
		Path:        "/data/notes/sample.txt",
		Folder:      "/data/notes",
		Fingerprint: "abc123",
		Size:        1024,
		ModTime:     modTime,
		Status:      StatusPending,
		UpdatedAt:   modTime,
	}
	require.NoError(t, reg.SaveDocument(ctx, doc))

	got, err := reg.GetDocumentByPath(ctx, "/data/notes/sample.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "doc1", got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "abc123", got.Fingerprint)
	assert.True(t, got.ModTime.Equal(modTime))

	// Transition to indexed via upsert.
	doc.Status = StatusIndexed
	doc.ChunkCount = 7
	doc.IndexedAt = modTime
	require.NoError(t, reg.SaveDocument(ctx, doc))

	got, err = reg.GetDocumentByPath(ctx, "/data/notes/sample.txt")
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, got.Status)
	assert.Equal(t, 7, got.ChunkCount)

	indexed, err := reg.ListDocumentsByStatus(ctx, StatusIndexed)
	require.NoError(t, err)
	require.Len(t, indexed, 1)

	count, err := reg.CountDocuments(ctx, StatusIndexed)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, reg.DeleteDocument(ctx, "doc1"))
	got, err = reg.GetDocumentByPath(ctx, "/data/notes/sample.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteRegistry_GetDocumentByPath_Untracked(t *testing.T) {
	reg := newTestRegistry(t)

	got, err := reg.GetDocumentByPath(context.Background(), "/nowhere.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteRegistry_Chunks(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	modTime := time.Now().Truncate(time.Second)
	require.NoError(t, reg.SaveDocument(ctx, &DocumentRecord{
		ID: "doc1", Path: "/a.txt", Folder: "/", Status: StatusIndexed, ModTime: modTime,
	}))

	chunks := []*ChunkRecord{
		{ID: "c1", DocID: "doc1", Path: "/a.txt", Content: "first", StartOffset: 0, EndOffset: 5},
		{ID: "c2", DocID: "doc1", Path: "/a.txt", Content: "second", StartOffset: 7, EndOffset: 13, Heading: "Intro", Page: 2},
	}
	require.NoError(t, reg.SaveChunks(ctx, chunks))

	total, err := reg.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	ids, err := reg.GetChunkIDsByDoc(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)

	// Order follows the requested IDs, and mtime comes from the document.
	got, err := reg.GetChunks(ctx, []string{"c2", "c1", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ID)
	assert.Equal(t, "Intro", got[0].Heading)
	assert.Equal(t, 2, got[0].Page)
	assert.True(t, got[0].ModTime.Equal(modTime))
	assert.Equal(t, "c1", got[1].ID)

	require.NoError(t, reg.DeleteChunksByDoc(ctx, "doc1"))
	total, err = reg.CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSQLiteRegistry_Folders(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.AddFolder(ctx, "/data/notes"))
	require.NoError(t, reg.AddFolder(ctx, "/data/docs"))
	require.NoError(t, reg.AddFolder(ctx, "/data/notes")) // duplicate is a no-op

	folders, err := reg.ListFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 2)

	require.NoError(t, reg.RemoveFolder(ctx, "/data/docs"))
	folders, err = reg.ListFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "/data/notes", folders[0].Path)
}

func TestSQLiteRegistry_State(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	val, err := reg.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, reg.SetState(ctx, StateKeyIndexDimension, "256"))
	require.NoError(t, reg.SetState(ctx, StateKeyIndexModel, "static"))
	require.NoError(t, reg.SetState(ctx, StateKeyIndexDimension, "768")) // overwrite

	val, err = reg.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Equal(t, "768", val)
}
