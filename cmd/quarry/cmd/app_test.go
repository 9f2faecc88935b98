package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/store"
)

func TestRegisterConfiguredFolders(t *testing.T) {
	ctx := context.Background()

	registry, err := store.NewSQLiteRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	docs := t.TempDir()
	notes := t.TempDir()
	require.NoError(t, registerConfiguredFolders(ctx, registry, []string{docs, notes}))

	folders, err := registry.ListFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 2)

	paths := []string{folders[0].Path, folders[1].Path}
	assert.Contains(t, paths, docs)
	assert.Contains(t, paths, notes)

	// Registered folders survive a second pass unchanged.
	require.NoError(t, registerConfiguredFolders(ctx, registry, []string{docs}))
	folders, err = registry.ListFolders(ctx)
	require.NoError(t, err)
	assert.Len(t, folders, 2)
}

func TestRegisterConfiguredFolders_RelativePathsResolved(t *testing.T) {
	ctx := context.Background()

	registry, err := store.NewSQLiteRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	require.NoError(t, registerConfiguredFolders(ctx, registry, []string{"."}))

	folders, err := registry.ListFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.True(t, filepath.IsAbs(folders[0].Path))
}

func TestRegisterConfiguredFolders_EmptyIsNoOp(t *testing.T) {
	ctx := context.Background()

	registry, err := store.NewSQLiteRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	require.NoError(t, registerConfiguredFolders(ctx, registry, nil))

	folders, err := registry.ListFolders(ctx)
	require.NoError(t, err)
	assert.Empty(t, folders)
}
