package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	ref, err := store.Store(strings.NewReader("fake image bytes"), ".PNG")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(ref, ".png"))
	require.Equal(t, ref, filepath.Base(ref), "reference must be a bare file name")

	require.NoError(t, store.Delete(ref))
	// Deleting again is a no-op.
	require.NoError(t, store.Delete(ref))
}

func TestDiskStoreDeleteRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)

	outside := filepath.Join(dir, "..", "victim.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	require.Error(t, store.Delete("../victim.txt"))

	_, statErr := os.Stat(outside)
	require.NoError(t, statErr, "file outside the store must survive")
}

func TestDiskStoreDeleteEmptyRef(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Delete(""))
}
