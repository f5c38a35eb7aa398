package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "library.db"), storage.Options{BusyTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func newTestCatalog(t *testing.T, maxAlbums int) (*Catalog, *storage.Store) {
	t.Helper()
	store := newTestStore(t)
	catalog := NewCatalog(store, NewScanner(store, zap.NewNop()), maxAlbums, zap.NewNop())
	t.Cleanup(catalog.Close)
	return catalog, store
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func albumDir(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range files {
		writeFile(t, filepath.Join(dir, name), 16)
	}
	return dir
}

func filenames(t *testing.T, c *Catalog, albumID int64) []string {
	t.Helper()
	files, err := c.ListAudioFiles(context.Background(), albumID)
	if err != nil {
		t.Fatalf("ListAudioFiles() error = %v", err)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return names
}
