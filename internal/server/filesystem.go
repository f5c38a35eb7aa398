package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lzcstory/lzcstory/internal/library"
)

type dirEntry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDirectory bool      `json:"isDirectory"`
	Modified    time.Time `json:"modified"`
}

type dirListing struct {
	CurrentPath string     `json:"currentPath"`
	ParentPath  string     `json:"parentPath"`
	Items       []dirEntry `json:"items"`
}

// handleFilesystem lists the subdirectories of path so the admin UI can pick
// an album folder. A ".." entry leads to the parent unless path is the root.
func (s *Server) handleFilesystem(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		dir = "/"
	}
	if !filepath.IsAbs(dir) {
		s.writeError(w, "path must be absolute", http.StatusBadRequest)
		return
	}
	dir = filepath.Clean(dir)

	listing, err := listDirectories(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.writeError(w, "path does not exist", http.StatusNotFound)
		return
	case errors.Is(err, errNotDirectory):
		s.writeError(w, "not a directory", http.StatusBadRequest)
		return
	case err != nil:
		s.writeServiceError(w, r, err)
		return
	}
	noCache(w)
	writeJSON(w, listing)
}

var errNotDirectory = errors.New("not a directory")

func listDirectories(dir string) (dirListing, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return dirListing{}, err
	}
	if !st.IsDir() {
		return dirListing{}, errNotDirectory
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dirListing{}, err
	}

	items := []dirEntry{}
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		// Stat follows symlinks; broken links are skipped.
		info, err := os.Stat(full)
		if err != nil || !info.IsDir() {
			continue
		}
		items = append(items, dirEntry{
			Name:        entry.Name(),
			Path:        full,
			IsDirectory: true,
			Modified:    info.ModTime(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return library.NaturalLess(items[i].Name, items[j].Name)
	})

	parent := filepath.Dir(dir)
	if parent != dir {
		items = append([]dirEntry{{Name: "..", Path: parent, IsDirectory: true}}, items...)
	}
	return dirListing{CurrentPath: dir, ParentPath: parent, Items: items}, nil
}
