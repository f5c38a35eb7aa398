package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/library"
)

// handleAudioStream serves an audio file by absolute path with HTTP range
// support.
func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "path is required", http.StatusBadRequest)
		return
	}
	ServeAudioFile(w, r, path, s.log)
}

// ServeAudioFile streams path with http.ServeContent, which answers Range
// requests with 206 and unsatisfiable ranges with 416.
func ServeAudioFile(w http.ResponseWriter, r *http.Request, path string, log *zap.Logger) {
	st, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("stat audio file failed", zap.String("path", path), zap.Error(err))
		}
		writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	// Checked before opening: opening a FIFO blocks.
	if !st.Mode().IsRegular() {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "not a regular file"})
		return
	}
	if !library.IsAudioFile(path) {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "unsupported audio format"})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": "file not found"})
			return
		}
		log.Error("open audio file failed", zap.String("path", path), zap.Error(err))
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": errInternal})
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", audioContentType(path))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "public, max-age=3600")

	http.ServeContent(w, r, filepath.Base(path), st.ModTime(), f)
}
