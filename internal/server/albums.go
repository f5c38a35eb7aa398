package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

type albumPayload struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AlbumPath string `json:"albumPath"`
}

func (s *Server) handleListAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := s.catalog.ListAlbums(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, albums)
}

// handleCreateAlbum stores the album and answers before its scan finishes.
func (s *Server) handleCreateAlbum(w http.ResponseWriter, r *http.Request) {
	var payload albumPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeError(w, errBadRequest, http.StatusBadRequest)
		return
	}
	album, err := s.catalog.CreateAlbum(r.Context(), payload.Name, payload.AlbumPath)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{
		"message": "album created, scanning audio files",
		"albumId": album.ID,
		"album":   album,
	})
}

func (s *Server) handleUpdateAlbum(w http.ResponseWriter, r *http.Request) {
	var payload albumPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeError(w, errBadRequest, http.StatusBadRequest)
		return
	}
	if payload.ID <= 0 {
		s.writeError(w, "album id is required", http.StatusBadRequest)
		return
	}
	album, err := s.catalog.UpdateAlbum(r.Context(), payload.ID, payload.Name, payload.AlbumPath)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"message": "album updated", "album": album})
}

func (s *Server) handleDeleteAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.URL.Query().Get("id"))
	if !ok {
		s.writeError(w, "album id is required", http.StatusBadRequest)
		return
	}
	if err := s.catalog.DeleteAlbum(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"message": "album deleted"})
}

func (s *Server) handleGetAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "invalid album id", http.StatusBadRequest)
		return
	}
	album, err := s.catalog.GetAlbum(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	noCache(w)
	writeJSON(w, album)
}

func (s *Server) handleRescanAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "invalid album id", http.StatusBadRequest)
		return
	}
	album, err := s.catalog.RescanAlbum(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"message": "rescan started", "album": album})
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "invalid album id", http.StatusBadRequest)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.catalog.ListScanRuns(r.Context(), id, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleListAudioFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.URL.Query().Get("albumId"))
	if !ok {
		s.writeError(w, "albumId is required", http.StatusBadRequest)
		return
	}
	files, err := s.catalog.ListAudioFiles(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, files)
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
