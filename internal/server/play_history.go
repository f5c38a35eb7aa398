package server

import "net/http"

type playPayload struct {
	AlbumID     int64   `json:"albumId"`
	AudioFileID int64   `json:"audioFileId"`
	PlayTime    float64 `json:"playTime"`
}

// handleListPlayHistory returns the recent plays, flattened unless
// grouped=1 is passed.
func (s *Server) handleListPlayHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("grouped") == "1" {
		groups, err := s.history.ListRecentByAlbum(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, groups)
		return
	}

	plays, err := s.history.ListRecent(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, plays)
}

func (s *Server) handleRecordPlay(w http.ResponseWriter, r *http.Request) {
	var payload playPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeError(w, errBadRequest, http.StatusBadRequest)
		return
	}
	entry, err := s.history.RecordPlay(r.Context(), payload.AlbumID, payload.AudioFileID, payload.PlayTime)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"message": "play recorded", "entry": entry})
}
