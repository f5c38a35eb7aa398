package server

import (
	"net"
	"net/http"
	"sort"
	"time"
)

// handleDiagnostics reports table row counts and the integrity check result.
// Only loopback clients are served; forwarding headers are not trusted.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if ip := net.ParseIP(clientIP(r)); ip == nil || !ip.IsLoopback() {
		writeJSONStatus(w, http.StatusForbidden, map[string]any{
			"success": false,
			"message": "access denied: only localhost access is allowed",
		})
		return
	}
	if s.diag == nil {
		s.writeError(w, "diagnostics not available", http.StatusNotImplemented)
		return
	}

	ctx := r.Context()
	stats, err := s.diag.TableStats(ctx)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	problems, err := s.diag.IntegrityCheck(ctx)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	passwordSet, err := s.auth.Status(ctx)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	tables := make([]string, 0, len(stats))
	for name := range stats {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	if problems == nil {
		problems = []string{}
	}

	noCache(w)
	writeJSON(w, map[string]any{
		"success":   true,
		"timestamp": time.Now().UTC(),
		"database": map[string]any{
			"path":        s.cfg.DBPath,
			"tables":      tables,
			"stats":       stats,
			"integrity":   problems,
			"passwordSet": passwordSet,
		},
	})
}
