package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/auth"
	"github.com/lzcstory/lzcstory/internal/config"
	"github.com/lzcstory/lzcstory/internal/history"
	"github.com/lzcstory/lzcstory/internal/library"
)

const (
	errInternal   = "internal error"
	errBadRequest = "bad request"
	errNotFound   = "not found"
)

// Diagnostics is the database view exposed on /api/test.
type Diagnostics interface {
	TableStats(ctx context.Context) (map[string]int64, error)
	IntegrityCheck(ctx context.Context) ([]string, error)
}

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Catalog     *library.Catalog
	History     *history.Service
	Auth        *auth.Manager
	Diagnostics Diagnostics
	Log         *zap.Logger
}

type Server struct {
	cfg           *config.Config
	catalog       *library.Catalog
	history       *history.Service
	auth          *auth.Manager
	diag          Diagnostics
	log           *zap.Logger
	verifyLimiter *RateLimiter
	handler       http.Handler
	http          *http.Server
}

func New(cfg *config.Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:           cfg,
		catalog:       deps.Catalog,
		history:       deps.History,
		auth:          deps.Auth,
		diag:          deps.Diagnostics,
		log:           log,
		verifyLimiter: NewRateLimiter(cfg.VerifyMinInterval),
	}

	s.handler = s.logMiddleware(s.recoverMiddleware(s.corsMiddleware(s.routes())))
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, errNotFound, http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.methodNotAllowed(w)
	})

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/albums", s.handleListAlbums).Methods(http.MethodGet)
	api.HandleFunc("/albums", s.requireAdmin(s.handleCreateAlbum)).Methods(http.MethodPost)
	api.HandleFunc("/albums", s.requireAdmin(s.handleUpdateAlbum)).Methods(http.MethodPut)
	api.HandleFunc("/albums", s.requireAdmin(s.handleDeleteAlbum)).Methods(http.MethodDelete)
	api.HandleFunc("/albums/{id:[0-9]+}", s.handleGetAlbum).Methods(http.MethodGet)
	api.HandleFunc("/albums/{id:[0-9]+}/rescan", s.requireAdmin(s.handleRescanAlbum)).Methods(http.MethodPost)
	api.HandleFunc("/albums/{id:[0-9]+}/scans", s.requireAdmin(s.handleListScans)).Methods(http.MethodGet)

	api.HandleFunc("/audio-files", s.handleListAudioFiles).Methods(http.MethodGet)

	stream := http.HandlerFunc(s.handleAudioStream)
	if s.cfg.ProtectStream {
		stream = s.requireSession(s.handleAudioStream)
	}
	api.Handle("/audio-stream", stream).Methods(http.MethodGet, http.MethodHead)

	api.HandleFunc("/filesystem", s.requireAdmin(s.handleFilesystem)).Methods(http.MethodGet)

	api.HandleFunc("/play-history", s.handleListPlayHistory).Methods(http.MethodGet)
	api.HandleFunc("/play-history", s.handleRecordPlay).Methods(http.MethodPost)

	api.HandleFunc("/admin-password", s.handlePasswordStatus).Methods(http.MethodGet)
	api.HandleFunc("/admin-password", s.handleSetPassword).Methods(http.MethodPost)
	api.HandleFunc("/admin-password", s.handleVerifyPassword).Methods(http.MethodPut)
	api.HandleFunc("/admin-password", s.handleLogout).Methods(http.MethodDelete)
	api.HandleFunc("/admin-password", s.handleSessionCheck).Methods(http.MethodHead)

	api.HandleFunc("/session", s.handleSessionStatus).Methods(http.MethodGet)
	api.HandleFunc("/session", s.handleVerifyPassword).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleLogout).Methods(http.MethodDelete)

	api.HandleFunc("/test", s.handleDiagnostics).Methods(http.MethodGet)

	return router
}

// Handler returns the full middleware chain. Used by tests.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", textContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, msg string, status int) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, library.ErrAlbumNotFound),
		errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, library.ErrValidation),
		errors.Is(err, library.ErrInvalidPath),
		errors.Is(err, library.ErrDuplicateName),
		errors.Is(err, library.ErrCapacity),
		errors.Is(err, history.ErrValidation),
		errors.Is(err, auth.ErrValidation),
		errors.Is(err, auth.ErrNotSet),
		errors.Is(err, auth.ErrAlreadySet):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with the status statusFor picks. Internal
// errors are logged and replaced by a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		s.writeError(w, errInternal, status)
		return
	}
	s.writeError(w, err.Error(), status)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
