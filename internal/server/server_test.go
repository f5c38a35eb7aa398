package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/auth"
	"github.com/lzcstory/lzcstory/internal/config"
	"github.com/lzcstory/lzcstory/internal/history"
	"github.com/lzcstory/lzcstory/internal/library"
	"github.com/lzcstory/lzcstory/internal/model"
	"github.com/lzcstory/lzcstory/internal/storage"
)

type testServer struct {
	*Server
	store   *storage.Store
	catalog *library.Catalog
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "server.db")
	cfg.VerifyMinInterval = 0
	if mutate != nil {
		mutate(cfg)
	}

	store, err := storage.Open(cfg.DBPath, storage.Options{BusyTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := zap.NewNop()
	catalog := library.NewCatalog(store, library.NewScanner(store, log), cfg.MaxAlbums, log)
	t.Cleanup(catalog.Close)
	manager := auth.NewManager(store, cfg.SessionTTL, log)
	t.Cleanup(manager.Close)

	srv := New(cfg, Deps{
		Catalog:     catalog,
		History:     history.NewService(store, log),
		Auth:        manager,
		Diagnostics: store,
		Log:         log,
	})
	return &testServer{Server: srv, store: store, catalog: catalog}
}

func (ts *testServer) do(t *testing.T, method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

// login sets the admin password and returns the session cookie.
func (ts *testServer) login(t *testing.T) *http.Cookie {
	t.Helper()
	if rec := ts.do(t, http.MethodPost, "/api/admin-password", passwordPayload{Password: "secret"}); rec.Code != http.StatusOK {
		t.Fatalf("set password status = %d, body %s", rec.Code, rec.Body)
	}
	rec := ts.do(t, http.MethodPut, "/api/admin-password", passwordPayload{Password: "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", rec.Code, rec.Body)
	}
	cookie := findCookie(rec, sessionCookieName)
	if cookie == nil {
		t.Fatalf("verify did not set %s", sessionCookieName)
	}
	return cookie
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body)
	}
}

func TestAudioStreamRange(t *testing.T) {
	ts := newTestServer(t, nil)
	dir := t.TempDir()
	track := filepath.Join(dir, "story.mp3")
	writeFile(t, track, 1000)
	target := "/api/audio-stream?path=" + track

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-99/1000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "100" {
		t.Fatalf("Content-Length = %q, want 100", got)
	}
	if got := rec.Body.Len(); got != 100 {
		t.Fatalf("body length = %d, want 100", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("Accept-Ranges = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Fatalf("Cache-Control = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Range", "bytes=900-")
	rec = httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Content-Range"); rec.Code != http.StatusPartialContent || got != "bytes 900-999/1000" {
		t.Fatalf("open range = %d %q", rec.Code, got)
	}

	req = httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Range", "bytes=5000-")
	rec = httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("unsatisfiable range status = %d, want 416", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, target, nil)
	if rec.Code != http.StatusOK || rec.Body.Len() != 1000 {
		t.Fatalf("full body = %d, %d bytes", rec.Code, rec.Body.Len())
	}
}

func TestAudioStreamRejects(t *testing.T) {
	ts := newTestServer(t, nil)
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	writeFile(t, notes, 10)
	flac := filepath.Join(dir, "song.flac")
	writeFile(t, flac, 10)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "empty path", path: "", status: http.StatusBadRequest},
		{name: "missing file", path: filepath.Join(dir, "nope.mp3"), status: http.StatusNotFound},
		{name: "directory", path: dir, status: http.StatusBadRequest},
		{name: "not audio", path: notes, status: http.StatusBadRequest},
		{name: "flac", path: flac, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/audio-stream?path="+tt.path, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
	if rec := ts.do(t, http.MethodGet, "/api/audio-stream?path="+flac, nil); rec.Header().Get("Content-Type") != "audio/flac" {
		t.Fatalf("flac Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestProtectStream(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.ProtectStream = true })
	track := filepath.Join(t.TempDir(), "a.mp3")
	writeFile(t, track, 10)

	if rec := ts.do(t, http.MethodGet, "/api/audio-stream?path="+track, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous stream status = %d, want 401", rec.Code)
	}
	cookie := ts.login(t)
	if rec := ts.do(t, http.MethodGet, "/api/audio-stream?path="+track, nil, cookie); rec.Code != http.StatusOK {
		t.Fatalf("authenticated stream status = %d", rec.Code)
	}
}

func TestPasswordAndSession(t *testing.T) {
	ts := newTestServer(t, nil)

	var status struct {
		HasPassword bool `json:"hasPassword"`
	}
	rec := ts.do(t, http.MethodGet, "/api/admin-password", nil)
	decodeBody(t, rec, &status)
	if status.HasPassword {
		t.Fatalf("hasPassword = true before set")
	}
	if rec := ts.do(t, http.MethodPut, "/api/admin-password", passwordPayload{Password: "x"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("verify before set status = %d, want 400", rec.Code)
	}

	cookie := ts.login(t)
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode || cookie.Path != "/" || cookie.MaxAge != 86400 {
		t.Fatalf("cookie attributes = %+v", cookie)
	}
	if rec := ts.do(t, http.MethodPost, "/api/admin-password", passwordPayload{Password: "again"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("second set status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/api/admin-password", passwordPayload{Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", rec.Code)
	}
	if findCookie(rec, sessionCookieName) != nil {
		t.Fatalf("wrong password set a session cookie")
	}

	var session struct {
		Authenticated bool `json:"authenticated"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/session", nil), &session)
	if session.Authenticated {
		t.Fatalf("anonymous session authenticated")
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/session", nil, cookie), &session)
	if !session.Authenticated {
		t.Fatalf("session not authenticated with cookie")
	}
	if rec := ts.do(t, http.MethodHead, "/api/admin-password", nil, cookie); rec.Code != http.StatusOK {
		t.Fatalf("HEAD with cookie = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/session", nil, cookie)
	if cleared := findCookie(rec, sessionCookieName); rec.Code != http.StatusOK || cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("logout = %d, cookie %+v", rec.Code, cleared)
	}
	if rec := ts.do(t, http.MethodHead, "/api/admin-password", nil, cookie); rec.Code != http.StatusUnauthorized {
		t.Fatalf("HEAD after logout = %d, want 401", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/session", passwordPayload{Password: "secret"})
	if rec.Code != http.StatusOK || findCookie(rec, sessionCookieName) == nil {
		t.Fatalf("session login = %d", rec.Code)
	}
}

func TestVerifyRateLimited(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.VerifyMinInterval = time.Hour })

	if rec := ts.do(t, http.MethodPut, "/api/admin-password", passwordPayload{Password: "guess"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("first attempt status = %d, want 400", rec.Code)
	}
	rec := ts.do(t, http.MethodPut, "/api/admin-password", passwordPayload{Password: "guess"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second attempt status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestAdminEndpointsRequireSession(t *testing.T) {
	ts := newTestServer(t, nil)
	dir := t.TempDir()

	tests := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/api/albums"},
		{http.MethodPut, "/api/albums"},
		{http.MethodDelete, "/api/albums?id=1"},
		{http.MethodPost, "/api/albums/1/rescan"},
		{http.MethodGet, "/api/albums/1/scans"},
		{http.MethodGet, "/api/filesystem?path=" + dir},
	}
	for _, tt := range tests {
		if rec := ts.do(t, tt.method, tt.target, albumPayload{Name: "x", AlbumPath: dir}); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s status = %d, want 401", tt.method, tt.target, rec.Code)
		}
	}

	open := newTestServer(t, func(c *config.Config) { c.AdminAPIAuth = false })
	if rec := open.do(t, http.MethodPost, "/api/albums", albumPayload{Name: "x", AlbumPath: dir}); rec.Code != http.StatusAccepted {
		t.Fatalf("create without ADMIN_API_AUTH = %d, body %s", rec.Code, rec.Body)
	}
}

func TestAlbumLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.login(t)
	dir := t.TempDir()
	for _, name := range []string{"10.mp3", "2.mp3", "1.mp3", "cover.jpg"} {
		writeFile(t, filepath.Join(dir, name), 32)
	}

	rec := ts.do(t, http.MethodPost, "/api/albums", albumPayload{Name: "Bedtime", AlbumPath: dir}, cookie)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var created struct {
		AlbumID int64 `json:"albumId"`
	}
	decodeBody(t, rec, &created)
	ts.catalog.Wait()

	if rec := ts.do(t, http.MethodPost, "/api/albums", albumPayload{Name: "Bedtime", AlbumPath: dir}, cookie); rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate status = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/albums", albumPayload{Name: "Other", AlbumPath: filepath.Join(dir, "missing")}, cookie); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing path status = %d, want 400", rec.Code)
	}

	var albums []model.Album
	decodeBody(t, ts.do(t, http.MethodGet, "/api/albums", nil), &albums)
	if len(albums) != 1 || albums[0].AudioCount != 3 || albums[0].ScanStatus != model.ScanStatusReady {
		t.Fatalf("albums = %+v", albums)
	}

	albumURL := "/api/albums/" + strconv.FormatInt(created.AlbumID, 10)
	rec = ts.do(t, http.MethodGet, albumURL, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Cache-Control") != "no-cache, no-store, must-revalidate" {
		t.Fatalf("get album = %d, Cache-Control %q", rec.Code, rec.Header().Get("Cache-Control"))
	}

	var files []model.AudioFile
	decodeBody(t, ts.do(t, http.MethodGet, fmt.Sprintf("/api/audio-files?albumId=%d", created.AlbumID), nil), &files)
	want := []string{"1.mp3", "2.mp3", "10.mp3"}
	if len(files) != len(want) {
		t.Fatalf("files = %+v", files)
	}
	for i, f := range files {
		if f.Filename != want[i] {
			t.Fatalf("files[%d] = %s, want %s", i, f.Filename, want[i])
		}
	}
	if rec := ts.do(t, http.MethodGet, "/api/audio-files", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("audio-files without albumId = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/play-history", playPayload{AlbumID: created.AlbumID, AudioFileID: files[1].ID, PlayTime: 42.5})
	if rec.Code != http.StatusOK {
		t.Fatalf("record play = %d, body %s", rec.Code, rec.Body)
	}
	if rec := ts.do(t, http.MethodPost, "/api/play-history", playPayload{AlbumID: created.AlbumID}); rec.Code != http.StatusBadRequest {
		t.Fatalf("record play without file = %d, want 400", rec.Code)
	}
	var plays []model.RecentPlay
	decodeBody(t, ts.do(t, http.MethodGet, "/api/play-history", nil), &plays)
	if len(plays) != 1 || plays[0].PlayTime != 42.5 || plays[0].Filename != "2.mp3" {
		t.Fatalf("plays = %+v", plays)
	}

	rec = ts.do(t, http.MethodPut, "/api/albums", albumPayload{ID: created.AlbumID, Name: "Renamed"}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d, body %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodPost, albumURL+"/rescan", nil, cookie)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("rescan = %d, body %s", rec.Code, rec.Body)
	}
	ts.catalog.Wait()
	var runs []model.ScanRun
	decodeBody(t, ts.do(t, http.MethodGet, albumURL+"/scans", nil, cookie), &runs)
	if len(runs) != 2 || runs[0].Mode != model.ScanModeSync {
		t.Fatalf("scan runs = %+v", runs)
	}

	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/albums?id=%d", created.AlbumID), nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, albumURL, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted album = %d, want 404", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/albums?id=%d", created.AlbumID), nil, cookie); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", rec.Code)
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/play-history", nil), &plays)
	if len(plays) != 0 {
		t.Fatalf("history survived album delete: %+v", plays)
	}
}

func TestFilesystemListing(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.AdminAPIAuth = false })
	root := t.TempDir()
	for _, name := range []string{"b10", "a", "b2"} {
		if err := os.Mkdir(filepath.Join(root, name), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	writeFile(t, filepath.Join(root, "file.mp3"), 1)

	rec := ts.do(t, http.MethodGet, "/api/filesystem?path="+root, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var listing dirListing
	decodeBody(t, rec, &listing)
	want := []string{"..", "a", "b2", "b10"}
	if len(listing.Items) != len(want) {
		t.Fatalf("items = %+v", listing.Items)
	}
	for i, item := range listing.Items {
		if item.Name != want[i] {
			t.Fatalf("items[%d] = %s, want %s", i, item.Name, want[i])
		}
	}
	if listing.Items[0].Path != filepath.Dir(root) {
		t.Fatalf(".. path = %s, want %s", listing.Items[0].Path, filepath.Dir(root))
	}

	tests := []struct {
		path   string
		status int
	}{
		{"relative/dir", http.StatusBadRequest},
		{filepath.Join(root, "missing"), http.StatusNotFound},
		{filepath.Join(root, "file.mp3"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := ts.do(t, http.MethodGet, "/api/filesystem?path="+tt.path, nil); rec.Code != tt.status {
			t.Fatalf("path %s status = %d, want %d", tt.path, rec.Code, tt.status)
		}
	}
}

func TestDiagnosticsLoopbackOnly(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("loopback status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		Success  bool `json:"success"`
		Database struct {
			Tables    []string         `json:"tables"`
			Stats     map[string]int64 `json:"stats"`
			Integrity []string         `json:"integrity"`
		} `json:"database"`
	}
	decodeBody(t, rec, &body)
	if !body.Success || len(body.Database.Tables) == 0 {
		t.Fatalf("diagnostics = %+v", body)
	}
	if _, ok := body.Database.Stats["albums"]; !ok {
		t.Fatalf("stats missing albums: %v", body.Database.Stats)
	}
	if len(body.Database.Integrity) != 1 || body.Database.Integrity[0] != "ok" {
		t.Fatalf("integrity = %v", body.Database.Integrity)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.CORSEnabled = true })
	rec := ts.do(t, http.MethodOptions, "/api/albums", nil)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d, headers %v", rec.Code, rec.Header())
	}

	plain := newTestServer(t, nil)
	if got := plain.do(t, http.MethodGet, "/api/albums", nil).Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("CORS header set while disabled: %q", got)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	ts := newTestServer(t, nil)
	h := ts.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != errInternal {
		t.Fatalf("body = %v", body)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(t, http.MethodGet, "/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
