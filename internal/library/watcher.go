package library

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchRefreshInterval = 30 * time.Second

// Watcher resyncs albums whose directories change on disk. Events are
// debounced per album so a batch copy triggers one rescan.
type Watcher struct {
	catalog  *Catalog
	log      *zap.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu     sync.Mutex
	dirs   map[string]int64
	timers map[int64]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

func NewWatcher(catalog *Catalog, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		catalog:  catalog,
		log:      log,
		debounce: debounce,
		watcher:  fw,
		dirs:     map[string]int64{},
		timers:   map[int64]*time.Timer{},
		done:     make(chan struct{}),
	}, nil
}

// Start registers every album directory and begins handling events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Refresh(ctx); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Refresh syncs the watched directory set with the current albums.
func (w *Watcher) Refresh(ctx context.Context) error {
	albums, err := w.catalog.ListAlbums(ctx)
	if err != nil {
		return err
	}

	want := map[string]int64{}
	for _, album := range albums {
		// A walk error leaves the directories reached so far registered.
		_ = walkFollow(ctx, album.Path, func(path string, info fs.FileInfo) error {
			if info.IsDir() {
				want[path] = album.ID
			}
			return nil
		})
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := range w.dirs {
		if _, ok := want[dir]; !ok {
			_ = w.watcher.Remove(dir)
			delete(w.dirs, dir)
		}
	}
	for dir, albumID := range want {
		if _, ok := w.dirs[dir]; ok {
			w.dirs[dir] = albumID
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.log.Warn("watch directory failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		w.dirs[dir] = albumID
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(watchRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.Refresh(ctx); err != nil {
				w.log.Warn("refresh watched albums failed", zap.Error(err))
			}
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	albumID, ok := w.albumFor(event.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	_, isDir := w.dirs[event.Name]
	w.mu.Unlock()

	if event.Op&fsnotify.Create != 0 && !IsAudioFile(event.Name) {
		// New subdirectories need their own watch.
		if err := w.Refresh(ctx); err != nil {
			w.log.Warn("refresh watched albums failed", zap.Error(err))
		}
		isDir = true
	}
	if !isDir && !IsAudioFile(event.Name) {
		return
	}
	w.schedule(ctx, albumID)
}

func (w *Watcher) albumFor(path string) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := path; ; {
		if id, ok := w.dirs[dir]; ok {
			return id, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return 0, false
		}
		dir = parent
	}
}

func (w *Watcher) schedule(ctx context.Context, albumID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[albumID]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[albumID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, albumID)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		if _, err := w.catalog.RescanAlbum(ctx, albumID); err != nil {
			w.log.Warn("rescan after change failed", zap.Int64("album_id", albumID), zap.Error(err))
			return
		}
		w.log.Info("album changed on disk, rescanning", zap.Int64("album_id", albumID))
	})
}

// Close stops the event loop and pending rescans.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}

	w.mu.Lock()
	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
