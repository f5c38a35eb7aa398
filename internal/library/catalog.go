package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/model"
)

var (
	ErrValidation    = errors.New("invalid input")
	ErrInvalidPath   = errors.New("invalid album path")
	ErrDuplicateName = errors.New("album name already exists")
	ErrCapacity      = errors.New("album limit reached")
	ErrAlbumNotFound = errors.New("album not found")
)

// Catalog manages albums and starts their scans in the background.
type Catalog struct {
	store     Store
	scanner   *Scanner
	log       *zap.Logger
	maxAlbums int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCatalog(store Store, scanner *Scanner, maxAlbums int, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	if scanner == nil {
		scanner = NewScanner(store, log)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Catalog{
		store:     store,
		scanner:   scanner,
		log:       log,
		maxAlbums: maxAlbums,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *Catalog) CreateAlbum(ctx context.Context, name, path string) (model.Album, error) {
	name = strings.TrimSpace(name)
	path = strings.TrimSpace(path)
	if name == "" || path == "" {
		return model.Album{}, fmt.Errorf("%w: name and path are required", ErrValidation)
	}

	if _, exists, err := c.store.GetAlbumByName(ctx, name); err != nil {
		return model.Album{}, fmt.Errorf("lookup album: %w", err)
	} else if exists {
		return model.Album{}, ErrDuplicateName
	}

	path, err := cleanAlbumPath(path)
	if err != nil {
		return model.Album{}, err
	}

	count, err := c.store.CountAlbums(ctx)
	if err != nil {
		return model.Album{}, fmt.Errorf("count albums: %w", err)
	}
	if count >= c.maxAlbums {
		return model.Album{}, fmt.Errorf("%w: at most %d albums", ErrCapacity, c.maxAlbums)
	}

	album, err := c.store.CreateAlbum(ctx, name, path)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Album{}, ErrDuplicateName
		}
		return model.Album{}, fmt.Errorf("create album: %w", err)
	}

	c.log.Info("album created", zap.Int64("album_id", album.ID), zap.String("name", name), zap.String("path", path))
	c.startScan(album.ID, album.Path, model.ScanModeFull)
	return album, nil
}

// UpdateAlbum renames an album and, when path is non-empty and differs from
// the stored one, drops its files and rescans the new location.
func (c *Catalog) UpdateAlbum(ctx context.Context, id int64, name, path string) (model.Album, error) {
	current, err := c.GetAlbum(ctx, id)
	if err != nil {
		return model.Album{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return model.Album{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if name != current.Name {
		other, exists, err := c.store.GetAlbumByName(ctx, name)
		if err != nil {
			return model.Album{}, fmt.Errorf("lookup album: %w", err)
		}
		if exists && other.ID != id {
			return model.Album{}, ErrDuplicateName
		}
	}

	newPath := current.Path
	if path = strings.TrimSpace(path); path != "" {
		if newPath, err = cleanAlbumPath(path); err != nil {
			return model.Album{}, err
		}
	}
	pathChanged := newPath != current.Path

	ok, err := c.store.UpdateAlbum(ctx, id, name, newPath)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Album{}, ErrDuplicateName
		}
		return model.Album{}, fmt.Errorf("update album: %w", err)
	}
	if !ok {
		return model.Album{}, ErrAlbumNotFound
	}

	if pathChanged {
		if _, err := c.store.DeleteAudioFilesByAlbum(ctx, id); err != nil {
			return model.Album{}, fmt.Errorf("clear album files: %w", err)
		}
		if err := c.store.SetAlbumScanStatus(ctx, id, model.ScanStatusScanning, ""); err != nil {
			return model.Album{}, fmt.Errorf("update scan status: %w", err)
		}
		c.log.Info("album moved", zap.Int64("album_id", id), zap.String("from", current.Path), zap.String("to", newPath))
		c.startScan(id, newPath, model.ScanModeFull)
	}

	return c.GetAlbum(ctx, id)
}

func (c *Catalog) DeleteAlbum(ctx context.Context, id int64) error {
	deleted, err := c.store.DeleteAlbum(ctx, id)
	if err != nil {
		return fmt.Errorf("delete album: %w", err)
	}
	if !deleted {
		return ErrAlbumNotFound
	}
	c.scanner.forget(id)
	c.log.Info("album deleted", zap.Int64("album_id", id))
	return nil
}

func (c *Catalog) GetAlbum(ctx context.Context, id int64) (model.Album, error) {
	album, ok, err := c.store.GetAlbum(ctx, id)
	if err != nil {
		return model.Album{}, fmt.Errorf("get album: %w", err)
	}
	if !ok {
		return model.Album{}, ErrAlbumNotFound
	}
	return album, nil
}

// ListAlbums returns all albums, newest first, with their audio counts.
func (c *Catalog) ListAlbums(ctx context.Context) ([]model.Album, error) {
	albums, err := c.store.ListAlbums(ctx)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	return albums, nil
}

// ListAudioFiles returns the album's files in natural filename order.
func (c *Catalog) ListAudioFiles(ctx context.Context, albumID int64) ([]model.AudioFile, error) {
	if albumID <= 0 {
		return nil, fmt.Errorf("%w: album id is required", ErrValidation)
	}
	files, err := c.store.ListAudioFiles(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("list audio files: %w", err)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return NaturalLess(files[i].Filename, files[j].Filename)
	})
	return files, nil
}

// RescanAlbum starts an incremental scan that keeps unchanged files and
// their play history.
func (c *Catalog) RescanAlbum(ctx context.Context, id int64) (model.Album, error) {
	album, err := c.GetAlbum(ctx, id)
	if err != nil {
		return model.Album{}, err
	}
	if err := c.store.SetAlbumScanStatus(ctx, id, model.ScanStatusScanning, ""); err != nil {
		return model.Album{}, fmt.Errorf("update scan status: %w", err)
	}
	album.ScanStatus = model.ScanStatusScanning
	album.ScanError = ""
	c.startScan(album.ID, album.Path, model.ScanModeSync)
	return album, nil
}

func (c *Catalog) ListScanRuns(ctx context.Context, id int64, limit int) ([]model.ScanRun, error) {
	if _, err := c.GetAlbum(ctx, id); err != nil {
		return nil, err
	}
	runs, err := c.store.ListScanRuns(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	return runs, nil
}

// ScanNow runs a scan synchronously. Used by the CLI.
func (c *Catalog) ScanNow(ctx context.Context, id int64, mode string) (ScanResult, error) {
	album, err := c.GetAlbum(ctx, id)
	if err != nil {
		return ScanResult{}, err
	}
	if err := c.store.SetAlbumScanStatus(ctx, id, model.ScanStatusScanning, ""); err != nil {
		return ScanResult{}, fmt.Errorf("update scan status: %w", err)
	}
	return c.scanner.Scan(ctx, album.ID, album.Path, mode)
}

func (c *Catalog) startScan(id int64, path, mode string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// Errors are recorded on the album and in its scan run.
		_, _ = c.scanner.Scan(c.ctx, id, path, mode)
	}()
}

// Wait blocks until every background scan has returned.
func (c *Catalog) Wait() {
	c.wg.Wait()
}

// Close cancels running scans and waits for them.
func (c *Catalog) Close() {
	c.cancel()
	c.wg.Wait()
}

func cleanAlbumPath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %s is not absolute", ErrInvalidPath, path)
	}
	path = filepath.Clean(path)
	if err := checkDir(path); err != nil {
		return "", err
	}
	return path, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
