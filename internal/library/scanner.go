package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/model"
)

// AudioExtensions is the set of file extensions recorded by a scan.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
	".flac": true,
	".ogg":  true,
}

// IsAudioFile reports whether name has an allowed audio extension.
func IsAudioFile(name string) bool {
	return AudioExtensions[strings.ToLower(filepath.Ext(name))]
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Found   int
	Added   int
	Removed int
	Moved   int
	Updated int
}

// DurationProber measures the playing time of an audio file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

type Scanner struct {
	store  Store
	log    *zap.Logger
	now    func() time.Time
	prober DurationProber

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

type ScannerOption func(*Scanner)

// WithDurationProber fills AudioFile.Duration during scans. Without a prober
// durations stay 0.
func WithDurationProber(p DurationProber) ScannerOption {
	return func(s *Scanner) {
		s.prober = p
	}
}

func NewScanner(store Store, log *zap.Logger, opts ...ScannerOption) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scanner{
		store: store,
		log:   log,
		now:   time.Now,
		locks: map[int64]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockAlbum serializes scans of one album. Scans of different albums do not
// block each other.
func (s *Scanner) lockAlbum(id int64) func() {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// forget drops the scan lock of a deleted album.
func (s *Scanner) forget(id int64) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// Scan walks root and records its audio files for the album. A full scan
// replaces every stored file; a sync scan applies only the difference. On a
// walk error the files collected so far are still stored and the album is
// marked failed. A failed sync scan removes nothing.
func (s *Scanner) Scan(ctx context.Context, albumID int64, root, mode string) (ScanResult, error) {
	unlock := s.lockAlbum(albumID)
	defer unlock()

	log := s.log.With(zap.Int64("album_id", albumID), zap.String("mode", mode), zap.String("root", root))
	started := s.now()
	log.Info("scan started")

	var runID string
	run, err := s.store.StartScanRun(ctx, albumID, mode, started)
	if err != nil {
		log.Warn("record scan run failed", zap.Error(err))
	} else {
		runID = run.ID
	}

	found, walkErr := collectAudioFiles(ctx, root)
	s.probeDurations(ctx, log, found)
	result := ScanResult{Found: len(found)}

	var persistErr error
	switch mode {
	case model.ScanModeSync:
		result, persistErr = s.sync(ctx, albumID, found, walkErr == nil)
	default:
		persistErr = s.store.ReplaceAudioFiles(ctx, albumID, found)
		result.Added = len(found)
	}

	scanErr := errors.Join(walkErr, persistErr)
	finished := s.now()
	if scanErr != nil {
		log.Error("scan failed",
			zap.Error(scanErr),
			zap.Int("files_found", result.Found),
			zap.Duration("took", finished.Sub(started)),
		)
		if err := s.store.SetAlbumScanStatus(ctx, albumID, model.ScanStatusFailed, scanErr.Error()); err != nil {
			log.Warn("update album status failed", zap.Error(err))
		}
		if runID != "" {
			if err := s.store.FailScanRun(ctx, runID, finished, result.Found, scanErr.Error()); err != nil {
				log.Warn("record scan run failed", zap.Error(err))
			}
		}
		return result, scanErr
	}

	if err := s.store.SetAlbumScanStatus(ctx, albumID, model.ScanStatusReady, ""); err != nil {
		log.Warn("update album status failed", zap.Error(err))
	}
	if runID != "" {
		if err := s.store.FinishScanRun(ctx, runID, finished, result.Found); err != nil {
			log.Warn("record scan run failed", zap.Error(err))
		}
	}
	log.Info("scan finished",
		zap.Int("files_found", result.Found),
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed),
		zap.Int("moved", result.Moved),
		zap.Duration("took", finished.Sub(started)),
	)
	return result, nil
}

// sync applies the difference between the stored files and found. When the
// walk did not complete, files it never reached are kept rather than removed.
func (s *Scanner) sync(ctx context.Context, albumID int64, found []model.AudioFile, complete bool) (ScanResult, error) {
	existing, err := s.store.ListAudioFiles(ctx, albumID)
	if err != nil {
		return ScanResult{Found: len(found)}, err
	}

	plan := planSync(existing, found)
	if !complete {
		plan.remove = nil
	}
	result := ScanResult{
		Found:   len(found),
		Added:   len(plan.add),
		Removed: len(plan.remove),
		Moved:   len(plan.moves),
		Updated: len(plan.update),
	}

	if err := s.store.DeleteAudioFiles(ctx, plan.remove); err != nil {
		return result, err
	}
	for _, mv := range plan.moves {
		if err := s.store.MoveAudioFile(ctx, mv.id, mv.file); err != nil {
			return result, err
		}
	}
	save := append(plan.add, plan.update...)
	if err := s.store.InsertAudioFiles(ctx, albumID, save); err != nil {
		return result, err
	}
	return result, nil
}

type fileMove struct {
	id   int64
	file model.AudioFile
}

type syncPlan struct {
	add    []model.AudioFile
	update []model.AudioFile
	remove []int64
	moves  []fileMove
}

// planSync diffs stored files against a fresh walk by path. A vanished file
// and a new file sharing a file key count as a rename, so the stored row and
// its play history survive.
func planSync(existing, found []model.AudioFile) syncPlan {
	byPath := make(map[string]model.AudioFile, len(existing))
	for _, file := range existing {
		byPath[file.Filepath] = file
	}
	foundPaths := make(map[string]bool, len(found))
	for _, file := range found {
		foundPaths[file.Filepath] = true
	}

	vanishedByKey := map[string]model.AudioFile{}
	vanished := map[int64]bool{}
	for _, file := range existing {
		if foundPaths[file.Filepath] {
			continue
		}
		vanished[file.ID] = true
		if file.FileKey != "" {
			vanishedByKey[file.FileKey] = file
		}
	}

	var plan syncPlan
	for _, file := range found {
		prev, ok := byPath[file.Filepath]
		if ok {
			if !audioFileEqual(prev, file) {
				plan.update = append(plan.update, file)
			}
			continue
		}
		if file.FileKey != "" {
			if old, ok := vanishedByKey[file.FileKey]; ok {
				plan.moves = append(plan.moves, fileMove{id: old.ID, file: file})
				delete(vanishedByKey, file.FileKey)
				delete(vanished, old.ID)
				continue
			}
		}
		plan.add = append(plan.add, file)
	}

	for _, file := range existing {
		if vanished[file.ID] {
			plan.remove = append(plan.remove, file.ID)
		}
	}
	return plan
}

func audioFileEqual(a, b model.AudioFile) bool {
	return a.Filename == b.Filename &&
		a.FileSize == b.FileSize &&
		a.Title == b.Title &&
		a.TrackNumber == b.TrackNumber &&
		a.Format == b.Format &&
		a.FileKey == b.FileKey
}

// collectAudioFiles walks root depth-first, following symlinked directories.
// The walk stops at the first error; files found before it are returned
// along with the error.
func collectAudioFiles(ctx context.Context, root string) ([]model.AudioFile, error) {
	if err := checkDir(root); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	var found []model.AudioFile
	err = walkFollow(ctx, root, func(path string, info fs.FileInfo) error {
		if info.IsDir() || !IsAudioFile(path) {
			return nil
		}
		file := model.AudioFile{
			Filename: filepath.Base(path),
			Filepath: path,
			FileSize: info.Size(),
			FileKey:  fileKey(info),
		}
		probeTags(path, &file)
		found = append(found, file)
		return nil
	})
	if err != nil {
		return found, fmt.Errorf("scan %s: %w", root, err)
	}
	return found, nil
}

// probeTags fills title, track number and format from embedded tags. Files
// without readable tags keep the extension as their format.
func probeTags(path string, file *model.AudioFile) {
	file.Format = strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return
	}
	file.Title = strings.TrimSpace(meta.Title())
	file.TrackNumber, _ = meta.Track()
	if ft := string(meta.FileType()); ft != "" && meta.FileType() != tag.UnknownFileType {
		file.Format = ft
	}
}

func (s *Scanner) probeDurations(ctx context.Context, log *zap.Logger, files []model.AudioFile) {
	if s.prober == nil {
		return
	}
	for i := range files {
		if ctx.Err() != nil {
			return
		}
		d, err := s.prober.Duration(ctx, files[i].Filepath)
		if err != nil {
			log.Debug("probe duration failed", zap.String("path", files[i].Filepath), zap.Error(err))
			continue
		}
		files[i].Duration = d
	}
}

// checkDir fails with ErrInvalidPath unless path is an existing directory.
func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", ErrInvalidPath, path)
		}
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, path)
	}
	return nil
}
