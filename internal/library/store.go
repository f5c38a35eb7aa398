package library

import (
	"context"
	"time"

	"github.com/lzcstory/lzcstory/internal/model"
)

// Store defines the storage operations used by the catalog and scanner.
type Store interface {
	CreateAlbum(ctx context.Context, name, path string) (model.Album, error)
	GetAlbum(ctx context.Context, id int64) (model.Album, bool, error)
	GetAlbumByName(ctx context.Context, name string) (model.Album, bool, error)
	ListAlbums(ctx context.Context) ([]model.Album, error)
	CountAlbums(ctx context.Context) (int, error)
	UpdateAlbum(ctx context.Context, id int64, name, path string) (bool, error)
	SetAlbumScanStatus(ctx context.Context, id int64, status, scanError string) error
	DeleteAlbum(ctx context.Context, id int64) (bool, error)

	ListAudioFiles(ctx context.Context, albumID int64) ([]model.AudioFile, error)
	InsertAudioFiles(ctx context.Context, albumID int64, files []model.AudioFile) error
	ReplaceAudioFiles(ctx context.Context, albumID int64, files []model.AudioFile) error
	DeleteAudioFilesByAlbum(ctx context.Context, albumID int64) (int64, error)
	DeleteAudioFiles(ctx context.Context, ids []int64) error
	MoveAudioFile(ctx context.Context, id int64, file model.AudioFile) error

	StartScanRun(ctx context.Context, albumID int64, mode string, startedAt time.Time) (model.ScanRun, error)
	FinishScanRun(ctx context.Context, id string, finishedAt time.Time, filesFound int) error
	FailScanRun(ctx context.Context, id string, finishedAt time.Time, filesFound int, errMsg string) error
	ListScanRuns(ctx context.Context, albumID int64, limit int) ([]model.ScanRun, error)
}
