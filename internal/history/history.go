package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/model"
)

var (
	ErrValidation = errors.New("invalid play history input")
	ErrNotFound   = errors.New("audio file not found in album")
)

// RecentPerAlbum caps how many tracks ListRecent returns for one album.
const RecentPerAlbum = 3

// Store defines the storage operations used for play history.
type Store interface {
	GetAudioFile(ctx context.Context, id int64) (model.AudioFile, bool, error)
	UpsertPlay(ctx context.Context, albumID, audioFileID int64, playTime float64, playedAt time.Time) (model.PlayHistoryEntry, error)
	RecentPlays(ctx context.Context, perAlbum int) ([]model.RecentPlay, error)
}

// AlbumHistory groups the recent plays of one album.
type AlbumHistory struct {
	AlbumID      int64              `json:"album_id"`
	AlbumName    string             `json:"album_name"`
	LastPlayedAt time.Time          `json:"last_played_at"`
	Plays        []model.RecentPlay `json:"plays"`
}

type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now as the source of played_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordPlay stores the latest position of a track. Repeated calls for the
// same album and file overwrite the previous position.
func (s *Service) RecordPlay(ctx context.Context, albumID, audioFileID int64, playTime float64) (model.PlayHistoryEntry, error) {
	if albumID <= 0 || audioFileID <= 0 {
		return model.PlayHistoryEntry{}, fmt.Errorf("%w: albumId and audioFileId are required", ErrValidation)
	}
	if playTime < 0 || math.IsNaN(playTime) || math.IsInf(playTime, 0) {
		return model.PlayHistoryEntry{}, fmt.Errorf("%w: playTime must be a non-negative number", ErrValidation)
	}

	file, ok, err := s.store.GetAudioFile(ctx, audioFileID)
	if err != nil {
		return model.PlayHistoryEntry{}, fmt.Errorf("get audio file: %w", err)
	}
	if !ok || file.AlbumID != albumID {
		return model.PlayHistoryEntry{}, ErrNotFound
	}

	entry, err := s.store.UpsertPlay(ctx, albumID, audioFileID, playTime, s.now())
	if err != nil {
		return model.PlayHistoryEntry{}, fmt.Errorf("record play: %w", err)
	}
	s.log.Debug("play recorded",
		zap.Int64("album_id", albumID),
		zap.Int64("audio_file_id", audioFileID),
		zap.Float64("play_time", playTime),
	)
	return entry, nil
}

// ListRecent returns at most RecentPerAlbum plays per album. Albums come in
// order of their latest play and so do the plays inside each album.
func (s *Service) ListRecent(ctx context.Context) ([]model.RecentPlay, error) {
	plays, err := s.store.RecentPlays(ctx, RecentPerAlbum)
	if err != nil {
		return nil, fmt.Errorf("list recent plays: %w", err)
	}
	return plays, nil
}

// ListRecentByAlbum is ListRecent grouped per album.
func (s *Service) ListRecentByAlbum(ctx context.Context) ([]AlbumHistory, error) {
	plays, err := s.ListRecent(ctx)
	if err != nil {
		return nil, err
	}

	groups := []AlbumHistory{}
	for _, play := range plays {
		if n := len(groups); n > 0 && groups[n-1].AlbumID == play.AlbumID {
			groups[n-1].Plays = append(groups[n-1].Plays, play)
			continue
		}
		groups = append(groups, AlbumHistory{
			AlbumID:      play.AlbumID,
			AlbumName:    play.AlbumName,
			LastPlayedAt: play.PlayedAt,
			Plays:        []model.RecentPlay{play},
		})
	}
	return groups, nil
}
