package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lzcstory/lzcstory/internal/model"
)

// UpsertPlay stores the latest position for (albumID, audioFileID). An
// existing row keeps its id and gets the new position, time and a fresh
// play_seq, so it ranks ahead of plays written before it.
func (s *Store) UpsertPlay(ctx context.Context, albumID, audioFileID int64, playTime float64, playedAt time.Time) (model.PlayHistoryEntry, error) {
	if err := s.checkWritable(); err != nil {
		return model.PlayHistoryEntry{}, err
	}
	now := s.now().Unix()

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO play_history (album_id, audio_file_id, played_at, play_time, play_seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(play_seq), 0) + 1 FROM play_history), ?, ?)
		ON CONFLICT(album_id, audio_file_id) DO UPDATE SET
			played_at=excluded.played_at,
			play_time=excluded.play_time,
			play_seq=excluded.play_seq,
			updated_at=excluded.updated_at
		RETURNING id
	`, albumID, audioFileID, playedAt.Unix(), playTime, now, now).Scan(&id)
	if err != nil {
		return model.PlayHistoryEntry{}, err
	}

	return model.PlayHistoryEntry{
		ID:          id,
		AlbumID:     albumID,
		AudioFileID: audioFileID,
		PlayedAt:    time.Unix(playedAt.Unix(), 0),
		PlayTime:    playTime,
	}, nil
}

func (s *Store) GetPlay(ctx context.Context, albumID, audioFileID int64) (model.PlayHistoryEntry, bool, error) {
	if s == nil || s.db == nil {
		return model.PlayHistoryEntry{}, false, errMissingDB
	}
	var (
		entry    model.PlayHistoryEntry
		playedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, album_id, audio_file_id, played_at, play_time
		FROM play_history
		WHERE album_id = ? AND audio_file_id = ?
	`, albumID, audioFileID).Scan(&entry.ID, &entry.AlbumID, &entry.AudioFileID, &playedAt, &entry.PlayTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PlayHistoryEntry{}, false, nil
		}
		return model.PlayHistoryEntry{}, false, err
	}
	entry.PlayedAt = unixTime(playedAt)
	return entry, true, nil
}

// RecentPlays returns up to perAlbum entries per album. Albums are ordered
// by their latest play, entries inside an album by recency.
func (s *Store) RecentPlays(ctx context.Context, perAlbum int) ([]model.RecentPlay, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH ranked AS (
			SELECT
				h.id,
				h.album_id,
				h.audio_file_id,
				h.played_at,
				h.play_time,
				h.play_seq,
				ROW_NUMBER() OVER (PARTITION BY h.album_id ORDER BY h.played_at DESC, h.play_seq DESC) AS recency,
				MAX(h.played_at) OVER (PARTITION BY h.album_id) AS album_last_played,
				MAX(h.play_seq) OVER (PARTITION BY h.album_id) AS album_last_seq
			FROM play_history h
		)
		SELECT r.id, r.album_id, a.name, r.audio_file_id, f.filename, f.filepath, r.played_at, r.play_time
		FROM ranked r
		JOIN albums a ON a.id = r.album_id
		JOIN audio_files f ON f.id = r.audio_file_id
		WHERE r.recency <= ?
		ORDER BY r.album_last_played DESC, r.album_last_seq DESC, r.played_at DESC, r.play_seq DESC
	`, perAlbum)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plays := []model.RecentPlay{}
	for rows.Next() {
		var (
			play     model.RecentPlay
			playedAt int64
		)
		if err := rows.Scan(
			&play.ID,
			&play.AlbumID,
			&play.AlbumName,
			&play.AudioFileID,
			&play.Filename,
			&play.Filepath,
			&playedAt,
			&play.PlayTime,
		); err != nil {
			return nil, err
		}
		play.PlayedAt = unixTime(playedAt)
		plays = append(plays, play)
	}
	return plays, rows.Err()
}
