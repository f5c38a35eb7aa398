package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lzcstory/lzcstory/internal/model"
)

const audioFileSelect = `
	SELECT f.id, f.album_id, a.name, f.filename, f.filepath, f.file_size, f.duration,
		f.title, f.track_number, f.format, f.file_key, f.created_at
	FROM audio_files f
	JOIN albums a ON a.id = f.album_id`

func scanAudioFile(row rowScanner) (model.AudioFile, error) {
	var (
		file        model.AudioFile
		title       sql.NullString
		trackNumber sql.NullInt64
		format      sql.NullString
		fileKey     sql.NullString
		createdAt   int64
	)
	if err := row.Scan(
		&file.ID,
		&file.AlbumID,
		&file.AlbumName,
		&file.Filename,
		&file.Filepath,
		&file.FileSize,
		&file.Duration,
		&title,
		&trackNumber,
		&format,
		&fileKey,
		&createdAt,
	); err != nil {
		return model.AudioFile{}, err
	}
	file.Title = title.String
	file.TrackNumber = int(trackNumber.Int64)
	file.Format = format.String
	file.FileKey = fileKey.String
	file.CreatedAt = unixTime(createdAt)
	return file, nil
}

// InsertAudioFiles stores a batch of scanned files for one album. Rows that
// already exist for the same path are refreshed in place.
func (s *Store) InsertAudioFiles(ctx context.Context, albumID int64, files []model.AudioFile) error {
	if len(files) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertAudioFilesTx(ctx, tx, albumID, files)
	})
}

func (s *Store) insertAudioFilesTx(ctx context.Context, tx *sql.Tx, albumID int64, files []model.AudioFile) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audio_files (album_id, filename, filepath, file_size, duration, title, track_number, format, file_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(album_id, filepath) DO UPDATE SET
			filename=excluded.filename,
			file_size=excluded.file_size,
			duration=excluded.duration,
			title=excluded.title,
			track_number=excluded.track_number,
			format=excluded.format,
			file_key=excluded.file_key
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.now().Unix()
	for _, file := range files {
		var track sql.NullInt64
		if file.TrackNumber > 0 {
			track = sql.NullInt64{Int64: int64(file.TrackNumber), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			albumID,
			file.Filename,
			file.Filepath,
			file.FileSize,
			file.Duration,
			nullString(file.Title),
			track,
			nullString(file.Format),
			nullString(file.FileKey),
			now,
		); err != nil {
			return fmt.Errorf("insert %s: %w", file.Filepath, err)
		}
	}
	return nil
}

// ReplaceAudioFiles drops every file of the album, together with its play
// history, and stores files instead.
func (s *Store) ReplaceAudioFiles(ctx context.Context, albumID int64, files []model.AudioFile) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := deleteAlbumFilesTx(ctx, tx, albumID); err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		return s.insertAudioFilesTx(ctx, tx, albumID, files)
	})
}

func deleteAlbumFilesTx(ctx context.Context, tx *sql.Tx, albumID int64) (int64, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM play_history WHERE album_id = ?`, albumID); err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM audio_files WHERE album_id = ?`, albumID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteAudioFilesByAlbum removes the album's files and the play history that
// points at them.
func (s *Store) DeleteAudioFilesByAlbum(ctx context.Context, albumID int64) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = deleteAlbumFilesTx(ctx, tx, albumID)
		return err
	})
	return removed, err
}

// DeleteAudioFiles removes the given files and their play history.
func (s *Store) DeleteAudioFiles(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM play_history WHERE audio_file_id IN (%s)", in), args...); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM audio_files WHERE id IN (%s)", in), args...)
		return err
	})
}

// MoveAudioFile points an existing row at a new location, keeping its id and
// therefore its play history.
func (s *Store) MoveAudioFile(ctx context.Context, id int64, file model.AudioFile) error {
	_, err := s.Update(ctx, "audio_files", id, Record{
		"filename":  file.Filename,
		"filepath":  file.Filepath,
		"file_size": file.FileSize,
		"duration":  file.Duration,
		"format":    nullString(file.Format),
		"file_key":  nullString(file.FileKey),
	})
	return err
}

// ListAudioFiles returns the album's files in insertion order. Callers sort.
func (s *Store) ListAudioFiles(ctx context.Context, albumID int64) ([]model.AudioFile, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}
	rows, err := s.db.QueryContext(ctx, audioFileSelect+` WHERE f.album_id = ? ORDER BY f.id`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []model.AudioFile{}
	for rows.Next() {
		file, err := scanAudioFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (s *Store) GetAudioFile(ctx context.Context, id int64) (model.AudioFile, bool, error) {
	if s == nil || s.db == nil {
		return model.AudioFile{}, false, errMissingDB
	}
	file, err := scanAudioFile(s.db.QueryRowContext(ctx, audioFileSelect+` WHERE f.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AudioFile{}, false, nil
		}
		return model.AudioFile{}, false, err
	}
	return file, true, nil
}
