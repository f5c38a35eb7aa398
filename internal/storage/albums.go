package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lzcstory/lzcstory/internal/model"
)

const albumSelect = `
	SELECT a.id, a.name, a.path, a.scan_status, a.scan_error, a.created_at, a.updated_at,
		(SELECT COUNT(*) FROM audio_files f WHERE f.album_id = a.id) AS audio_count
	FROM albums a`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlbum(row rowScanner) (model.Album, error) {
	var (
		album     model.Album
		scanError sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&album.ID,
		&album.Name,
		&album.Path,
		&album.ScanStatus,
		&scanError,
		&createdAt,
		&updatedAt,
		&album.AudioCount,
	); err != nil {
		return model.Album{}, err
	}
	album.ScanError = scanError.String
	album.CreatedAt = unixTime(createdAt)
	album.UpdatedAt = unixTime(updatedAt)
	return album, nil
}

// CreateAlbum inserts an album in the scanning state.
func (s *Store) CreateAlbum(ctx context.Context, name, path string) (model.Album, error) {
	record, err := s.Insert(ctx, "albums", Record{
		"name":        name,
		"path":        path,
		"scan_status": model.ScanStatusScanning,
	})
	if err != nil {
		return model.Album{}, err
	}
	created := unixTime(record["created_at"].(int64))
	return model.Album{
		ID:         record["id"].(int64),
		Name:       name,
		Path:       path,
		ScanStatus: model.ScanStatusScanning,
		CreatedAt:  created,
		UpdatedAt:  created,
	}, nil
}

func (s *Store) GetAlbum(ctx context.Context, id int64) (model.Album, bool, error) {
	if s == nil || s.db == nil {
		return model.Album{}, false, errMissingDB
	}
	album, err := scanAlbum(s.db.QueryRowContext(ctx, albumSelect+` WHERE a.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Album{}, false, nil
		}
		return model.Album{}, false, err
	}
	return album, true, nil
}

func (s *Store) GetAlbumByName(ctx context.Context, name string) (model.Album, bool, error) {
	if s == nil || s.db == nil {
		return model.Album{}, false, errMissingDB
	}
	album, err := scanAlbum(s.db.QueryRowContext(ctx, albumSelect+` WHERE a.name = ?`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Album{}, false, nil
		}
		return model.Album{}, false, err
	}
	return album, true, nil
}

// ListAlbums returns every album, newest first.
func (s *Store) ListAlbums(ctx context.Context) ([]model.Album, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}
	rows, err := s.db.QueryContext(ctx, albumSelect+` ORDER BY a.created_at DESC, a.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	albums := []model.Album{}
	for rows.Next() {
		album, err := scanAlbum(rows)
		if err != nil {
			return nil, err
		}
		albums = append(albums, album)
	}
	return albums, rows.Err()
}

func (s *Store) CountAlbums(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errMissingDB
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM albums`).Scan(&count)
	return count, err
}

// UpdateAlbum renames and relocates an album. It reports whether the album
// exists.
func (s *Store) UpdateAlbum(ctx context.Context, id int64, name, path string) (bool, error) {
	return s.Update(ctx, "albums", id, Record{"name": name, "path": path})
}

func (s *Store) SetAlbumScanStatus(ctx context.Context, id int64, status, scanError string) error {
	_, err := s.Update(ctx, "albums", id, Record{
		"scan_status": status,
		"scan_error":  nullString(scanError),
	})
	return err
}

// DeleteAlbum removes an album and everything it owns in one transaction.
// Children are deleted explicitly so the result does not depend on the
// foreign_keys pragma.
func (s *Store) DeleteAlbum(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, query := range []string{
			`DELETE FROM play_history WHERE album_id = ?`,
			`DELETE FROM audio_files WHERE album_id = ?`,
			`DELETE FROM scan_runs WHERE album_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, query, id); err != nil {
				return err
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM albums WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		deleted = affected > 0
		return nil
	})
	return deleted, err
}
