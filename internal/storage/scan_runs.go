package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lzcstory/lzcstory/internal/model"
)

func (s *Store) StartScanRun(ctx context.Context, albumID int64, mode string, startedAt time.Time) (model.ScanRun, error) {
	run := model.ScanRun{
		ID:        uuid.NewString(),
		AlbumID:   albumID,
		Mode:      mode,
		StartedAt: time.Unix(startedAt.Unix(), 0),
		Status:    model.ScanRunRunning,
	}
	if _, err := s.Insert(ctx, "scan_runs", Record{
		"id":         run.ID,
		"album_id":   albumID,
		"mode":       mode,
		"started_at": startedAt.Unix(),
		"status":     run.Status,
	}); err != nil {
		return model.ScanRun{}, err
	}
	return run, nil
}

func (s *Store) FinishScanRun(ctx context.Context, id string, finishedAt time.Time, filesFound int) error {
	_, err := s.Update(ctx, "scan_runs", id, Record{
		"finished_at": finishedAt.Unix(),
		"status":      model.ScanRunSuccess,
		"files_found": filesFound,
	})
	return err
}

func (s *Store) FailScanRun(ctx context.Context, id string, finishedAt time.Time, filesFound int, errMsg string) error {
	_, err := s.Update(ctx, "scan_runs", id, Record{
		"finished_at": finishedAt.Unix(),
		"status":      model.ScanRunFailed,
		"files_found": filesFound,
		"error":       nullString(errMsg),
	})
	return err
}

// ListScanRuns returns the album's most recent runs first.
func (s *Store) ListScanRuns(ctx context.Context, albumID int64, limit int) ([]model.ScanRun, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, album_id, mode, started_at, finished_at, status, files_found, error
		FROM scan_runs
		WHERE album_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, albumID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []model.ScanRun{}
	for rows.Next() {
		var (
			run        model.ScanRun
			startedAt  int64
			finishedAt sql.NullInt64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.AlbumID, &run.Mode, &startedAt, &finishedAt, &run.Status, &run.FilesFound, &errMsg); err != nil {
			return nil, err
		}
		run.StartedAt = unixTime(startedAt)
		if finishedAt.Valid {
			run.FinishedAt = unixTime(finishedAt.Int64)
		}
		run.Error = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
