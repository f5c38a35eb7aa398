package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db       *sql.DB
	readOnly bool
	now      func() time.Time
}

type Options struct {
	BusyTimeout time.Duration
	Synchronous string
	CacheSize   int
	ReadOnly    bool
}

// sqliteDSN builds a URI filename. Per-connection PRAGMAs go through the
// _pragma parameter so every pooled connection gets them.
func sqliteDSN(path string, options Options) (string, error) {
	if path == ":memory:" && options.ReadOnly {
		return "", fmt.Errorf("storage: read-only mode requires a file-backed database")
	}

	query := url.Values{}
	query.Add("_pragma", "foreign_keys(1)")
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", int(options.BusyTimeout/time.Millisecond)))
	query.Add("_pragma", "temp_store(MEMORY)")
	if options.CacheSize != 0 {
		query.Add("_pragma", fmt.Sprintf("cache_size(%d)", options.CacheSize))
	}
	if options.ReadOnly {
		query.Set("mode", "ro")
	} else {
		synchronous := strings.ToUpper(options.Synchronous)
		if synchronous == "" {
			synchronous = "NORMAL"
		}
		query.Add("_pragma", fmt.Sprintf("synchronous(%s)", synchronous))
	}

	name := strings.TrimPrefix(path, "file:")
	return "file:" + name + "?" + query.Encode(), nil
}

func Open(path string, options Options) (*Store, error) {
	if !options.ReadOnly && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
	}

	dsn, err := sqliteDSN(path, options)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if !options.ReadOnly {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, err
		}
		if _, err := db.Exec("PRAGMA journal_size_limit=67108864"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	store := &Store{db: db, readOnly: options.ReadOnly, now: time.Now}
	if !options.ReadOnly {
		if err := store.MigrateSchema(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ReadOnly() bool {
	if s == nil {
		return false
	}
	return s.readOnly
}

func (s *Store) checkWritable() error {
	if s == nil || s.db == nil {
		return errMissingDB
	}
	if s.readOnly {
		return errReadOnly
	}
	return nil
}

func (s *Store) IntegrityCheck(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}
	rows, err := s.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) Vacuum(ctx context.Context, target string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if target == "" {
		_, err := s.db.ExecContext(ctx, "VACUUM")
		return err
	}
	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", target)
	return err
}

func (s *Store) Analyze(ctx context.Context) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "ANALYZE")
	return err
}

// TableStats returns the row count of every application table.
func (s *Store) TableStats(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}
	stats := make(map[string]int64, len(tables))
	for name := range tables {
		var count int64
		// name comes from the fixed table registry.
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+name).Scan(&count); err != nil {
			return nil, fmt.Errorf("storage: count %s: %w", name, err)
		}
		stats[name] = count
	}
	return stats, nil
}

func unixTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullInt64FromTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
