package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lzcstory/lzcstory/internal/model"
)

// PasswordHash returns the stored admin hash. ok is false when no non-empty
// hash exists.
func (s *Store) PasswordHash(ctx context.Context) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errMissingDB
	}
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM admin_config WHERE id = 1`).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return hash, hash != "", nil
}

// InitPasswordHash stores hash only when no non-empty hash exists yet. It
// reports whether the hash was written.
func (s *Store) InitPasswordHash(ctx context.Context, hash string) (bool, error) {
	now := s.now().Unix()
	affected, err := s.ExecSQL(ctx, `
		INSERT INTO admin_config (id, password_hash, created_at, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			password_hash=excluded.password_hash,
			updated_at=excluded.updated_at
		WHERE admin_config.password_hash = ''
	`, hash, now, now)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetPasswordHash overwrites the admin hash unconditionally.
func (s *Store) SetPasswordHash(ctx context.Context, hash string) error {
	now := s.now().Unix()
	_, err := s.ExecSQL(ctx, `
		INSERT INTO admin_config (id, password_hash, created_at, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			password_hash=excluded.password_hash,
			updated_at=excluded.updated_at
	`, hash, now, now)
	return err
}

func (s *Store) CreateSession(ctx context.Context, token string, createdAt, expiresAt time.Time) (model.AdminSession, error) {
	record, err := s.Insert(ctx, "admin_sessions", Record{
		"token":      token,
		"created_at": createdAt.Unix(),
		"expires_at": expiresAt.Unix(),
	})
	if err != nil {
		return model.AdminSession{}, err
	}
	return model.AdminSession{
		ID:        record["id"].(int64),
		Token:     token,
		CreatedAt: time.Unix(createdAt.Unix(), 0),
		ExpiresAt: time.Unix(expiresAt.Unix(), 0),
	}, nil
}

func (s *Store) GetSession(ctx context.Context, token string) (model.AdminSession, bool, error) {
	if s == nil || s.db == nil {
		return model.AdminSession{}, false, errMissingDB
	}
	var (
		session   model.AdminSession
		createdAt int64
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token, created_at, expires_at
		FROM admin_sessions
		WHERE token = ?
	`, token).Scan(&session.ID, &session.Token, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AdminSession{}, false, nil
		}
		return model.AdminSession{}, false, err
	}
	session.CreatedAt = unixTime(createdAt)
	session.ExpiresAt = unixTime(expiresAt)
	return session, true, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) (bool, error) {
	affected, err := s.ExecSQL(ctx, `DELETE FROM admin_sessions WHERE token = ?`, token)
	return affected > 0, err
}

// DeleteExpiredSessions removes sessions whose expiry is at or before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.ExecSQL(ctx, `DELETE FROM admin_sessions WHERE expires_at <= ?`, now.Unix())
}

func (s *Store) DeleteAllSessions(ctx context.Context) (int64, error) {
	return s.ExecSQL(ctx, `DELETE FROM admin_sessions`)
}
