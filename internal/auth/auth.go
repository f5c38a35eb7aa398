package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lzcstory/lzcstory/internal/model"
)

var (
	ErrValidation         = errors.New("password is required")
	ErrNotSet             = errors.New("admin password is not set")
	ErrAlreadySet         = errors.New("admin password is already set")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// PasswordCost is the bcrypt cost used for the admin password.
const PasswordCost = 10

// SessionCacheTTL bounds how long a validated session is trusted without a
// database lookup. Sessions revoked by another process, such as
// "lzcstory password reset", stop working within this window.
const SessionCacheTTL = 10 * time.Second

// Store defines the interface for authentication storage
type Store interface {
	PasswordHash(ctx context.Context) (string, bool, error)
	InitPasswordHash(ctx context.Context, hash string) (bool, error)
	SetPasswordHash(ctx context.Context, hash string) error

	CreateSession(ctx context.Context, token string, createdAt, expiresAt time.Time) (model.AdminSession, error)
	GetSession(ctx context.Context, token string) (model.AdminSession, bool, error)
	DeleteSession(ctx context.Context, token string) (bool, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	DeleteAllSessions(ctx context.Context) (int64, error)
}

// Manager handles the admin password and its sessions
type Manager struct {
	store           Store
	sessionDuration time.Duration
	sessionCache    *SessionCache
	log             *zap.Logger
	now             func() time.Time
}

// NewManager creates a new authentication manager
func NewManager(store Store, sessionDuration time.Duration, log *zap.Logger) *Manager {
	if sessionDuration <= 0 {
		sessionDuration = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:           store,
		sessionDuration: sessionDuration,
		sessionCache:    NewSessionCache(SessionCacheTTL),
		log:             log,
		now:             time.Now,
	}
}

// SessionDuration is the lifetime of a new session.
func (m *Manager) SessionDuration() time.Duration {
	return m.sessionDuration
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateToken generates a secure random token
func GenerateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Status reports whether an admin password has been set.
func (m *Manager) Status(ctx context.Context) (bool, error) {
	_, ok, err := m.store.PasswordHash(ctx)
	return ok, err
}

// SetPassword stores the first admin password. It fails once a password
// exists; use ResetPassword to replace it.
func (m *Manager) SetPassword(ctx context.Context, password string) error {
	if password == "" {
		return ErrValidation
	}
	if _, ok, err := m.store.PasswordHash(ctx); err != nil {
		return err
	} else if ok {
		return ErrAlreadySet
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	written, err := m.store.InitPasswordHash(ctx, hash)
	if err != nil {
		return err
	}
	if !written {
		return ErrAlreadySet
	}
	m.log.Info("admin password set")
	return nil
}

// VerifyPassword checks the password and opens a new session
func (m *Manager) VerifyPassword(ctx context.Context, password string) (model.AdminSession, error) {
	if password == "" {
		return model.AdminSession{}, ErrValidation
	}
	hash, ok, err := m.store.PasswordHash(ctx)
	if err != nil {
		return model.AdminSession{}, err
	}
	if !ok {
		return model.AdminSession{}, ErrNotSet
	}
	if !CheckPassword(password, hash) {
		m.log.Warn("admin password rejected")
		return model.AdminSession{}, ErrInvalidCredentials
	}

	token, err := GenerateToken()
	if err != nil {
		return model.AdminSession{}, err
	}
	now := m.now()
	if _, err := m.PurgeExpired(ctx); err != nil {
		m.log.Warn("purge expired sessions failed", zap.Error(err))
	}
	session, err := m.store.CreateSession(ctx, token, now, now.Add(m.sessionDuration))
	if err != nil {
		return model.AdminSession{}, err
	}

	m.sessionCache.Set(session, now)
	m.log.Info("admin session created", zap.Time("expires_at", session.ExpiresAt))
	return session, nil
}

// ValidateSession reports whether token belongs to a live session. An
// expired session is deleted on the spot.
func (m *Manager) ValidateSession(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	now := m.now()
	if session, found := m.sessionCache.Get(token, now); found && now.Before(session.ExpiresAt) {
		return true, nil
	}

	session, ok, err := m.store.GetSession(ctx, token)
	if err != nil {
		return false, err
	}
	if !ok {
		m.sessionCache.Delete(token)
		return false, nil
	}
	if !now.Before(session.ExpiresAt) {
		m.sessionCache.Delete(token)
		if _, err := m.store.DeleteSession(ctx, token); err != nil {
			return false, err
		}
		return false, nil
	}

	m.sessionCache.Set(session, now)
	return true, nil
}

// Logout invalidates a session
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	m.sessionCache.Delete(token)
	_, err := m.store.DeleteSession(ctx, token)
	return err
}

// ResetPassword replaces the admin password and revokes every session.
func (m *Manager) ResetPassword(ctx context.Context, password string) (int64, error) {
	if password == "" {
		return 0, ErrValidation
	}
	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}
	if err := m.store.SetPasswordHash(ctx, hash); err != nil {
		return 0, err
	}
	m.sessionCache.Clear()
	revoked, err := m.store.DeleteAllSessions(ctx)
	if err != nil {
		return 0, err
	}
	m.log.Info("admin password reset", zap.Int64("sessions_revoked", revoked))
	return revoked, nil
}

// PurgeExpired removes expired sessions
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredSessions(ctx, m.now())
}

// Close stops the session cache cleanup loop.
func (m *Manager) Close() {
	m.sessionCache.Close()
}
