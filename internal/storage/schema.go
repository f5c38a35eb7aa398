package storage

import "fmt"

const schemaAlbums = `
CREATE TABLE IF NOT EXISTS albums (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	path TEXT NOT NULL,
	scan_status TEXT NOT NULL DEFAULT 'ready',
	scan_error TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

const schemaAlbumsIndexes = `
CREATE INDEX IF NOT EXISTS idx_albums_created_at ON albums(created_at DESC);`

const schemaAudioFiles = `
CREATE TABLE IF NOT EXISTS audio_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	album_id INTEGER NOT NULL,
	filename TEXT NOT NULL,
	filepath TEXT NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	duration REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(album_id, filepath),
	FOREIGN KEY (album_id) REFERENCES albums(id) ON DELETE CASCADE
);`

const schemaAudioFilesIndexes = `
CREATE INDEX IF NOT EXISTS idx_audio_files_album_id ON audio_files(album_id);`

const schemaPlayHistory = `
CREATE TABLE IF NOT EXISTS play_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	album_id INTEGER NOT NULL,
	audio_file_id INTEGER NOT NULL,
	played_at INTEGER NOT NULL,
	play_time REAL NOT NULL DEFAULT 0 CHECK (play_time >= 0),
	created_at INTEGER NOT NULL,
	updated_at INTEGER,
	UNIQUE(album_id, audio_file_id),
	FOREIGN KEY (album_id) REFERENCES albums(id) ON DELETE CASCADE,
	FOREIGN KEY (audio_file_id) REFERENCES audio_files(id) ON DELETE CASCADE
);`

const schemaPlayHistoryIndexes = `
CREATE INDEX IF NOT EXISTS idx_play_history_album_played ON play_history(album_id, played_at DESC);
CREATE INDEX IF NOT EXISTS idx_play_history_audio_file_id ON play_history(audio_file_id);`

const schemaAdminConfig = `
CREATE TABLE IF NOT EXISTS admin_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	password_hash TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER
);`

const schemaAdminSessions = `
CREATE TABLE IF NOT EXISTS admin_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	CHECK (expires_at > created_at)
);`

const schemaAdminSessionsIndexes = `
CREATE INDEX IF NOT EXISTS idx_admin_sessions_expires_at ON admin_sessions(expires_at);`

const schemaScanRuns = `
CREATE TABLE IF NOT EXISTS scan_runs (
	id TEXT PRIMARY KEY,
	album_id INTEGER NOT NULL,
	mode TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	status TEXT NOT NULL,
	files_found INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	FOREIGN KEY (album_id) REFERENCES albums(id) ON DELETE CASCADE
);`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY
);`

type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			schemaAlbums,
			schemaAlbumsIndexes,
			schemaAudioFiles,
			schemaAudioFilesIndexes,
			schemaPlayHistory,
			schemaPlayHistoryIndexes,
			schemaAdminConfig,
			schemaAdminSessions,
			schemaAdminSessionsIndexes,
		},
	},
	{
		version: 2,
		statements: []string{
			schemaScanRuns,
			`CREATE INDEX IF NOT EXISTS idx_scan_runs_album_started ON scan_runs(album_id, started_at DESC);`,
			`ALTER TABLE audio_files ADD COLUMN title TEXT;`,
			`ALTER TABLE audio_files ADD COLUMN track_number INTEGER;`,
			`ALTER TABLE audio_files ADD COLUMN format TEXT;`,
			`ALTER TABLE audio_files ADD COLUMN file_key TEXT;`,
			`CREATE INDEX IF NOT EXISTS idx_audio_files_file_key ON audio_files(file_key);`,
		},
	},
	{
		// play_seq orders plays that share a played_at second.
		version: 3,
		statements: []string{
			`ALTER TABLE play_history ADD COLUMN play_seq INTEGER NOT NULL DEFAULT 0;`,
			`UPDATE play_history SET play_seq = id;`,
		},
	},
}

func (s *Store) EnsureSchema() error {
	return s.MigrateSchema()
}

func (s *Store) MigrateSchema() error {
	if s == nil || s.db == nil {
		return errMissingDB
	}

	if _, err := s.db.Exec(schemaMigrations); err != nil {
		return fmt.Errorf("storage: create schema_migrations table: %w", err)
	}

	current, err := s.currentSchemaVersion()
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.version <= current {
			continue
		}
		if err := s.applyMigration(migration); err != nil {
			return err
		}
		current = migration.version
	}

	return nil
}

func (s *Store) currentSchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("storage: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) applyMigration(migration migration) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: start migration %d: %w", migration.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, statement := range migration.statements {
		if _, err = tx.Exec(statement); err != nil {
			return fmt.Errorf("storage: migration %d failed: %w", migration.version, err)
		}
	}

	if _, err = tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, migration.version); err != nil {
		return fmt.Errorf("storage: record migration %d: %w", migration.version, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit migration %d: %w", migration.version, err)
	}
	return nil
}
