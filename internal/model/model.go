package model

import "time"

// Scan states exposed on an album.
const (
	ScanStatusScanning = "scanning"
	ScanStatusReady    = "ready"
	ScanStatusFailed   = "failed"
)

// Scan run states and modes.
const (
	ScanRunRunning = "running"
	ScanRunSuccess = "success"
	ScanRunFailed  = "failed"

	ScanModeFull = "full"
	ScanModeSync = "sync"
)

type Album struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	ScanStatus string    `json:"scan_status"`
	ScanError  string    `json:"scan_error,omitempty"`
	AudioCount int       `json:"audio_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AudioFile struct {
	ID          int64     `json:"id"`
	AlbumID     int64     `json:"album_id"`
	AlbumName   string    `json:"album_name,omitempty"`
	Filename    string    `json:"filename"`
	Filepath    string    `json:"filepath"`
	FileSize    int64     `json:"file_size"`
	Duration    float64   `json:"duration"`
	Title       string    `json:"title,omitempty"`
	TrackNumber int       `json:"track_number,omitempty"`
	Format      string    `json:"format,omitempty"`
	FileKey     string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// PlayHistoryEntry is the latest known position for one track of an album.
type PlayHistoryEntry struct {
	ID          int64     `json:"id"`
	AlbumID     int64     `json:"album_id"`
	AudioFileID int64     `json:"audio_file_id"`
	PlayedAt    time.Time `json:"played_at"`
	PlayTime    float64   `json:"play_time"`
}

// RecentPlay is a history entry joined with its album and file.
type RecentPlay struct {
	ID          int64     `json:"id"`
	AlbumID     int64     `json:"album_id"`
	AlbumName   string    `json:"album_name"`
	AudioFileID int64     `json:"audio_file_id"`
	Filename    string    `json:"filename"`
	Filepath    string    `json:"filepath"`
	PlayedAt    time.Time `json:"played_at"`
	PlayTime    float64   `json:"play_time"`
}

type AdminSession struct {
	ID        int64     `json:"id"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ScanRun struct {
	ID         string    `json:"id"`
	AlbumID    int64     `json:"album_id"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Status     string    `json:"status"`
	FilesFound int       `json:"files_found"`
	Error      string    `json:"error,omitempty"`
}
