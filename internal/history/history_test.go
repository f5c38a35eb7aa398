package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/model"
	"github.com/lzcstory/lzcstory/internal/storage"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "history.db"), storage.Options{BusyTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	clock := &testClock{t: time.Unix(1700000000, 0)}
	return NewService(store, zap.NewNop(), WithClock(clock.now)), store
}

func seedAlbum(t *testing.T, store *storage.Store, name string, count int) (model.Album, []model.AudioFile) {
	t.Helper()
	ctx := context.Background()
	album, err := store.CreateAlbum(ctx, name, "/stories/"+name)
	if err != nil {
		t.Fatalf("CreateAlbum() error = %v", err)
	}
	files := make([]model.AudioFile, count)
	for i := range files {
		name := fmt.Sprintf("%02d.mp3", i+1)
		files[i] = model.AudioFile{Filename: name, Filepath: album.Path + "/" + name}
	}
	if err := store.InsertAudioFiles(ctx, album.ID, files); err != nil {
		t.Fatalf("InsertAudioFiles() error = %v", err)
	}
	stored, err := store.ListAudioFiles(ctx, album.ID)
	if err != nil {
		t.Fatalf("ListAudioFiles() error = %v", err)
	}
	return album, stored
}

func TestRecordPlayIsUpsert(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	album, files := seedAlbum(t, store, "fox", 1)

	var last model.PlayHistoryEntry
	for _, pos := range []float64{5, 61.5, 120} {
		entry, err := svc.RecordPlay(ctx, album.ID, files[0].ID, pos)
		if err != nil {
			t.Fatalf("RecordPlay(%v) error = %v", pos, err)
		}
		if last.ID != 0 && entry.ID != last.ID {
			t.Fatalf("RecordPlay() created a new row: %d -> %d", last.ID, entry.ID)
		}
		last = entry
	}

	rows, err := store.Get(ctx, "play_history", "album_id = ?", album.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0]["play_time"] != float64(120) {
		t.Fatalf("play_time = %v, want 120", rows[0]["play_time"])
	}
	if rows[0]["played_at"] != last.PlayedAt.Unix() {
		t.Fatalf("played_at = %v, want %d", rows[0]["played_at"], last.PlayedAt.Unix())
	}
}

func TestRecordPlayValidation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	album, files := seedAlbum(t, store, "a", 1)
	_, otherFiles := seedAlbum(t, store, "b", 1)

	tests := []struct {
		name     string
		albumID  int64
		fileID   int64
		playTime float64
		wantErr  error
	}{
		{name: "missing album", albumID: 0, fileID: files[0].ID, wantErr: ErrValidation},
		{name: "missing file", albumID: album.ID, fileID: 0, wantErr: ErrValidation},
		{name: "negative time", albumID: album.ID, fileID: files[0].ID, playTime: -1, wantErr: ErrValidation},
		{name: "unknown file", albumID: album.ID, fileID: 9999, wantErr: ErrNotFound},
		{name: "file of another album", albumID: album.ID, fileID: otherFiles[0].ID, wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.RecordPlay(ctx, tt.albumID, tt.fileID, tt.playTime); !errors.Is(err, tt.wantErr) {
				t.Fatalf("RecordPlay() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestListRecent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	first, firstFiles := seedAlbum(t, store, "first", 5)
	second, secondFiles := seedAlbum(t, store, "second", 2)

	for _, f := range firstFiles {
		if _, err := svc.RecordPlay(ctx, first.ID, f.ID, 10); err != nil {
			t.Fatalf("RecordPlay() error = %v", err)
		}
	}
	for _, f := range secondFiles {
		if _, err := svc.RecordPlay(ctx, second.ID, f.ID, 10); err != nil {
			t.Fatalf("RecordPlay() error = %v", err)
		}
	}
	// Replaying an old track of the first album makes it the latest album again.
	if _, err := svc.RecordPlay(ctx, first.ID, firstFiles[0].ID, 99); err != nil {
		t.Fatalf("RecordPlay() error = %v", err)
	}

	plays, err := svc.ListRecent(ctx)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	perAlbum := map[int64]int{}
	for _, p := range plays {
		perAlbum[p.AlbumID]++
	}
	if perAlbum[first.ID] != RecentPerAlbum || perAlbum[second.ID] != 2 {
		t.Fatalf("per album counts = %v", perAlbum)
	}

	groups, err := svc.ListRecentByAlbum(ctx)
	if err != nil {
		t.Fatalf("ListRecentByAlbum() error = %v", err)
	}
	if len(groups) != 2 || groups[0].AlbumID != first.ID || groups[1].AlbumID != second.ID {
		t.Fatalf("album order = %+v", groups)
	}
	want := []string{"01.mp3", "05.mp3", "04.mp3"}
	for i, p := range groups[0].Plays {
		if p.Filename != want[i] {
			t.Fatalf("first album plays[%d] = %s, want %s", i, p.Filename, want[i])
		}
	}
	if groups[0].Plays[0].PlayTime != 99 {
		t.Fatalf("latest play time = %v, want 99", groups[0].Plays[0].PlayTime)
	}
	if !groups[0].LastPlayedAt.After(groups[1].LastPlayedAt) {
		t.Fatalf("LastPlayedAt not descending: %s vs %s", groups[0].LastPlayedAt, groups[1].LastPlayedAt)
	}
}
