package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rood-one/telegram-anime-downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestRepository_StartFinishRecent(t *testing.T) {
	ctx := context.Background()
	repo := NewInstrumentedRepository(openTestDB(t), "instance-a", nil)

	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, repo.Start(ctx, storage.TransferRecord{
			JobID:     id,
			ChatID:    42,
			SourceURL: "https://example.com/" + id,
			Filename:  id + ".mp4",
			SizeBytes: -1,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, repo.Start(ctx, storage.TransferRecord{JobID: "other-chat", ChatID: 7, SourceURL: "u", Filename: "f"}))

	require.NoError(t, repo.Finish(ctx, "job-2", storage.Completion{
		Status:    storage.StatusProvider,
		Stage:     "done",
		Provider:  "gofile",
		Link:      "https://gofile.io/d/abc",
		SizeBytes: 100 << 20,
	}))

	recent, err := repo.Recent(ctx, 42, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, "job-3", recent[0].JobID)
	assert.Equal(t, storage.StatusRunning, recent[0].Status)
	assert.Equal(t, "instance-a", recent[0].LockedBy)

	assert.Equal(t, "job-2", recent[1].JobID)
	assert.Equal(t, storage.StatusProvider, recent[1].Status)
	assert.Equal(t, "https://gofile.io/d/abc", recent[1].Link)
	assert.Equal(t, int64(100<<20), recent[1].SizeBytes)
	assert.Empty(t, recent[1].LockedBy)
	assert.False(t, recent[1].FinishedAt.IsZero())
	assert.WithinDuration(t, base.Add(time.Minute), recent[1].StartedAt, time.Second)
}

func TestRepository_FinishUnknownJob(t *testing.T) {
	repo := NewInstrumentedRepository(openTestDB(t), "instance-a", nil)

	err := repo.Finish(context.Background(), "missing", storage.Completion{Status: storage.StatusFailed})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRepository_DuplicateJobID(t *testing.T) {
	ctx := context.Background()
	repo := NewInstrumentedRepository(openTestDB(t), "instance-a", nil)

	rec := storage.TransferRecord{JobID: "job-1", ChatID: 1, SourceURL: "u", Filename: "f"}
	require.NoError(t, repo.Start(ctx, rec))
	assert.Error(t, repo.Start(ctx, rec))
}

func TestRepository_InterruptOrphans(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	previous := NewInstrumentedRepository(db, "crashed-instance", nil)
	require.NoError(t, previous.Start(ctx, storage.TransferRecord{JobID: "orphan", ChatID: 1, SourceURL: "u", Filename: "f"}))

	current := NewInstrumentedRepository(db, "live-instance", nil)
	require.NoError(t, current.Start(ctx, storage.TransferRecord{JobID: "mine", ChatID: 1, SourceURL: "u", Filename: "f"}))

	affected, err := current.InterruptOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	active, err := current.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "mine", active[0].JobID)

	recent, err := current.Recent(ctx, 1, 10)
	require.NoError(t, err)

	statuses := map[string]string{}
	for _, r := range recent {
		statuses[r.JobID] = r.Status
	}

	assert.Equal(t, storage.StatusInterrupted, statuses["orphan"])
	assert.Equal(t, storage.StatusRunning, statuses["mine"])
}

func TestGenerateInstanceID_Unique(t *testing.T) {
	a, b := storage.GenerateInstanceID(), storage.GenerateInstanceID()

	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
