package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipwave/clipwave/internal/jobs"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func testJob(id string) *jobs.ClipJob {
	now := time.Now().UTC().Truncate(time.Second)
	return &jobs.ClipJob{
		ID:           id,
		SourceURL:    "https://example.com/watch?v=" + id,
		Instructions: "find the best moments",
		Owner:        "alice",
		Status:       jobs.StatusQueued,
		Progress:     0,
		CurrentStep:  "Queued",
		Clips:        []jobs.Clip{},
		Seq:          1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	job.Status = jobs.StatusCompleted
	job.Progress = 100
	job.CurrentStep = "Completed"
	job.Clips = []jobs.Clip{
		{ID: "1", Title: "Opening hook", Duration: "12.3s", Timeframe: "10.0s - 22.3s", Start: 10, End: 22.3},
	}
	job.OutputPath = "/storage/videos/job-1.mp4"
	job.VideoURL = "/api/videos/job-1"
	job.Seq = 7
	require.NoError(t, store.UpsertJob(ctx, job))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.SourceURL, got.SourceURL)
	assert.Equal(t, job.Instructions, got.Instructions)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, job.Clips, got.Clips)
	assert.Equal(t, job.OutputPath, got.OutputPath)
	assert.Equal(t, job.VideoURL, got.VideoURL)
	assert.Equal(t, uint64(7), got.Seq)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Second)
}

func TestSQLiteStore_UpsertUpdatesMutableFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, store.UpsertJob(ctx, job))

	job.Status = jobs.StatusFailed
	job.CurrentStep = "Failed"
	job.Error = "[SourceUnavailable] failed to resolve source video"
	job.Seq = 3
	require.NoError(t, store.UpsertJob(ctx, job))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, jobs.StatusFailed, loaded[0].Status)
	assert.Contains(t, loaded[0].Error, "SourceUnavailable")
	assert.Equal(t, uint64(3), loaded[0].Seq)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(ctx, testJob("job-1")))
	require.NoError(t, store.UpsertJob(ctx, testJob("job-2")))

	require.NoError(t, store.DeleteJob(ctx, "job-1"))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "job-2", loaded[0].ID)

	// Deleting an unknown job is a no-op.
	assert.NoError(t, store.DeleteJob(ctx, "job-1"))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.UpsertJob(context.Background(), testJob("job-1")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "job-1", loaded[0].ID)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("012_add_column.sql"))
	assert.Equal(t, 0, migrationVersion("README.md"))
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore("  ")
	assert.Error(t, err)
}
