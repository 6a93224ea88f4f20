package jobs

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Submit_DistinctIDs(t *testing.T) {
	q := NewQueue(2, nil)

	jobA := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})
	jobB := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	require.NotNil(t, jobA)
	require.NotNil(t, jobB)
	assert.NotEqual(t, jobA.ID, jobB.ID)
	assert.Equal(t, StatusQueued, jobA.Status)
	assert.Equal(t, StatusQueued, jobB.Status)
	assert.Equal(t, 0, jobA.Progress)
}

func TestQueue_Worker_RunsJobToCompletion(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(func(_ context.Context, job *ClipJob) error {
		if err := q.Checkpoint(job.ID, 10, "Downloading video..."); err != nil {
			return err
		}
		return q.Complete(job.ID, []Clip{{ID: "1", Title: "Clip 1"}}, "/tmp/out.mp4", "/api/videos/"+job.ID, "")
	})
	defer q.Stop()

	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	require.Eventually(t, func() bool {
		got, err := q.Get(job.ID)
		return err == nil && got.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "Completed", got.CurrentStep)
	assert.Len(t, got.Clips, 1)
	assert.Equal(t, "/tmp/out.mp4", got.OutputPath)
	assert.Empty(t, got.Error)
}

func TestQueue_Worker_RecordsFailureWithLastProgress(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(func(_ context.Context, job *ClipJob) error {
		if err := q.Checkpoint(job.ID, 10, "Downloading video..."); err != nil {
			return err
		}
		return errors.New("[SourceUnavailable] failed to resolve source video")
	})
	defer q.Stop()

	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/bad"})

	require.Eventually(t, func() bool {
		got, err := q.Get(job.ID)
		return err == nil && got.Status == StatusFailed
	}, time.Second, 10*time.Millisecond)

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Error, "SourceUnavailable")
	assert.Equal(t, 10, got.Progress, "failure must not touch progress")
	assert.Empty(t, got.Clips)
}

func TestQueue_Worker_PanicBecomesFailure(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(func(_ context.Context, _ *ClipJob) error {
		panic("selector went sideways")
	})
	defer q.Stop()

	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	require.Eventually(t, func() bool {
		got, err := q.Get(job.ID)
		return err == nil && got.Status == StatusFailed
	}, time.Second, 10*time.Millisecond)

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Error, "runtime error")
}

func TestQueue_Checkpoint_ProgressNeverDecreases(t *testing.T) {
	q := NewQueue(1, nil)
	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	require.NoError(t, q.Checkpoint(job.ID, 40, "Analyzing content..."))
	require.NoError(t, q.Checkpoint(job.ID, 10, "stale update"))

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "stale update", got.CurrentStep)
}

func TestQueue_TerminalJobIsFrozen(t *testing.T) {
	q := NewQueue(1, nil)
	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})
	require.NoError(t, q.Complete(job.ID, nil, "/tmp/out.mp4", "", ""))

	before, err := q.Get(job.ID)
	require.NoError(t, err)

	require.Error(t, q.Checkpoint(job.ID, 99, "late write"))

	after, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, before.Seq, after.Seq)
	assert.Equal(t, before.CurrentStep, after.CurrentStep)
}

func TestQueue_Delete_OwnerMismatchLeavesRecord(t *testing.T) {
	q := NewQueue(1, nil)
	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1", Owner: "alice"})

	err := q.Delete(job.ID, "bob")
	require.ErrorIs(t, err, ErrForbidden)

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
}

func TestQueue_Delete_UnknownJob(t *testing.T) {
	q := NewQueue(1, nil)
	require.ErrorIs(t, q.Delete("nope", ""), ErrNotFound)
}

func TestQueue_Delete_CancelsActiveRun(t *testing.T) {
	q := NewQueue(1, nil)
	cancelled := make(chan struct{})
	q.Start(func(ctx context.Context, job *ClipJob) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	defer q.Stop()

	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	require.Eventually(t, func() bool {
		got, err := q.Get(job.ID)
		return err == nil && got.Status == StatusProcessing
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, q.Delete(job.ID, ""))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("run was not cancelled by delete")
	}

	// The aborted run must not resurrect the record.
	time.Sleep(50 * time.Millisecond)
	_, err := q.Get(job.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_Stop_RecordsInterruptedRun(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(func(ctx context.Context, _ *ClipJob) error {
		<-ctx.Done()
		return ctx.Err()
	})

	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	require.Eventually(t, func() bool {
		got, err := q.Get(job.ID)
		return err == nil && got.Status == StatusProcessing
	}, time.Second, 10*time.Millisecond)

	q.Stop()

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, errInterrupted, got.Error)
	assert.NotContains(t, got.Error, "context canceled")
}

func TestQueue_EnqueueOverflowExitsOnStop(t *testing.T) {
	q := NewQueue(1, nil)
	for i := 0; i < cap(q.pendingIDs); i++ {
		q.pendingIDs <- "filler"
	}
	q.Stop()

	before := runtime.NumGoroutine()
	q.enqueuePendingID("late")

	// Poll in this goroutine: require.Eventually runs the condition in a
	// spawned goroutine, which inflates runtime.NumGoroutine by one and makes
	// the comparison against before unsatisfiable.
	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatal("overflow goroutine must exit once the queue stops")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQueue_List_FiltersByOwner(t *testing.T) {
	q := NewQueue(1, nil)
	a := q.Submit(SubmitRequest{SourceURL: "https://example.com/a", Owner: "alice"})
	q.Submit(SubmitRequest{SourceURL: "https://example.com/b", Owner: "bob"})

	all := q.List("")
	assert.Len(t, all, 2)

	mine := q.List("alice")
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)
}

func TestQueue_List_MatchesGet(t *testing.T) {
	q := NewQueue(1, nil)
	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1", Owner: "alice"})
	require.NoError(t, q.Checkpoint(job.ID, 10, "Downloading video..."))

	listed := q.List("alice")
	require.Len(t, listed, 1)

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, got, listed[0], "list and get must agree within one request window")
}

func TestQueue_Hydrate_RestoresAndFailsInterrupted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.UpsertJob(ctx, &ClipJob{
		ID: "job-queued", SourceURL: "https://example.com/a",
		Status: StatusQueued, Seq: 1, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.UpsertJob(ctx, &ClipJob{
		ID: "job-running", SourceURL: "https://example.com/b",
		Status: StatusProcessing, Progress: 40, Seq: 4, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.UpsertJob(ctx, &ClipJob{
		ID: "job-done", SourceURL: "https://example.com/c",
		Status: StatusCompleted, Progress: 100, Seq: 9, CreatedAt: now, UpdatedAt: now,
	}))

	q := NewQueue(1, store)

	interrupted, err := q.Get("job-running")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, interrupted.Status)
	assert.Contains(t, interrupted.Error, "interrupted")
	assert.Equal(t, 40, interrupted.Progress)

	done, err := q.Get("job-done")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	executed := make(chan string, 1)
	q.Start(func(_ context.Context, job *ClipJob) error {
		executed <- job.ID
		return q.Complete(job.ID, nil, "", "", "")
	})
	defer q.Stop()

	select {
	case id := <-executed:
		assert.Equal(t, "job-queued", id)
	case <-time.After(time.Second):
		t.Fatal("hydrated queued job was not re-scheduled")
	}
}
