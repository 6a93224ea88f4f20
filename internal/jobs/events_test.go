package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Subscribe_SnapshotThenDeltas(t *testing.T) {
	q := NewQueue(1, nil)
	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	snapshot, events, cancel, err := q.Subscribe(job.ID)
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, StatusQueued, snapshot.Status)
	assert.Equal(t, uint64(1), snapshot.Seq)

	require.NoError(t, q.Checkpoint(job.ID, 10, "Downloading video..."))
	require.NoError(t, q.Checkpoint(job.ID, 40, "Analyzing content and identifying clips..."))
	require.NoError(t, q.Complete(job.ID, []Clip{{ID: "1"}}, "/tmp/out.mp4", "", ""))

	lastSeq := snapshot.Seq
	var last *ClipJob
	for ev := range events {
		assert.Greater(t, ev.Seq, lastSeq, "events must carry strictly increasing sequence numbers")
		assert.Equal(t, ev.Seq, ev.Job.Seq)
		lastSeq = ev.Seq
		last = ev.Job
	}

	require.NotNil(t, last)
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
}

func TestQueue_Subscribe_TerminalJobClosesImmediately(t *testing.T) {
	q := NewQueue(1, nil)
	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})
	require.NoError(t, q.Complete(job.ID, nil, "", "", ""))

	snapshot, events, cancel, err := q.Subscribe(job.ID)
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, StatusCompleted, snapshot.Status)

	_, open := <-events
	assert.False(t, open, "terminal subscriptions deliver only the snapshot")
}

func TestQueue_Subscribe_UnknownJob(t *testing.T) {
	q := NewQueue(1, nil)
	_, _, _, err := q.Subscribe("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_Subscribe_ClosedOnDelete(t *testing.T) {
	q := NewQueue(1, nil)
	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	_, events, cancel, err := q.Subscribe(job.ID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, q.Delete(job.ID, ""))

	_, open := <-events
	assert.False(t, open)
}

func TestQueue_Subscribe_SlowConsumerIsDropped(t *testing.T) {
	q := NewQueue(1, nil)
	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	_, events, cancel, err := q.Subscribe(job.ID)
	require.NoError(t, err)
	defer cancel()

	// Overflow the subscriber buffer without draining it.
	for i := 0; i < subscriberBuffer+1; i++ {
		require.NoError(t, q.Checkpoint(job.ID, 10, "Downloading video..."))
	}

	received := 0
	for range events {
		received++
	}
	assert.Equal(t, subscriberBuffer, received, "overflowing events must close the channel, not block the queue")

	// A fresh subscription recovers the full state.
	snapshot, _, cancel2, err := q.Subscribe(job.ID)
	require.NoError(t, err)
	defer cancel2()
	assert.Equal(t, 10, snapshot.Progress)
}

func TestQueue_Unsubscribe_Idempotent(t *testing.T) {
	q := NewQueue(1, nil)
	job := q.Submit(SubmitRequest{SourceURL: "https://example.com/v1"})

	_, _, cancel, err := q.Subscribe(job.ID)
	require.NoError(t, err)

	cancel()
	assert.NotPanics(t, cancel)
}
