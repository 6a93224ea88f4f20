package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipwave/clipwave/pkg/log"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrForbidden = errors.New("access denied")
)

// errInterrupted is the user-visible failure text for runs that a shutdown or
// restart cut short.
const errInterrupted = "interrupted: service restarted during processing"

// Executor runs the processing pipeline for one claimed job. The returned
// error is recorded on the job as its terminal failure; a nil return means
// the executor completed the job itself through Complete.
type Executor func(ctx context.Context, job *ClipJob) error

// Queue is the job registry and scheduler. Every mutation of a job funnels
// through apply, which enforces monotonic progress, freezes terminal states,
// bumps the sequence counter, persists the record and notifies subscribers.
// A job is advanced by exactly one worker at a time: workers claim it with a
// queued→processing transition and hold the only cancel handle.
type Queue struct {
	workerCount int
	store       Store

	mu         sync.RWMutex
	jobs       map[string]*ClipJob
	runs       map[string]context.CancelFunc
	subs       map[string]map[*subscriber]struct{}
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewQueue(workerCount int, store Store) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	q := &Queue{
		workerCount: workerCount,
		store:       store,
		jobs:        make(map[string]*ClipJob),
		runs:        make(map[string]context.CancelFunc),
		subs:        make(map[string]map[*subscriber]struct{}),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Submit registers a new job in the queued state and schedules it.
func (q *Queue) Submit(req SubmitRequest) *ClipJob {
	now := time.Now()
	job := &ClipJob{
		ID:           uuid.NewString(),
		SourceURL:    req.SourceURL,
		Instructions: req.Instructions,
		Owner:        req.Owner,
		Status:       StatusQueued,
		Progress:     0,
		CurrentStep:  "Queued",
		Clips:        []Clip{},
		Seq:          1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(job.ID)
	}
	return snapshot
}

func (q *Queue) Get(id string) (*ClipJob, error) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

// List returns jobs visible to owner, newest first. An empty owner returns
// every job.
func (q *Queue) List(owner string) []*ClipJob {
	q.mu.RLock()
	ret := make([]*ClipJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		if owner != "" && job.Owner != owner {
			continue
		}
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

// Delete removes the job record. Deleting a job with an active run cancels
// the run; the run observes the cancellation at its next checkpoint, where
// the update reports ErrNotFound and the pipeline stops without writing
// anything further.
func (q *Queue) Delete(id, owner string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}
	if owner != "" && job.Owner != owner {
		q.mu.Unlock()
		return ErrForbidden
	}
	if cancel, ok := q.runs[id]; ok {
		cancel()
		delete(q.runs, id)
	}
	delete(q.jobs, id)
	q.closeSubscribersLocked(id)
	q.mu.Unlock()

	if q.store != nil {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete job %s from store: %v", id, err)
		}
	}
	return nil
}

// Start launches the worker pool and re-schedules jobs that were still
// queued when the queue was hydrated.
func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]string, 0)
	for id, job := range q.jobs {
		if job.Status == StatusQueued {
			pending = append(pending, id)
		}
	}
	q.mu.Unlock()

	for _, id := range pending {
		q.enqueuePendingID(id)
	}

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop cancels active runs and waits for the workers to drain.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.mu.Lock()
		for id, cancel := range q.runs {
			cancel()
			delete(q.runs, id)
		}
		q.mu.Unlock()
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			job, ctx, ok := q.claim(id)
			if !ok {
				continue
			}

			err := runExecutor(exec, ctx, job)
			q.clearRun(id)
			if err != nil {
				q.markFailed(id, err)
			}
		}
	}
}

// runExecutor confines executor panics to the job that caused them so one
// bad run cannot take down the worker hosting other jobs.
func runExecutor(exec Executor, ctx context.Context, job *ClipJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime error: %v", r)
		}
	}()
	return exec(ctx, job)
}

// claim transitions a job from queued to processing and installs the run's
// cancel handle. It fails when the job was deleted or already claimed.
func (q *Queue) claim(id string) (*ClipJob, context.Context, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusQueued {
		q.mu.Unlock()
		return nil, nil, false
	}
	job.Status = StatusProcessing
	job.CurrentStep = "Initializing..."
	job.Seq++
	job.UpdatedAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	q.runs[id] = cancel

	snapshot := cloneJob(job)
	q.publishLocked(id, snapshot)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, ctx, true
}

func (q *Queue) clearRun(id string) {
	q.mu.Lock()
	if cancel, ok := q.runs[id]; ok {
		cancel()
		delete(q.runs, id)
	}
	q.mu.Unlock()
}

// Checkpoint records stage progress for an active job. Progress never moves
// backwards; terminal and deleted jobs reject the update.
func (q *Queue) Checkpoint(id string, progress int, step string) error {
	_, err := q.apply(id, func(job *ClipJob) {
		job.Status = StatusProcessing
		job.Progress = progress
		job.CurrentStep = step
	})
	return err
}

// Complete atomically publishes the render results and freezes the job.
func (q *Queue) Complete(id string, clips []Clip, outputPath, videoURL, warning string) error {
	_, err := q.apply(id, func(job *ClipJob) {
		job.Status = StatusCompleted
		job.Progress = 100
		job.CurrentStep = "Completed"
		job.Clips = append([]Clip(nil), clips...)
		job.OutputPath = outputPath
		job.VideoURL = videoURL
		job.Warning = warning
	})
	return err
}

func (q *Queue) markFailed(id string, cause error) {
	_, err := q.apply(id, func(job *ClipJob) {
		job.Status = StatusFailed
		job.CurrentStep = "Failed"
		switch {
		case errors.Is(cause, context.Canceled):
			// Run cancelled by shutdown; deletes remove the record before
			// this write, so a cancelled run on a live record means the
			// service is going down.
			job.Error = errInterrupted
		case cause != nil:
			job.Error = cause.Error()
		}
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Error("Failed to record failure for job %s: %v", id, err)
	}
}

// apply is the single mutation path for existing jobs.
func (q *Queue) apply(id string, mutate func(*ClipJob)) (*ClipJob, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return nil, ErrNotFound
	}
	if job.Status.Terminal() {
		q.mu.Unlock()
		return nil, fmt.Errorf("job %s is %s: %w", id, job.Status, ErrForbidden)
	}

	prevProgress := job.Progress
	mutate(job)
	if job.Progress < prevProgress {
		job.Progress = prevProgress
	}
	job.Seq++
	job.UpdatedAt = time.Now()

	snapshot := cloneJob(job)
	q.publishLocked(id, snapshot)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, nil
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

// hydrateFromStore restores persisted jobs on boot. Jobs caught mid-run by a
// restart are marked failed rather than re-run: replaying the pipeline would
// rewind their observed progress.
func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*ClipJob, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Seq == 0 {
			job.Seq = 1
		}
		if job.Clips == nil {
			job.Clips = []Clip{}
		}
		if job.Status == StatusProcessing {
			job.Status = StatusFailed
			job.CurrentStep = "Failed"
			job.Error = errInterrupted
			job.Seq++
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
	}
	q.mu.Unlock()

	for _, job := range toPersist {
		q.persistJob(job)
	}
}

func (q *Queue) persistJob(job *ClipJob) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *ClipJob) *ClipJob {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.Clips = append([]Clip(nil), job.Clips...)
	return &tmp
}
