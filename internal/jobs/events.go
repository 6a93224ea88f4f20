package jobs

// Event is one applied job mutation, delivered to stream subscribers in the
// order the queue applied it. Job is a snapshot taken at mutation time.
type Event struct {
	Seq uint64
	Job *ClipJob
}

const subscriberBuffer = 64

type subscriber struct {
	ch chan Event
}

// Subscribe returns the current snapshot of the job plus a channel that
// receives every subsequent mutation. The channel closes once the job reaches
// a terminal state or is deleted. A reconnecting caller compares the snapshot
// Seq against the last sequence it saw to avoid replaying known state.
//
// A subscriber that stops draining its channel is dropped; it resynchronizes
// by subscribing again, which is always gap-free because the snapshot carries
// the full state.
func (q *Queue) Subscribe(id string) (*ClipJob, <-chan Event, func(), error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return nil, nil, nil, ErrNotFound
	}
	snapshot := cloneJob(job)

	ch := make(chan Event, subscriberBuffer)
	if snapshot.Status.Terminal() {
		close(ch)
		q.mu.Unlock()
		return snapshot, ch, func() {}, nil
	}

	sub := &subscriber{ch: ch}
	if q.subs[id] == nil {
		q.subs[id] = make(map[*subscriber]struct{})
	}
	q.subs[id][sub] = struct{}{}
	q.mu.Unlock()

	cancel := func() { q.unsubscribe(id, sub) }
	return snapshot, ch, cancel, nil
}

func (q *Queue) unsubscribe(id string, sub *subscriber) {
	q.mu.Lock()
	defer q.mu.Unlock()
	set, ok := q.subs[id]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(q.subs, id)
	}
}

// publishLocked fans a mutation snapshot out to the job's subscribers.
// Callers must hold q.mu. Subscribers with a full buffer are dropped so a
// stalled consumer cannot block the orchestration run.
func (q *Queue) publishLocked(id string, snapshot *ClipJob) {
	set, ok := q.subs[id]
	if !ok {
		return
	}
	for sub := range set {
		select {
		case sub.ch <- Event{Seq: snapshot.Seq, Job: snapshot}:
		default:
			delete(set, sub)
			close(sub.ch)
		}
	}
	if snapshot.Status.Terminal() {
		q.closeSubscribersLocked(id)
	}
}

func (q *Queue) closeSubscribersLocked(id string) {
	set, ok := q.subs[id]
	if !ok {
		return
	}
	for sub := range set {
		close(sub.ch)
	}
	delete(q.subs, id)
}
