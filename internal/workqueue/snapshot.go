package workqueue

// WorkerSnapshot is the state of one worker descriptor.
type WorkerSnapshot struct {
	ID    string `json:"id"`
	Alive bool   `json:"alive"`
	Busy  bool   `json:"busy"`
	// Running is true while a callback executes on this worker.
	Running bool `json:"running"`
}

// Snapshot is a point-in-time view of a queue for diagnostics.
type Snapshot struct {
	Name    string `json:"name"`
	Lock    string `json:"lock"`
	Pending int    `json:"pending"`
	// NextIn is the remaining wait of the head item in ticks, -1 if empty.
	NextIn  int64            `json:"next_in_ticks"`
	Workers []WorkerSnapshot `json:"workers"`

	Enqueued   uint64 `json:"enqueued"`
	Rejected   uint64 `json:"rejected"`
	Cancelled  uint64 `json:"cancelled"`
	Dispatched uint64 `json:"dispatched"`
}

func (q *Queue) Snapshot() Snapshot {
	snap := Snapshot{
		Name:   q.name,
		Lock:   q.kind.String(),
		NextIn: -1,
	}

	q.lock.Lock()
	snap.Pending = q.count
	if q.head != nil {
		snap.NextIn = int64(q.head.remaining(q.clock.Now()))
	}
	snap.Workers = make([]WorkerSnapshot, len(q.workers))
	for i := range q.workers {
		w := &q.workers[i]
		snap.Workers[i] = WorkerSnapshot{ID: w.id, Alive: w.alive, Busy: w.busy, Running: w.current != nil}
	}
	q.lock.Unlock()

	snap.Enqueued = q.enqueued.Load()
	snap.Rejected = q.rejected.Load()
	snap.Cancelled = q.cancelled.Load()
	snap.Dispatched = q.dispatched.Load()
	return snap
}
