package workqueue

import (
	"context"
	"fmt"
	"time"

	"kwork/internal/tick"
)

// Run executes the dispatch loop of worker idx until ctx is done, and then
// returns ctx.Err(). A panic raised by a callback is not recovered here; it
// ends this worker only. The item it was running had already been taken off
// the queue, so the list stays consistent and Run may be started again for
// the same idx.
func (q *Queue) Run(ctx context.Context, idx int) error {
	if idx < 0 || idx >= len(q.workers) {
		return fmt.Errorf("workqueue %s: worker %d out of range [0,%d)", q.name, idx, len(q.workers))
	}
	w := &q.workers[idx]

	q.lock.Lock()
	if w.alive {
		q.lock.Unlock()
		return fmt.Errorf("workqueue %s: worker %d already running", q.name, idx)
	}
	w.alive = true
	w.busy = true
	q.lock.Unlock()

	// Callbacks run with the lock released, so it is free here even when a
	// callback panics.
	defer q.retire(w)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining, empty := q.drain(w, idx)
		if empty {
			select {
			case <-ctx.Done():
			case <-w.wake:
			}
			continue
		}

		t := q.clock.NewTimer(remaining)
		select {
		case <-ctx.Done():
		case <-w.wake:
		case <-t.C():
		}
		t.Stop()
	}
}

// drain runs every ready item, then reports how long the worker may sleep:
// the remaining wait of the new head, or empty=true for an indefinite wait.
// The worker is marked idle before the lock is released.
func (q *Queue) drain(w *worker, idx int) (remaining tick.Ticks, empty bool) {
	q.lock.Lock()
	w.busy = true
	for {
		it := q.head
		if it == nil {
			w.busy = false
			q.lock.Unlock()
			return 0, true
		}

		now := q.clock.Now()
		elapsed := now - it.qtime
		if elapsed < it.delay {
			// Sorted: nothing behind the head is ready either.
			w.busy = false
			q.lock.Unlock()
			return it.delay - elapsed, false
		}

		q.unlink(it)
		fn, arg, delay := it.fn, it.arg, it.delay
		it.fn = nil
		it.arg = nil
		w.current = it

		// Let an idle sibling take the next ready item instead of waiting
		// for this callback.
		if q.head != nil && q.head.ready(now) {
			q.signalIdle(w)
		}
		q.lock.Unlock()

		started := time.Now()
		fn(arg)
		took := time.Since(started)

		q.dispatched.Add(1)
		if q.observer != nil {
			q.observer.Dispatched(Record{
				Queue:    q.name,
				Worker:   idx,
				Delay:    delay,
				Lateness: elapsed - delay,
				Started:  started,
				Took:     took,
			})
		}

		// The callback may have mutated the list; rescan from the head.
		q.lock.Lock()
		q.finish(w)
	}
}

// signalIdle wakes one live, idle worker other than except. Never blocks.
// Must be called with the lock held.
func (q *Queue) signalIdle(except *worker) {
	for i := range q.workers {
		w := &q.workers[i]
		if w == except || !w.alive || w.busy {
			continue
		}
		w.busy = true
		select {
		case w.wake <- struct{}{}:
		default:
		}
		return
	}
}

// finish clears the running item of w. Must be called with the lock held.
func (q *Queue) finish(w *worker) {
	w.current = nil
	if w.finished != nil {
		close(w.finished)
		w.finished = nil
	}
}

func (q *Queue) retire(w *worker) {
	q.lock.Lock()
	q.finish(w)
	w.alive = false
	w.busy = false
	q.lock.Unlock()
}
