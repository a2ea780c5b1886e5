package workqueue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"kwork/internal/tick"
)

// Config describes a queue. It is fixed for the queue's lifetime.
type Config struct {
	Name    string
	Workers int
	Lock    LockKind

	// Critical is the shared critical section used when Lock is
	// LockCritical. If nil, the queue gets a private one.
	Critical *CriticalSection
}

type Option func(*Queue)

// WithClock sets the tick clock. Defaults to a real clock with
// tick.DefaultPeriod.
func WithClock(c tick.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithObserver installs a dispatch observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// Queue is a time-ordered list of Items plus its worker descriptors.
type Queue struct {
	name     string
	kind     LockKind
	lock     sync.Locker
	clock    tick.Clock
	observer Observer

	// guarded by lock
	head, tail *Item
	count      int
	workers    []worker

	enqueued   atomic.Uint64
	rejected   atomic.Uint64
	cancelled  atomic.Uint64
	dispatched atomic.Uint64
}

// worker is the descriptor of one dispatch goroutine. Guarded by the queue lock.
type worker struct {
	id    string
	alive bool
	busy  bool

	// wake is the worker's wake signal. One pending token is enough: the
	// worker rescans the whole list on every wake.
	wake chan struct{}

	// current is the item whose callback is running, if any.
	current *Item
	// finished is created on demand by CancelSync and closed when the
	// running callback returns.
	finished chan struct{}
}

func New(cfg Config, opts ...Option) *Queue {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "work"
	}
	n := cfg.Workers
	if n <= 0 {
		n = 1
	}
	q := &Queue{
		name:    name,
		kind:    cfg.Lock,
		lock:    newLocker(cfg.Lock, cfg.Critical),
		workers: make([]worker, n),
	}
	for i := range q.workers {
		q.workers[i] = worker{
			id:   fmt.Sprintf("%s.%d", name, i),
			wake: make(chan struct{}, 1),
		}
	}
	for _, o := range opts {
		o(q)
	}
	if q.clock == nil {
		q.clock = tick.NewReal(tick.DefaultPeriod)
	}
	return q
}

func (q *Queue) Name() string       { return q.name }
func (q *Queue) Workers() int       { return len(q.workers) }
func (q *Queue) LockKind() LockKind { return q.kind }
func (q *Queue) Clock() tick.Clock  { return q.clock }

// Enqueue schedules fn(arg) to run on q no earlier than delay ticks from
// now. Negative delays are treated as zero.
//
// If item is already linked into q, Enqueue returns ErrAlreadyQueued and
// changes nothing. Linking an item that is pending on a different queue is
// a caller error and is not detected.
func (q *Queue) Enqueue(item *Item, fn Func, arg any, delay tick.Ticks) error {
	if item == nil || fn == nil {
		return ErrInvalidItem
	}
	if delay < 0 {
		delay = 0
	}

	q.lock.Lock()
	if item.owner == q {
		q.lock.Unlock()
		q.rejected.Add(1)
		return ErrAlreadyQueued
	}

	now := q.clock.Now()
	var before *Item
	for e := q.head; e != nil; e = e.next {
		if e.remaining(now) > delay {
			before = e
			break
		}
	}

	item.fn = fn
	item.arg = arg
	item.delay = delay
	item.qtime = now
	q.link(item, before)

	// A new head means every sleeping worker waits on a stale deadline
	// (or none at all when the queue was empty).
	if q.head == item {
		q.signalIdle(nil)
	}
	q.lock.Unlock()

	q.enqueued.Add(1)
	return nil
}

// Cancel removes a pending item. It returns ErrNotQueued when the item is
// not pending on q, including when a worker has already taken it; a
// callback that is running is never interrupted.
func (q *Queue) Cancel(item *Item) error {
	if item == nil {
		return ErrNotQueued
	}
	q.lock.Lock()
	if item.fn == nil || item.owner != q {
		q.lock.Unlock()
		return ErrNotQueued
	}
	q.unlink(item)
	item.fn = nil
	item.arg = nil
	q.lock.Unlock()

	q.cancelled.Add(1)
	return nil
}

// CancelSync cancels item and, if its callback is running on one of q's
// workers, waits for the callback to return. A callback that re-submits
// itself is cancelled again. It returns ErrNotQueued if the item was
// neither pending nor running, and ctx.Err() if ctx ends first.
//
// CancelSync must not be called from the item's own callback.
func (q *Queue) CancelSync(ctx context.Context, item *Item) error {
	if item == nil {
		return ErrNotQueued
	}
	found := false
	for {
		q.lock.Lock()
		if item.fn != nil && item.owner == q {
			q.unlink(item)
			item.fn = nil
			item.arg = nil
			q.cancelled.Add(1)
			found = true
		}
		w := q.runningOn(item)
		if w == nil {
			q.lock.Unlock()
			if !found {
				return ErrNotQueued
			}
			return nil
		}
		found = true
		if w.finished == nil {
			w.finished = make(chan struct{})
		}
		done := w.finished
		q.lock.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
}

// Pending reports whether item is currently linked into q.
func (q *Queue) Pending(item *Item) bool {
	if item == nil {
		return false
	}
	q.lock.Lock()
	ok := item.fn != nil && item.owner == q
	q.lock.Unlock()
	return ok
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.lock.Lock()
	n := q.count
	q.lock.Unlock()
	return n
}

// link inserts item before the given entry, or at the tail when before is nil.
func (q *Queue) link(item, before *Item) {
	item.owner = q
	if before == nil {
		item.prev = q.tail
		item.next = nil
		if q.tail != nil {
			q.tail.next = item
		} else {
			q.head = item
		}
		q.tail = item
	} else {
		item.next = before
		item.prev = before.prev
		if before.prev != nil {
			before.prev.next = item
		} else {
			q.head = item
		}
		before.prev = item
	}
	q.count++
}

func (q *Queue) unlink(item *Item) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		q.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		q.tail = item.prev
	}
	item.prev = nil
	item.next = nil
	item.owner = nil
	q.count--
}

func (q *Queue) runningOn(item *Item) *worker {
	for i := range q.workers {
		if q.workers[i].current == item {
			return &q.workers[i]
		}
	}
	return nil
}
