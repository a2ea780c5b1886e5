package workqueue

import "kwork/internal/tick"

// Func is a deferred callback. It receives the argument given to Enqueue.
type Func func(arg any)

// Item describes one deferred invocation.
//
// The caller allocates the Item and owns it for its whole lifetime; a queue
// only borrows it while it is linked. The zero value is ready to use. All
// fields are guarded by the lock of the queue the item is linked into.
type Item struct {
	fn    Func
	arg   any
	delay tick.Ticks
	qtime tick.Ticks

	prev, next *Item
	owner      *Queue
}

// remaining is the number of ticks until the item becomes ready.
// It is negative once the item is overdue.
func (it *Item) remaining(now tick.Ticks) tick.Ticks {
	return it.delay - (now - it.qtime)
}

func (it *Item) ready(now tick.Ticks) bool {
	return now-it.qtime >= it.delay
}
