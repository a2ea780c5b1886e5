// Package workqueue implements deferred work queues.
//
// A Queue is a time-ordered list of caller-owned Items drained by a fixed
// set of workers. Producers (ordinary goroutines or interrupt-style
// producers that must never park) call Enqueue with a callback, an argument
// and a delay in ticks; each worker runs (*Queue).Run, which executes ready
// items with no lock held and otherwise sleeps until the next deadline or
// until an insertion at the head wakes it.
//
// Invariants:
//   - An Item is linked into at most one Queue. Its callback is non-nil
//     exactly while it is queued; clearing it marks the item idle.
//   - The list is ascending by remaining wait (delay minus time since
//     enqueue). Remaining waits shrink at the same rate for every entry, so
//     an order established at insertion holds until removal.
//   - The queue lock is never held while a callback runs. Callbacks may
//     Enqueue or Cancel on any queue, including re-submitting themselves.
//
// The package does not log and never allocates Items.
package workqueue
