package workqueue

import "errors"

var (
	// ErrAlreadyQueued is returned by Enqueue when the item is already linked
	// into the queue. The queue is left unchanged.
	ErrAlreadyQueued = errors.New("work item already queued")

	// ErrNotQueued is returned by Cancel when the item is not pending on the
	// queue (never queued, already cancelled, or already taken by a worker).
	ErrNotQueued = errors.New("work item not queued")

	// ErrInvalidItem is returned by Enqueue for a nil item or callback.
	ErrInvalidItem = errors.New("work item and callback are required")
)
