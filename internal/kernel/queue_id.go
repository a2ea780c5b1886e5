package kernel

import (
	"errors"
	"fmt"
	"strings"
)

// QueueID names one of the standard queues.
type QueueID int

const (
	// HighPri runs short latency-critical work; it is fed from interrupt
	// context and uses the critical-section lock by default.
	HighPri QueueID = iota
	LowPri
	User

	numQueues
)

var (
	ErrUnknownQueue  = errors.New("kernel: unknown queue")
	ErrQueueDisabled = errors.New("kernel: queue disabled")
	ErrStarted       = errors.New("kernel: already started")
	ErrNotStarted    = errors.New("kernel: not started")
)

func (id QueueID) String() string {
	switch id {
	case HighPri:
		return "hpwork"
	case LowPri:
		return "lpwork"
	case User:
		return "usrwork"
	default:
		return fmt.Sprintf("QueueID(%d)", int(id))
	}
}

func (id QueueID) valid() bool { return id >= 0 && id < numQueues }

// ParseQueueID accepts the queue names plus short aliases
// ("hp", "high", "lp", "low", "usr", "user").
func ParseQueueID(s string) (QueueID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hpwork", "hp", "high":
		return HighPri, nil
	case "lpwork", "lp", "low":
		return LowPri, nil
	case "usrwork", "usr", "user":
		return User, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownQueue, s)
	}
}

// QueueIDs lists every queue in priority order.
func QueueIDs() []QueueID { return []QueueID{HighPri, LowPri, User} }
