package workqueue

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// LockKind selects the mutual-exclusion primitive protecting a queue.
type LockKind int

const (
	// LockMutex parks contending goroutines. Use it for queues only touched
	// by ordinary producers.
	LockMutex LockKind = iota
	// LockCritical spins without parking. Use it for queues fed directly by
	// interrupt-style producers, which must not block on a mutex.
	LockCritical
)

func (k LockKind) String() string {
	switch k {
	case LockMutex:
		return "mutex"
	case LockCritical:
		return "critical"
	default:
		return fmt.Sprintf("LockKind(%d)", int(k))
	}
}

// ParseLockKind accepts "mutex", "critical" or "irq".
func ParseLockKind(s string) (LockKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mutex":
		return LockMutex, nil
	case "critical", "irq":
		return LockCritical, nil
	default:
		return LockMutex, fmt.Errorf("unknown lock kind %q", s)
	}
}

// CriticalSection is a process-wide, non-parking lock: the analogue of
// masking interrupts. Every queue constructed with the same instance
// serializes against every other one.
type CriticalSection struct {
	held atomic.Bool
}

func NewCriticalSection() *CriticalSection { return &CriticalSection{} }

func (c *CriticalSection) Lock() {
	for !c.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (c *CriticalSection) Unlock() {
	if !c.held.CompareAndSwap(true, false) {
		panic("workqueue: unlock of unlocked critical section")
	}
}

func newLocker(kind LockKind, cs *CriticalSection) sync.Locker {
	if kind == LockCritical {
		if cs == nil {
			cs = NewCriticalSection()
		}
		return cs
	}
	return &sync.Mutex{}
}
