package kernel

import (
	"fmt"
	"time"

	"kwork/internal/config"
	"kwork/internal/tick"
	"kwork/internal/workqueue"
)

// QueueSpec is the shape of one queue.
type QueueSpec struct {
	Enabled bool
	Workers int
	Lock    workqueue.LockKind
}

type Config struct {
	Tick           time.Duration
	Queues         [numQueues]QueueSpec
	RestartOnPanic bool
}

// DefaultConfig enables every queue: hpwork with one worker on the
// critical-section lock, lpwork with two workers, usrwork with one.
func DefaultConfig() Config {
	var c Config
	c.Tick = tick.DefaultPeriod
	c.Queues[HighPri] = QueueSpec{Enabled: true, Workers: 1, Lock: workqueue.LockCritical}
	c.Queues[LowPri] = QueueSpec{Enabled: true, Workers: 2, Lock: workqueue.LockMutex}
	c.Queues[User] = QueueSpec{Enabled: true, Workers: 1, Lock: workqueue.LockMutex}
	return c
}

// FromConfig overlays the file config onto DefaultConfig.
func FromConfig(cfg *config.Config) (Config, error) {
	out := DefaultConfig()
	if cfg == nil {
		return out, nil
	}
	out.Tick = cfg.TickPeriod()
	out.RestartOnPanic = cfg.RestartOnPanic

	for id, qc := range map[QueueID]config.QueueConfig{
		HighPri: cfg.Queues.HPWork,
		LowPri:  cfg.Queues.LPWork,
		User:    cfg.Queues.UsrWork,
	} {
		spec := out.Queues[id]
		spec.Enabled = qc.IsEnabled()
		if qc.Workers > 0 {
			spec.Workers = qc.Workers
		}
		if qc.Lock != "" {
			kind, err := workqueue.ParseLockKind(qc.Lock)
			if err != nil {
				return Config{}, fmt.Errorf("queues.%s.lock: %w", id, err)
			}
			spec.Lock = kind
		}
		out.Queues[id] = spec
	}
	return out, nil
}
