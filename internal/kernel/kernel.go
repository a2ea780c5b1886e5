package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kwork/internal/runtime/supervisor"
	"kwork/internal/tick"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

// Kernel owns the standard queues and their worker goroutines.
//
// Every queue shares one tick clock, and every critical-section queue shares
// one CriticalSection, so interrupt-style producers serialize across queues.
type Kernel struct {
	cfg      Config
	log      logx.Logger
	clock    tick.Clock
	critical *workqueue.CriticalSection
	queues   [numQueues]*workqueue.Queue

	mu  sync.Mutex
	sup *supervisor.Supervisor
}

type Option func(*options)

type options struct {
	clock    tick.Clock
	observer workqueue.Observer
}

func WithClock(c tick.Clock) Option { return func(o *options) { o.clock = c } }

// WithObserver installs o on every queue.
func WithObserver(o workqueue.Observer) Option { return func(o2 *options) { o2.observer = o } }

func New(cfg Config, log logx.Logger, opts ...Option) *Kernel {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if cfg.Tick <= 0 {
		cfg.Tick = tick.DefaultPeriod
	}
	if o.clock == nil {
		o.clock = tick.NewReal(cfg.Tick)
	}
	k := &Kernel{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "kernel")),
		clock:    o.clock,
		critical: workqueue.NewCriticalSection(),
	}
	qopts := []workqueue.Option{workqueue.WithClock(o.clock)}
	if o.observer != nil {
		qopts = append(qopts, workqueue.WithObserver(o.observer))
	}
	for _, id := range QueueIDs() {
		spec := cfg.Queues[id]
		if !spec.Enabled {
			continue
		}
		k.queues[id] = workqueue.New(workqueue.Config{
			Name:     id.String(),
			Workers:  spec.Workers,
			Lock:     spec.Lock,
			Critical: k.critical,
		}, qopts...)
	}
	return k
}

func (k *Kernel) Clock() tick.Clock { return k.clock }

// Queue returns the queue for id.
func (k *Kernel) Queue(id QueueID) (*workqueue.Queue, error) {
	if !id.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownQueue, int(id))
	}
	q := k.queues[id]
	if q == nil {
		return nil, fmt.Errorf("%w: %s", ErrQueueDisabled, id)
	}
	return q, nil
}

// Work enqueues item on queue id. delay is in ticks.
func (k *Kernel) Work(id QueueID, item *workqueue.Item, fn workqueue.Func, arg any, delay tick.Ticks) error {
	q, err := k.Queue(id)
	if err != nil {
		return err
	}
	return q.Enqueue(item, fn, arg, delay)
}

// WorkAfter is Work with a wall-clock delay rounded up to whole ticks.
func (k *Kernel) WorkAfter(id QueueID, item *workqueue.Item, fn workqueue.Func, arg any, d time.Duration) error {
	return k.Work(id, item, fn, arg, tick.FromDuration(d, k.clock.Period()))
}

func (k *Kernel) Cancel(id QueueID, item *workqueue.Item) error {
	q, err := k.Queue(id)
	if err != nil {
		return err
	}
	return q.Cancel(item)
}

// Start launches every worker of every enabled queue. Workers stop when ctx
// is done or Stop is called.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.sup != nil {
		return ErrStarted
	}
	k.sup = supervisor.New(ctx, supervisor.WithLogger(k.log))

	total := 0
	for _, id := range QueueIDs() {
		q := k.queues[id]
		if q == nil {
			continue
		}
		for i := 0; i < q.Workers(); i++ {
			name := fmt.Sprintf("%s.%d", q.Name(), i)
			run := func(ctx context.Context) error { return q.Run(ctx, i) }
			if k.cfg.RestartOnPanic {
				k.sup.GoRestart(name, run)
			} else {
				k.sup.Go(name, run)
			}
			total++
		}
		k.log.Debug("queue started",
			logx.String("queue", q.Name()),
			logx.Int("workers", q.Workers()),
			logx.String("lock", q.LockKind().String()))
	}
	k.log.Info("kernel started",
		logx.Int("workers", total),
		logx.Duration("tick", k.clock.Period()),
		logx.Bool("restart_on_panic", k.cfg.RestartOnPanic))
	return nil
}

// Stop cancels every worker and waits until they exited or ctx is done.
// Items still queued stay queued.
func (k *Kernel) Stop(ctx context.Context) error {
	k.mu.Lock()
	sup := k.sup
	k.mu.Unlock()
	if sup == nil {
		return ErrNotStarted
	}
	err := sup.Stop(ctx)
	k.log.Info("kernel stopped")
	return err
}

// Snapshot is the state of every enabled queue plus worker goroutine stats.
type Snapshot struct {
	Queues  []workqueue.Snapshot `json:"queues"`
	Workers supervisor.Snapshot  `json:"workers"`
}

func (k *Kernel) Snapshot() Snapshot {
	var snap Snapshot
	for _, q := range k.queues {
		if q != nil {
			snap.Queues = append(snap.Queues, q.Snapshot())
		}
	}
	k.mu.Lock()
	sup := k.sup
	k.mu.Unlock()
	snap.Workers = sup.Snapshot()
	return snap
}

// Pending returns the number of queued items per enabled queue.
func (k *Kernel) Pending() map[string]int {
	out := make(map[string]int, numQueues)
	for _, q := range k.queues {
		if q != nil {
			out[q.Name()] = q.Len()
		}
	}
	return out
}
