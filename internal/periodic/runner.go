package periodic

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"

	"kwork/internal/tick"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

var (
	ErrDuplicateJob = errors.New("periodic: duplicate job")
	ErrStarted      = errors.New("periodic: already started")
)

// Job is a named function run on a work queue at every activation of
// Schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
}

// Runner drives Jobs on one work queue. Each job owns one work item that
// re-submits itself with the ticks remaining until its next activation, so
// a job never overlaps itself.
type Runner struct {
	q    *workqueue.Queue
	log  logx.Logger
	wall clock.PassiveClock
	loc  *time.Location

	mu      sync.Mutex
	entries []*entry
	ctx     context.Context
	started bool
	stopped atomic.Bool
}

type entry struct {
	r     *Runner
	job   Job
	spec  Spec
	sched cron.Schedule
	item  workqueue.Item

	runs    atomic.Uint64
	panics  atomic.Uint64
	lastRun atomic.Int64 // unix nanos
	next    atomic.Int64 // unix nanos
}

type Option func(*Runner)

// WithWallClock sets the clock used to evaluate schedules.
func WithWallClock(c clock.PassiveClock) Option { return func(r *Runner) { r.wall = c } }

// WithLocation sets the time zone of cron schedules.
func WithLocation(loc *time.Location) Option { return func(r *Runner) { r.loc = loc } }

func NewRunner(q *workqueue.Queue, log logx.Logger, opts ...Option) *Runner {
	r := &Runner{
		q:    q,
		log:  log.With(logx.String("comp", "periodic"), logx.String("queue", q.Name())),
		wall: clock.RealClock{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add registers job. Jobs must be added before Start.
func (r *Runner) Add(job Job) error {
	name := strings.TrimSpace(job.Name)
	if name == "" {
		return errors.New("periodic: job name required")
	}
	if job.Run == nil {
		return fmt.Errorf("periodic: job %s: nil Run", name)
	}
	spec, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("periodic: job %s: %w", name, err)
	}
	sched, err := spec.Schedule(r.loc)
	if err != nil {
		return fmt.Errorf("periodic: job %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrStarted
	}
	for _, e := range r.entries {
		if e.job.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
		}
	}
	job.Name = name
	r.entries = append(r.entries, &entry{r: r, job: job, spec: spec, sched: sched})
	return nil
}

// Start submits every job for its first activation. ctx is passed to the
// jobs; when it is done, jobs stop re-submitting themselves.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrStarted
	}
	r.started = true
	r.ctx = ctx
	for _, e := range r.entries {
		if err := e.schedule(); err != nil {
			return fmt.Errorf("periodic: job %s: %w", e.job.Name, err)
		}
		r.log.Info("periodic job scheduled",
			logx.String("job", e.job.Name),
			logx.String("schedule", e.spec.String()),
			logx.String("next", time.Unix(0, e.next.Load()).Format(time.RFC3339)))
	}
	return nil
}

// Stop cancels every job and waits for running ones to return.
func (r *Runner) Stop(ctx context.Context) error {
	r.stopped.Store(true)
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		err := r.q.CancelSync(ctx, &e.item)
		if err != nil && !errors.Is(err, workqueue.ErrNotQueued) {
			errs = append(errs, fmt.Errorf("job %s: %w", e.job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// schedule submits the item for the next activation after now.
func (e *entry) schedule() error {
	now := e.r.wall.Now()
	next := e.sched.Next(now)
	if next.IsZero() {
		return errors.New("schedule has no future activation")
	}
	e.next.Store(next.UnixNano())
	delay := tick.FromDuration(next.Sub(now), e.r.q.Clock().Period())
	return e.r.q.Enqueue(&e.item, e.fire, nil, delay)
}

func (e *entry) fire(any) {
	ctx := e.r.ctx
	if e.r.stopped.Load() || ctx.Err() != nil {
		return
	}
	e.invoke(ctx)
	if e.r.stopped.Load() || ctx.Err() != nil {
		return
	}
	if err := e.schedule(); err != nil {
		e.r.log.Error("periodic job not rescheduled", logx.String("job", e.job.Name), logx.Err(err))
	}
}

// invoke runs the job. A panicking job is logged and stays scheduled.
func (e *entry) invoke(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			e.panics.Add(1)
			e.r.log.Error("periodic job panicked",
				logx.String("job", e.job.Name),
				logx.Any("panic", p),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	e.lastRun.Store(e.r.wall.Now().UnixNano())
	e.runs.Add(1)
	e.job.Run(ctx)
}

// JobStatus is the state of one job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Pending  bool      `json:"pending"`
	Runs     uint64    `json:"runs"`
	Panics   uint64    `json:"panics"`
	LastRun  time.Time `json:"last_run,omitzero"`
	Next     time.Time `json:"next,omitzero"`
}

func (r *Runner) Status() []JobStatus {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		st := JobStatus{
			Name:     e.job.Name,
			Schedule: e.spec.String(),
			Pending:  r.q.Pending(&e.item),
			Runs:     e.runs.Load(),
			Panics:   e.panics.Load(),
		}
		if n := e.lastRun.Load(); n != 0 {
			st.LastRun = time.Unix(0, n)
		}
		if n := e.next.Load(); n != 0 {
			st.Next = time.Unix(0, n)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
