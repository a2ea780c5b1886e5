package watchdog

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"kwork/internal/tick"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

// NotifyFunc sends a state string to the service manager. It reports false
// when there is no manager to talk to.
type NotifyFunc func(state string) (bool, error)

// Watchdog reports readiness and keeps the systemd watchdog fed from a work
// item, so pings stop when the queue stops being served.
type Watchdog struct {
	q        *workqueue.Queue
	log      logx.Logger
	notify   NotifyFunc
	interval time.Duration

	item    workqueue.Item
	period  tick.Ticks
	stopped atomic.Bool
	pings   atomic.Uint64
	failed  atomic.Uint64
}

type Option func(*Watchdog)

func WithNotify(fn NotifyFunc) Option { return func(w *Watchdog) { w.notify = fn } }

// WithInterval overrides the watchdog interval read from WATCHDOG_USEC.
func WithInterval(d time.Duration) Option { return func(w *Watchdog) { w.interval = d } }

func New(q *workqueue.Queue, log logx.Logger, opts ...Option) *Watchdog {
	w := &Watchdog{
		q:   q,
		log: log.With(logx.String("comp", "watchdog")),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Ready sends READY=1.
func (w *Watchdog) Ready() error {
	ok, err := w.notify(daemon.SdNotifyReady)
	if err != nil {
		return err
	}
	if ok {
		w.log.Info("service manager notified: ready")
	} else {
		w.log.Debug("no service manager socket; readiness not sent")
	}
	return nil
}

// Start submits the ping item when a watchdog interval is configured and
// reports whether pings are active. Pings go out at half the interval.
func (w *Watchdog) Start(ctx context.Context) (bool, error) {
	_ = ctx
	if w.interval <= 0 {
		d, err := daemon.SdWatchdogEnabled(false)
		if err != nil {
			return false, err
		}
		w.interval = d
	}
	if w.interval <= 0 {
		w.log.Debug("watchdog not requested by service manager")
		return false, nil
	}
	w.period = max(tick.FromDuration(w.interval/2, w.q.Clock().Period()), 1)
	if err := w.q.Enqueue(&w.item, w.ping, nil, 0); err != nil {
		return false, err
	}
	w.log.Info("watchdog pings started",
		logx.Duration("interval", w.interval),
		logx.String("queue", w.q.Name()))
	return true, nil
}

func (w *Watchdog) ping(any) {
	if w.stopped.Load() {
		return
	}
	if _, err := w.notify(daemon.SdNotifyWatchdog); err != nil {
		w.failed.Add(1)
		w.log.Warn("watchdog ping failed", logx.Err(err))
	} else {
		w.pings.Add(1)
	}
	if w.stopped.Load() {
		return
	}
	if err := w.q.Enqueue(&w.item, w.ping, nil, w.period); err != nil {
		w.log.Error("watchdog ping not rescheduled", logx.Err(err))
	}
}

// Stop sends STOPPING=1 and cancels the ping item.
func (w *Watchdog) Stop(ctx context.Context) error {
	w.stopped.Store(true)
	_, nerr := w.notify(daemon.SdNotifyStopping)
	err := w.q.CancelSync(ctx, &w.item)
	if errors.Is(err, workqueue.ErrNotQueued) {
		err = nil
	}
	return errors.Join(nerr, err)
}

func (w *Watchdog) Pings() uint64 { return w.pings.Load() }
