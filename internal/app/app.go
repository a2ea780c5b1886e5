package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kwork/internal/config"
	"kwork/internal/debugsrv"
	"kwork/internal/eventbus"
	"kwork/internal/journal"
	"kwork/internal/kernel"
	"kwork/internal/metrics"
	"kwork/internal/notifier"
	"kwork/internal/periodic"
	"kwork/internal/runtime/supervisor"
	"kwork/internal/watchdog"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

// App hosts the kernel queues and everything that feeds or observes them.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sup  *supervisor.Supervisor

	kernel   *kernel.Kernel
	store    journal.Store
	recorder *journal.Recorder
	metrics  *metrics.Metrics
	notifier *notifier.Notifier
	runners  map[kernel.QueueID]*periodic.Runner
	watchdog *watchdog.Watchdog
	debug    *debugsrv.Server
}

// NewApp loads cfgPath and builds every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(cfg.Logging.LogConfig(), func(_ logx.Level, line string) {
		_, _ = fmt.Fprintln(logx.Stderr(), line)
	})
	a, err := build(cfg, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logs
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	return a, nil
}

// New builds an App from an in-memory config, for callers without a config
// file. Hot reload is not available.
func New(cfg *config.Config, log logx.Logger) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}
	return build(cfg, log)
}

func build(cfg *config.Config, log logx.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		root:     log,
		log:      log.With(logx.String("comp", "app")),
		bus:      eventbus.New(),
		notifier: notifier.New(log),
		runners:  map[kernel.QueueID]*periodic.Runner{},
	}

	jc, buffer, err := mapJournalConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = journal.Open(jc, log); err != nil {
		return nil, err
	}
	if a.store != nil {
		a.recorder = journal.NewRecorder(a.store, buffer, log)
		a.log.Info("journal enabled", logx.String("driver", jc.Driver), logx.String("path", jc.Path))
	}

	if a.metrics, err = metrics.New(nil); err != nil {
		a.closeStore()
		return nil, err
	}

	kc, err := kernel.FromConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	var obs []workqueue.Observer
	obs = append(obs, a.metrics)
	if a.recorder != nil {
		obs = append(obs, a.recorder)
	}
	a.kernel = kernel.New(kc, log, kernel.WithObserver(workqueue.Observers(obs...)))

	for _, p := range cfg.Periodic {
		if err := a.addPeriodic(p); err != nil {
			a.closeStore()
			return nil, err
		}
	}

	if cfg.Watchdog.Enabled {
		id, _ := queueOrDefault(cfg.Watchdog.Queue, kernel.HighPri)
		q, err := a.kernel.Queue(id)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.watchdog = watchdog.New(q, log)
	}

	if cfg.Debug.Enabled {
		dc, err := debugsrv.FromConfig(cfg.Debug)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		src := debugsrv.Sources{Kernel: a.kernel, Periodic: a}
		if a.recorder != nil {
			src.Journal = a.recorder
		}
		a.debug = debugsrv.New(dc, src, log)
	}
	return a, nil
}

func (a *App) addPeriodic(p config.PeriodicConfig) error {
	id, err := queueOrDefault(p.Queue, kernel.LowPri)
	if err != nil {
		return err
	}
	r := a.runners[id]
	if r == nil {
		q, err := a.kernel.Queue(id)
		if err != nil {
			return err
		}
		r = periodic.NewRunner(q, a.root)
		a.runners[id] = r
	}
	var run func(context.Context)
	switch p.Action {
	case "stats":
		run = a.logStats
	default:
		return fmt.Errorf("periodic job %s: unknown action %q", p.Name, p.Action)
	}
	return r.Add(periodic.Job{Name: p.Name, Schedule: p.Schedule, Run: run})
}

// logStats is the "stats" periodic action.
func (a *App) logStats(context.Context) {
	for _, q := range a.kernel.Snapshot().Queues {
		busy := 0
		for _, w := range q.Workers {
			if w.Running {
				busy++
			}
		}
		a.log.Info("workqueue stats",
			logx.String("queue", q.Name),
			logx.Int("pending", q.Pending),
			logx.Int("running", busy),
			logx.Uint64("enqueued", q.Enqueued),
			logx.Uint64("dispatched", q.Dispatched),
			logx.Uint64("cancelled", q.Cancelled),
			logx.Uint64("rejected", q.Rejected))
	}
	if a.recorder != nil {
		st := a.recorder.Stats()
		a.log.Info("journal stats",
			logx.Uint64("written", st.Written),
			logx.Uint64("dropped", st.Dropped),
			logx.Uint64("failed", st.Failed))
	}
}

// Status lists every periodic job; it lets the debug server read them.
func (a *App) Status() []periodic.JobStatus {
	var out []periodic.JobStatus
	for _, id := range kernel.QueueIDs() {
		if r := a.runners[id]; r != nil {
			out = append(out, r.Status()...)
		}
	}
	return out
}

func (a *App) Kernel() *kernel.Kernel       { return a.kernel }
func (a *App) Bus() eventbus.Bus            { return a.bus }
func (a *App) Notifier() *notifier.Notifier { return a.notifier }

// Done is closed when the app stops, including after a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.kernel.Start(run); err != nil {
		return err
	}
	if err := a.metrics.ObservePending(nil, a.kernel.Pending); err != nil {
		a.log.Warn("pending gauge not registered", logx.Err(err))
	}
	if a.recorder != nil {
		a.sup.Go("journal.recorder", a.recorder.Run)
	}
	a.sup.Go("notifier.bus", func(c context.Context) error { return a.notifier.Attach(c, a.bus) })

	for _, id := range kernel.QueueIDs() {
		if r := a.runners[id]; r != nil {
			if err := r.Start(run); err != nil {
				return err
			}
		}
	}

	if a.watchdog != nil {
		if err := a.watchdog.Ready(); err != nil {
			a.log.Warn("readiness notify failed", logx.Err(err))
		}
		if _, err := a.watchdog.Start(run); err != nil {
			return fmt.Errorf("watchdog: %w", err)
		}
	}

	if a.debug != nil {
		a.sup.GoRestart("debug.http", a.debug.Run,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	if a.cfgm != nil {
		a.sup.Go("config.watch", a.cfgm.Watch)
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
	}

	a.log.Info("kworkd started",
		logx.Int("queues", len(a.kernel.Snapshot().Queues)),
		logx.Bool("journal", a.recorder != nil),
		logx.Bool("debug", a.debug != nil),
		logx.Bool("watchdog", a.watchdog != nil))
	return nil
}

// reloadLoop applies live sections and reports the rest as needing a
// restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfg
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			next = c
		}
		// Coalesce bursts.
	drain:
		for {
			select {
			case c := <-sub:
				if c != nil {
					next = c
				}
			default:
				break drain
			}
		}

		ch := config.SummarizeChange(last, next)
		last = next
		if len(ch.Sections) == 0 {
			a.log.Debug("config reload received, no effective changes")
			continue
		}
		fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
		a.log.Info("config changed", fields...)
		if a.logs != nil {
			a.logs.Apply(next.Logging.LogConfig())
		}
		if ch.RestartRequired {
			a.log.Warn("config change needs a restart to take effect", logx.String("changed", strings.Join(ch.Sections, ",")))
		}
	}
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(sctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	for _, id := range kernel.QueueIDs() {
		if r := a.runners[id]; r != nil {
			step("periodic."+id.String(), time.Second, r.Stop)
		}
	}
	if a.watchdog != nil {
		step("watchdog", time.Second, a.watchdog.Stop)
	}
	step("kernel", 3*time.Second, a.kernel.Stop)
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("metrics", time.Second, func(context.Context) error { return a.metrics.Close() })
	step("journal", time.Second, func(context.Context) error { return a.closeStore() })
	if a.logs != nil {
		a.log.Info("stopped")
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
