package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"kwork/internal/app"
	"kwork/internal/config"
	"kwork/internal/eventbus"
	"kwork/internal/kernel"
	"kwork/internal/notifier"
	"kwork/internal/tick"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

type stressOpts struct {
	cfgPath   string
	duration  time.Duration
	producers int
	items     int
	maxDelay  int
}

type stressReport struct {
	Duration   string          `json:"duration"`
	Enqueued   uint64          `json:"enqueued"`
	Rejected   uint64          `json:"rejected"`
	Cancelled  uint64          `json:"cancelled"`
	Callbacks  uint64          `json:"callbacks"`
	Signals    uint64          `json:"notifier_signals"`
	Dispatched int64           `json:"metric_dispatched"`
	Kernel     kernel.Snapshot `json:"kernel"`
}

func newStressCmd() *cobra.Command {
	var o stressOpts
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Hammer the queues with thread and interrupt-style producers, then print a snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.producers <= 0 || o.items <= 0 {
				return errors.New("--producers and --items must be > 0")
			}
			return runStress(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVar(&o.cfgPath, "config", "", "optional config file; defaults are used when empty")
	cmd.Flags().DurationVar(&o.duration, "duration", 5*time.Second, "how long producers run")
	cmd.Flags().IntVar(&o.producers, "producers", 4, "producers per queue kind")
	cmd.Flags().IntVar(&o.items, "items", 64, "work items owned by each producer")
	cmd.Flags().IntVar(&o.maxDelay, "max-delay", 20, "largest delay in ticks for thread producers")
	return cmd
}

func loadStressConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{Logging: config.LoggingConfig{Level: "warn", Console: true}}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.Decode(path, b)
}

func runStress(ctx context.Context, o stressOpts) error {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	cfg, err := loadStressConfig(o.cfgPath)
	if err != nil {
		return err
	}
	logs, log := logx.New(cfg.Logging.LogConfig(), nil)
	defer logs.Close()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	var (
		enqueued, rejected, cancelled, callbacks, signals atomic.Uint64
	)
	cb := func(any) { callbacks.Add(1) }

	runCtx, stop := context.WithTimeout(ctx, o.duration)
	defer stop()
	var wg sync.WaitGroup

	// Thread producers: delayed work with random cancels on lpwork/usrwork.
	for _, id := range []kernel.QueueID{kernel.LowPri, kernel.User} {
		q, err := a.Kernel().Queue(id)
		if err != nil {
			continue
		}
		for p := 0; p < o.producers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				items := make([]workqueue.Item, o.items)
				for runCtx.Err() == nil {
					it := &items[rand.IntN(len(items))]
					if rand.IntN(4) == 0 {
						if q.Cancel(it) == nil {
							cancelled.Add(1)
						}
						continue
					}
					delay := tick.Ticks(rand.IntN(o.maxDelay + 1))
					if err := q.Enqueue(it, cb, nil, delay); err != nil {
						rejected.Add(1)
						continue
					}
					enqueued.Add(1)
				}
				drain(q, items)
			}()
		}
	}

	// Interrupt producers: zero-delay work on hpwork, plus notifier signals.
	if q, err := a.Kernel().Queue(kernel.HighPri); err == nil {
		for p := 0; p < o.producers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				items := make([]workqueue.Item, o.items)
				for runCtx.Err() == nil {
					it := &items[rand.IntN(len(items))]
					if err := q.Enqueue(it, cb, nil, 0); err != nil {
						rejected.Add(1)
					} else {
						enqueued.Add(1)
					}
					if rand.IntN(16) == 0 {
						if _, err := a.Notifier().Setup(notifier.Registration{
							Event: notifier.IOBAvail, Queue: q, Run: cb,
						}); err == nil {
							a.Bus().Publish(eventbus.Event{Type: notifier.IOBAvail.String()})
							signals.Add(1)
						}
					}
				}
				drain(q, items)
			}()
		}
	}

	wg.Wait()
	snap := a.Kernel().Snapshot()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(sctx, app.StopDone); err != nil {
		log.Warn("stop reported errors", logx.Err(err))
	}

	rep := stressReport{
		Duration:  o.duration.String(),
		Enqueued:  enqueued.Load(),
		Rejected:  rejected.Load(),
		Cancelled: cancelled.Load(),
		Callbacks: callbacks.Load(),
		Signals:   signals.Load(),
		Kernel:    snap,
	}
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err == nil {
		rep.Dispatched = sumCounter(rm, "kwork.workqueue.dispatched")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// drain cancels the producer's items so none outlives its owner.
func drain(q *workqueue.Queue, items []workqueue.Item) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := range items {
		_ = q.CancelSync(ctx, &items[i])
	}
}

func sumCounter(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
