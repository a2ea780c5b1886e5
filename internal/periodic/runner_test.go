package periodic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"kwork/internal/tick"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

func startQueue(t *testing.T) *workqueue.Queue {
	t.Helper()
	q := workqueue.New(workqueue.Config{Name: "lpwork"}, workqueue.WithClock(tick.NewReal(time.Millisecond)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx, 0)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return q
}

func TestRunnerRunsRepeatedly(t *testing.T) {
	q := startQueue(t)
	r := NewRunner(q, logx.Nop())

	var runs atomic.Int32
	if err := r.Add(Job{Name: "tick", Schedule: "5ms", Run: func(context.Context) { runs.Add(1) }}); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want >= 3", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop = %v", err)
	}
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Fatal("job ran after Stop")
	}
	if st := r.Status(); len(st) != 1 || st[0].Pending {
		t.Fatalf("status after stop = %+v", st)
	}
}

func TestRunnerSurvivesPanickingJob(t *testing.T) {
	q := startQueue(t)
	r := NewRunner(q, logx.Nop())

	var runs atomic.Int32
	if err := r.Add(Job{Name: "flaky", Schedule: "2ms", Run: func(context.Context) {
		runs.Add(1)
		panic("flaky")
	}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("panicking job was not rescheduled")
		}
		time.Sleep(time.Millisecond)
	}
	if st := r.Status(); st[0].Panics == 0 {
		t.Fatalf("status = %+v", st)
	}
	_ = r.Stop(context.Background())
}

func TestRunnerSchedulesFromWallClock(t *testing.T) {
	q := workqueue.New(workqueue.Config{Name: "lpwork"}, workqueue.WithClock(tick.NewReal(time.Second)))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewRunner(q, logx.Nop(), WithWallClock(clocktesting.NewFakePassiveClock(now)), WithLocation(time.UTC))

	if err := r.Add(Job{Name: "hourly", Schedule: "@hourly", Run: func(context.Context) {}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := r.Status()
	if !st[0].Pending {
		t.Fatal("job not queued")
	}
	if want := now.Add(time.Hour); !st[0].Next.Equal(want) {
		t.Fatalf("next = %v, want %v", st[0].Next, want)
	}
	if snap := q.Snapshot(); snap.NextIn < 3599 || snap.NextIn > 3600 {
		t.Fatalf("NextIn = %d ticks, want ~3600", snap.NextIn)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRunnerAddValidation(t *testing.T) {
	q := workqueue.New(workqueue.Config{Name: "lpwork"})
	r := NewRunner(q, logx.Nop())
	noop := func(context.Context) {}

	if err := r.Add(Job{Name: "", Schedule: "1m", Run: noop}); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := r.Add(Job{Name: "x", Schedule: "1m"}); err == nil {
		t.Fatal("nil Run accepted")
	}
	if err := r.Add(Job{Name: "x", Schedule: "bogus", Run: noop}); err == nil {
		t.Fatal("bad schedule accepted")
	}
	if err := r.Add(Job{Name: "x", Schedule: "1m", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(Job{Name: "x", Schedule: "2m", Run: noop}); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("duplicate = %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(Job{Name: "y", Schedule: "1m", Run: noop}); !errors.Is(err, ErrStarted) {
		t.Fatalf("Add after Start = %v", err)
	}
	_ = r.Stop(context.Background())
}
