package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kwork/internal/tick"
)

func startWorkers(t *testing.T, q *Queue) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < q.Workers(); i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := q.Run(ctx, idx); !errors.Is(err, context.Canceled) {
				t.Errorf("Run(%d) = %v, want context.Canceled", idx, err)
			}
		}(i)
	}
	waitFor(t, time.Second, func() bool {
		for _, w := range q.Snapshot().Workers {
			if !w.Alive {
				return false
			}
		}
		return true
	})
	return func() {
		cancel()
		wg.Wait()
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIdleWorkerWokenByEnqueue(t *testing.T) {
	q := New(Config{Name: "wake"}, WithClock(tick.NewReal(time.Millisecond)))
	stop := startWorkers(t, q)
	defer stop()

	// Let the worker settle into its indefinite wait.
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	var a Item
	if err := q.Enqueue(&a, func(any) { close(done) }, nil, 0); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not woken")
	}
}

func TestTimedSleepRearmedBySoonerItem(t *testing.T) {
	q := New(Config{Name: "rearm"}, WithClock(tick.NewReal(time.Millisecond)))
	stop := startWorkers(t, q)
	defer stop()

	var far, near Item
	if err := q.Enqueue(&far, func(any) {}, nil, 60_000); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	if err := q.Enqueue(&near, func(any) { close(done) }, nil, 0); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed sleep was not re-armed for the sooner item")
	}
	if err := q.Cancel(&far); err != nil {
		t.Fatalf("Cancel(far) = %v", err)
	}
}

func TestPoolRunsEveryItemExactlyOnce(t *testing.T) {
	for _, kind := range []LockKind{LockMutex, LockCritical} {
		t.Run(kind.String(), func(t *testing.T) {
			q := New(Config{Name: "pool", Workers: 4, Lock: kind}, WithClock(tick.NewReal(time.Millisecond)))
			stop := startWorkers(t, q)
			defer stop()

			const producers, perProducer = 8, 50
			items := make([]Item, producers*perProducer)
			runs := make([]atomic.Int32, len(items))
			var early atomic.Int32
			var total atomic.Int32

			var wg sync.WaitGroup
			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for i := 0; i < perProducer; i++ {
						idx := p*perProducer + i
						delay := tick.Ticks(idx % 7)
						queued := q.Clock().Now()
						fn := func(any) {
							if q.Clock().Now()-queued < delay {
								early.Add(1)
							}
							runs[idx].Add(1)
							total.Add(1)
						}
						if err := q.Enqueue(&items[idx], fn, nil, delay); err != nil {
							t.Errorf("Enqueue(%d) = %v", idx, err)
						}
					}
				}(p)
			}
			wg.Wait()

			waitFor(t, 5*time.Second, func() bool { return int(total.Load()) == len(items) })
			for i := range runs {
				if n := runs[i].Load(); n != 1 {
					t.Fatalf("item %d ran %d times", i, n)
				}
			}
			if n := early.Load(); n != 0 {
				t.Fatalf("%d items ran before their delay", n)
			}
			if q.Len() != 0 {
				t.Fatalf("Len = %d after drain", q.Len())
			}
		})
	}
}

func TestConcurrentEnqueueCancelRace(t *testing.T) {
	q := New(Config{Name: "race", Workers: 2}, WithClock(tick.NewReal(time.Millisecond)))
	stop := startWorkers(t, q)
	defer stop()

	const n = 300
	items := make([]Item, n)
	var ran atomic.Int32
	var cancelled atomic.Int32
	var wg sync.WaitGroup
	for i := range items {
		if err := q.Enqueue(&items[i], func(any) { ran.Add(1) }, nil, tick.Ticks(i%3)); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if q.Cancel(&items[i]) == nil {
				cancelled.Add(1)
			}
		}(i)
	}
	wg.Wait()
	waitFor(t, 5*time.Second, func() bool { return ran.Load()+cancelled.Load() == n })
	// Cancel and dispatch are exclusive: nothing ran after a successful cancel.
	time.Sleep(20 * time.Millisecond)
	if got := ran.Load() + cancelled.Load(); got != n {
		t.Fatalf("ran+cancelled = %d, want %d", got, n)
	}
}

func TestCancelSyncWaitsForRunningCallback(t *testing.T) {
	q := New(Config{Name: "sync"}, WithClock(tick.NewReal(time.Millisecond)))
	stop := startWorkers(t, q)
	defer stop()

	started := make(chan struct{})
	release := make(chan struct{})
	var a Item
	if err := q.Enqueue(&a, func(any) {
		close(started)
		<-release
	}, nil, 0); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := q.Cancel(&a); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("Cancel of running item = %v, want ErrNotQueued", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.CancelSync(ctx, &a); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("CancelSync with short ctx = %v, want DeadlineExceeded", err)
	}

	res := make(chan error, 1)
	go func() { res <- q.CancelSync(context.Background(), &a) }()
	select {
	case err := <-res:
		t.Fatalf("CancelSync returned %v while callback still running", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case err := <-res:
		if err != nil {
			t.Fatalf("CancelSync = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CancelSync did not return after callback finished")
	}

	if err := q.CancelSync(context.Background(), &a); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("CancelSync of idle item = %v, want ErrNotQueued", err)
	}
}

func TestCancelSyncCancelsSelfResubmission(t *testing.T) {
	q := New(Config{Name: "resubmit"}, WithClock(tick.NewReal(time.Millisecond)))
	stop := startWorkers(t, q)
	defer stop()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var runs atomic.Int32
	var a Item
	var fn Func
	fn = func(any) {
		runs.Add(1)
		started <- struct{}{}
		<-release
		if err := q.Enqueue(&a, fn, nil, 60_000); err != nil {
			t.Errorf("re-enqueue = %v", err)
		}
	}
	if err := q.Enqueue(&a, fn, nil, 0); err != nil {
		t.Fatal(err)
	}
	<-started

	res := make(chan error, 1)
	go func() { res <- q.CancelSync(context.Background(), &a) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-res:
		if err != nil {
			t.Fatalf("CancelSync = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CancelSync did not return")
	}
	if q.Pending(&a) {
		t.Fatal("re-submitted item still pending after CancelSync")
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
	time.Sleep(20 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Fatalf("callback ran %d times, want 1", n)
	}
}

func TestCallbackPanicEndsOnlyThatWorker(t *testing.T) {
	q := New(Config{Name: "panic"}, WithClock(tick.NewReal(time.Millisecond)))
	other := New(Config{Name: "other"}, WithClock(tick.NewReal(time.Millisecond)))
	stopOther := startWorkers(t, other)
	defer stopOther()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exited := make(chan any, 1)
	go func() {
		defer func() { exited <- recover() }()
		_ = q.Run(ctx, 0)
	}()

	var bad Item
	if err := q.Enqueue(&bad, func(any) { panic("boom") }, nil, 0); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-exited:
		if p != "boom" {
			t.Fatalf("recovered %v, want boom", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not die")
	}
	if s := q.Snapshot(); s.Workers[0].Alive || s.Workers[0].Running {
		t.Fatalf("dead worker still reported live: %+v", s.Workers[0])
	}

	// The other queue is unaffected.
	done := make(chan struct{})
	var ok Item
	if err := other.Enqueue(&ok, func(any) { close(done) }, nil, 0); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent queue stalled")
	}

	// The panicking queue is consistent and can be served again.
	if err := q.Enqueue(&bad, func(any) {}, nil, 0); err != nil {
		t.Fatalf("re-enqueue after panic = %v", err)
	}
	stop := startWorkers(t, q)
	defer stop()
	waitFor(t, 2*time.Second, func() bool { return q.Len() == 0 })
}

func TestRunRejectsBadIndexAndDoubleStart(t *testing.T) {
	q := New(Config{Name: "idx", Workers: 1}, WithClock(tick.NewReal(time.Millisecond)))
	if err := q.Run(context.Background(), 1); err == nil {
		t.Fatal("expected out-of-range error")
	}
	stop := startWorkers(t, q)
	defer stop()
	if err := q.Run(context.Background(), 0); err == nil {
		t.Fatal("expected already-running error")
	}
}
