package kernel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"kwork/internal/config"
	"kwork/internal/tick"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

func newTestKernel(t *testing.T, cfg Config) *Kernel {
	t.Helper()
	k := New(cfg, logx.Nop(), WithClock(tick.NewReal(time.Millisecond)))
	ctx, cancel := context.WithCancel(context.Background())
	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		if err := k.Stop(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Logf("Stop = %v", err)
		}
	})
	return k
}

func TestParseQueueID(t *testing.T) {
	tests := []struct {
		in      string
		want    QueueID
		wantErr bool
	}{
		{"hpwork", HighPri, false},
		{" HIGH ", HighPri, false},
		{"lp", LowPri, false},
		{"usrwork", User, false},
		{"user", User, false},
		{"nope", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseQueueID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseQueueID(%q) err = %v", tt.in, err)
		}
		if err != nil && !errors.Is(err, ErrUnknownQueue) {
			t.Fatalf("ParseQueueID(%q) err = %v, want ErrUnknownQueue", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseQueueID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromConfig(t *testing.T) {
	off := false
	cfg := &config.Config{
		Tick:           "2ms",
		RestartOnPanic: true,
		Queues: config.QueuesConfig{
			LPWork:  config.QueueConfig{Workers: 4, Lock: "critical"},
			UsrWork: config.QueueConfig{Enabled: &off},
		},
	}
	kc, err := FromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if kc.Tick != 2*time.Millisecond || !kc.RestartOnPanic {
		t.Fatalf("unexpected %+v", kc)
	}
	if hp := kc.Queues[HighPri]; !hp.Enabled || hp.Workers != 1 || hp.Lock != workqueue.LockCritical {
		t.Fatalf("hpwork defaults lost: %+v", hp)
	}
	if lp := kc.Queues[LowPri]; lp.Workers != 4 || lp.Lock != workqueue.LockCritical {
		t.Fatalf("lpwork = %+v", lp)
	}
	if kc.Queues[User].Enabled {
		t.Fatal("usrwork should be disabled")
	}

	if _, err := FromConfig(&config.Config{Queues: config.QueuesConfig{HPWork: config.QueueConfig{Lock: "spin"}}}); err == nil {
		t.Fatal("expected lock error")
	}
}

func TestWorkRunsOnNamedQueue(t *testing.T) {
	k := newTestKernel(t, DefaultConfig())

	got := make(chan string, numQueues)
	items := make([]workqueue.Item, numQueues)
	for _, id := range QueueIDs() {
		if err := k.Work(id, &items[id], func(arg any) { got <- arg.(string) }, id.String(), 0); err != nil {
			t.Fatalf("Work(%s) = %v", id, err)
		}
	}
	seen := map[string]bool{}
	for range QueueIDs() {
		select {
		case name := <-got:
			seen[name] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only saw %v", seen)
		}
	}
	if len(seen) != int(numQueues) {
		t.Fatalf("seen = %v", seen)
	}
}

func TestDisabledAndUnknownQueues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queues[User].Enabled = false
	k := New(cfg, logx.Nop())

	var it workqueue.Item
	if err := k.Work(User, &it, func(any) {}, nil, 0); !errors.Is(err, ErrQueueDisabled) {
		t.Fatalf("Work(User) = %v, want ErrQueueDisabled", err)
	}
	if _, err := k.Queue(QueueID(9)); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("Queue(9) = %v, want ErrUnknownQueue", err)
	}
	if err := k.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Stop before Start = %v", err)
	}
	if n := len(k.Snapshot().Queues); n != 2 {
		t.Fatalf("snapshot has %d queues, want 2", n)
	}
}

func TestCancelBeforeDispatch(t *testing.T) {
	k := newTestKernel(t, DefaultConfig())
	var ran atomic.Bool
	var it workqueue.Item
	if err := k.WorkAfter(LowPri, &it, func(any) { ran.Store(true) }, nil, time.Minute); err != nil {
		t.Fatal(err)
	}
	if got := k.Pending()["lpwork"]; got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	if err := k.Cancel(LowPri, &it); err != nil {
		t.Fatalf("Cancel = %v", err)
	}
	if err := k.Cancel(LowPri, &it); !errors.Is(err, workqueue.ErrNotQueued) {
		t.Fatalf("second Cancel = %v", err)
	}
	if ran.Load() {
		t.Fatal("cancelled item ran")
	}
}

func TestStartTwice(t *testing.T) {
	k := newTestKernel(t, DefaultConfig())
	if err := k.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Fatalf("second Start = %v, want ErrStarted", err)
	}
}

func TestRestartOnPanicKeepsQueueServed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RestartOnPanic = true
	k := newTestKernel(t, cfg)

	var bad workqueue.Item
	if err := k.Work(User, &bad, func(any) { panic("boom") }, nil, 0); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var good workqueue.Item
	if err := k.Work(User, &good, func(any) { close(done) }, nil, 1); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("usrwork not served after worker panic")
	}

	var panics uint64
	for _, g := range k.Snapshot().Workers.Goroutines {
		panics += g.Panics
	}
	if panics != 1 {
		t.Fatalf("panics = %d, want 1", panics)
	}
}
