package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"kwork/internal/eventbus"
	"kwork/internal/tick"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

func TestParseEventType(t *testing.T) {
	for i := EventType(0); i < numEvents; i++ {
		got, err := ParseEventType(i.String())
		if err != nil || got != i {
			t.Fatalf("ParseEventType(%q) = %v, %v", i.String(), got, err)
		}
	}
	if _, err := ParseEventType("disk.full"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSignalFiresMatchingRegistrationsOnce(t *testing.T) {
	q := workqueue.New(workqueue.Config{Name: "lpwork"})
	n := New(logx.Nop())
	noop := func(any) {}

	keyA, err := n.Setup(Registration{Event: NetDown, Qualifier: "eth0", Queue: q, Run: noop})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Setup(Registration{Event: NetDown, Qualifier: "eth1", Queue: q, Run: noop}); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Setup(Registration{Event: IOBAvail, Queue: q, Run: noop}); err != nil {
		t.Fatal(err)
	}

	if got := n.Signal(NetDown, "eth0"); got != 1 {
		t.Fatalf("Signal(net.down, eth0) = %d, want 1", got)
	}
	if got := n.Signal(NetDown, "eth0"); got != 0 {
		t.Fatalf("second Signal = %d, want 0 (one-shot)", got)
	}
	if got := n.Signal(IOBAvail, "x"); got != 0 {
		t.Fatalf("nil qualifier matched %q", "x")
	}
	if got := n.Signal(IOBAvail, nil); got != 1 {
		t.Fatalf("Signal(iob.avail, nil) = %d, want 1", got)
	}
	if q.Len() != 2 || n.Len() != 1 {
		t.Fatalf("queue len %d, waiting %d", q.Len(), n.Len())
	}

	// keyA fired but no worker ran it yet: teardown cancels the work.
	if err := n.Teardown(keyA); err != nil {
		t.Fatalf("Teardown(fired) = %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len after teardown = %d, want 1", q.Len())
	}
	if err := n.Teardown(keyA); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("second Teardown = %v, want ErrUnknownKey", err)
	}
}

func TestSetupRejectsInvalid(t *testing.T) {
	q := workqueue.New(workqueue.Config{})
	n := New(logx.Nop())
	tests := []Registration{
		{Event: NetDown, Run: func(any) {}},
		{Event: NetDown, Queue: q},
		{Event: EventType(99), Queue: q, Run: func(any) {}},
		{Event: NetDown, Queue: q, Run: func(any) {}, Qualifier: []int{1}},
	}
	for i, reg := range tests {
		if _, err := n.Setup(reg); !errors.Is(err, ErrInvalidRegistration) {
			t.Fatalf("case %d: Setup = %v, want ErrInvalidRegistration", i, err)
		}
	}
}

type socketRef struct {
	Conn any
}

func TestQualifierHoldingSliceIsRejected(t *testing.T) {
	q := workqueue.New(workqueue.Config{})
	n := New(logx.Nop())
	if _, err := n.Setup(Registration{Event: NetDown, Qualifier: socketRef{Conn: []int{1}}, Queue: q, Run: func(any) {}}); !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("Setup = %v, want ErrInvalidRegistration", err)
	}
	if _, err := n.Setup(Registration{Event: NetDown, Qualifier: socketRef{Conn: 3}, Queue: q, Run: func(any) {}}); err != nil {
		t.Fatal(err)
	}
	if got := n.Signal(NetDown, socketRef{Conn: []int{1}}); got != 0 {
		t.Fatalf("Signal with slice qualifier = %d, want 0", got)
	}
	if got := n.Signal(NetDown, socketRef{Conn: 3}); got != 1 {
		t.Fatalf("Signal = %d, want 1", got)
	}
}

func TestTeardownBeforeSignal(t *testing.T) {
	q := workqueue.New(workqueue.Config{})
	n := New(logx.Nop())
	key, err := n.Setup(Registration{Event: TCPDisconnect, Qualifier: 7, Queue: q, Run: func(any) {}})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Teardown(key); err != nil {
		t.Fatal(err)
	}
	if got := n.Signal(TCPDisconnect, 7); got != 0 {
		t.Fatalf("Signal after teardown = %d", got)
	}
}

func TestAttachBridgesBus(t *testing.T) {
	q := workqueue.New(workqueue.Config{Name: "hpwork"}, workqueue.WithClock(tick.NewReal(time.Millisecond)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx, 0) }()

	n := New(logx.Nop())
	got := make(chan any, 1)
	if _, err := n.Setup(Registration{Event: UDPReadAhead, Qualifier: "sock3", Queue: q, Run: func(arg any) { got <- arg }, Arg: 42}); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New()
	attached := make(chan error, 1)
	go func() { attached <- n.Attach(ctx, bus) }()

	deadline := time.After(2 * time.Second)
	for {
		// Attach subscribes asynchronously; republish until it is listening.
		bus.Publish(eventbus.Event{Type: "unrelated"})
		bus.Publish(eventbus.Event{Type: UDPReadAhead.String(), Data: "sock3"})
		select {
		case arg := <-got:
			if arg != 42 {
				t.Fatalf("arg = %v, want 42", arg)
			}
			cancel()
			if err := <-attached; !errors.Is(err, context.Canceled) {
				t.Fatalf("Attach = %v", err)
			}
			return
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("bus event did not trigger work")
		}
	}
}
