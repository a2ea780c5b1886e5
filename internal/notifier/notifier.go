package notifier

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"kwork/internal/eventbus"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

var (
	ErrInvalidRegistration = errors.New("notifier: invalid registration")
	ErrUnknownKey          = errors.New("notifier: unknown key")
)

// Key identifies a registration.
type Key uint64

// Registration asks for Run(Arg) to be queued on Queue the next time Event
// is signalled with an equal Qualifier. A nil Qualifier only matches a nil
// signal qualifier.
type Registration struct {
	Event     EventType
	Qualifier any
	Queue     *workqueue.Queue
	Run       workqueue.Func
	Arg       any
}

// Notifier holds one-shot registrations. A registration fires at most once.
type Notifier struct {
	log logx.Logger

	mu      sync.Mutex
	seq     Key
	waiting map[Key]*entry
	// fired entries are queued but their callback has not started.
	fired map[Key]*entry
}

type entry struct {
	key  Key
	reg  Registration
	item workqueue.Item
}

func New(log logx.Logger) *Notifier {
	return &Notifier{
		log:     log.With(logx.String("comp", "notifier")),
		waiting: map[Key]*entry{},
		fired:   map[Key]*entry{},
	}
}

// Setup registers reg and returns its key.
func (n *Notifier) Setup(reg Registration) (Key, error) {
	if reg.Queue == nil || reg.Run == nil {
		return 0, fmt.Errorf("%w: queue and run are required", ErrInvalidRegistration)
	}
	if reg.Event < 0 || reg.Event >= numEvents {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRegistration, reg.Event)
	}
	if !isComparable(reg.Qualifier) {
		return 0, fmt.Errorf("%w: qualifier of type %T is not comparable", ErrInvalidRegistration, reg.Qualifier)
	}
	n.mu.Lock()
	n.seq++
	key := n.seq
	n.waiting[key] = &entry{key: key, reg: reg}
	n.mu.Unlock()
	return key, nil
}

// Teardown removes a registration that has not run yet. A fired
// registration whose work is still queued is cancelled.
func (n *Notifier) Teardown(key Key) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.waiting[key]; ok {
		delete(n.waiting, key)
		return nil
	}
	e, ok := n.fired[key]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownKey, key)
	}
	delete(n.fired, key)
	if err := e.reg.Queue.Cancel(&e.item); err != nil {
		// A worker already took it.
		return fmt.Errorf("%w: %d", ErrUnknownKey, key)
	}
	return nil
}

// Signal queues every registration matching ev and qualifier with no delay
// and returns how many were queued.
func (n *Notifier) Signal(ev EventType, qualifier any) int {
	if !isComparable(qualifier) {
		return 0
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	queued := 0
	for key, e := range n.waiting {
		if e.reg.Event != ev || e.reg.Qualifier != qualifier {
			continue
		}
		delete(n.waiting, key)
		if err := e.reg.Queue.Enqueue(&e.item, e.run(n), e.reg.Arg, 0); err != nil {
			n.log.Warn("notifier work not queued",
				logx.String("event", ev.String()),
				logx.Uint64("key", uint64(key)),
				logx.Err(err))
			continue
		}
		n.fired[key] = e
		queued++
	}
	if queued > 0 {
		n.log.Debug("event signalled", logx.String("event", ev.String()), logx.Int("queued", queued))
	}
	return queued
}

func (e *entry) run(n *Notifier) workqueue.Func {
	return func(arg any) {
		n.mu.Lock()
		delete(n.fired, e.key)
		n.mu.Unlock()
		e.reg.Run(arg)
	}
}

// Len returns the number of registrations waiting for a signal.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiting)
}

// Attach signals every bus event whose type names an EventType, using the
// event's Data as qualifier. It returns when ctx is done.
func (n *Notifier) Attach(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(64, EventNames()...)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := ParseEventType(e.Type)
			if err != nil {
				continue
			}
			n.Signal(ev, e.Data)
		}
	}
}

// isComparable checks the dynamic value, so a struct whose interface field
// holds a slice is rejected even though its type is comparable.
func isComparable(v any) bool {
	return v == nil || reflect.ValueOf(v).Comparable()
}
