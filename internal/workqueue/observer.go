package workqueue

import (
	"time"

	"kwork/internal/tick"
)

// Record describes one completed callback.
type Record struct {
	Queue  string `json:"queue"`
	Worker int    `json:"worker"`
	// Delay is the requested delay; Lateness is how many ticks past ready
	// the worker picked the item up.
	Delay    tick.Ticks    `json:"delay_ticks"`
	Lateness tick.Ticks    `json:"lateness_ticks"`
	Started  time.Time     `json:"started"`
	Took     time.Duration `json:"took"`
}

// Observer is told about every completed callback. It is called on the
// worker goroutine with no lock held and should return quickly.
type Observer interface {
	Dispatched(r Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r Record)

func (f ObserverFunc) Dispatched(r Record) { f(r) }

// Observers fans a record out to every non-nil observer, in order.
func Observers(obs ...Observer) Observer {
	list := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return multiObserver(list)
}

type multiObserver []Observer

func (m multiObserver) Dispatched(r Record) {
	for _, o := range m {
		o.Dispatched(r)
	}
}
