package journal

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

const (
	defaultBuffer = 1024
	batchSize     = 128
	flushEvery    = 200 * time.Millisecond
)

// Recorder is a workqueue.Observer that writes records to a Store from its
// own goroutine. Dispatched never blocks: when the buffer is full the
// record is dropped and a throttled warning is logged.
type Recorder struct {
	store Store
	log   logx.Logger
	ch    chan workqueue.Record
	warn  *rate.Limiter

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewRecorder(store Store, buffer int, log logx.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Recorder{
		store: store,
		log:   log.With(logx.String("comp", "journal")),
		ch:    make(chan workqueue.Record, buffer),
		warn:  rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

func (r *Recorder) Dispatched(rec workqueue.Record) {
	select {
	case r.ch <- rec:
	default:
		n := r.dropped.Add(1)
		if r.warn.Allow() {
			r.log.Warn("journal buffer full; dropping records", logx.Uint64("dropped_total", n))
		}
	}
}

// Run writes batches until ctx is done, then flushes what is buffered.
func (r *Recorder) Run(ctx context.Context) error {
	t := time.NewTicker(flushEvery)
	defer t.Stop()
	batch := make([]workqueue.Record, 0, batchSize)
	for {
		select {
		case <-ctx.Done():
			r.drain(&batch)
			fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			r.flush(fctx, &batch)
			cancel()
			return ctx.Err()
		case rec := <-r.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				r.flush(ctx, &batch)
			}
		case <-t.C:
			r.flush(ctx, &batch)
		}
	}
}

func (r *Recorder) drain(batch *[]workqueue.Record) {
	for {
		select {
		case rec := <-r.ch:
			*batch = append(*batch, rec)
		default:
			return
		}
	}
}

func (r *Recorder) flush(ctx context.Context, batch *[]workqueue.Record) {
	if len(*batch) == 0 {
		return
	}
	if err := r.store.Append(ctx, *batch); err != nil {
		r.failed.Add(uint64(len(*batch)))
		if r.warn.Allow() {
			r.log.Warn("journal append failed", logx.Int("records", len(*batch)), logx.Err(err))
		}
	} else {
		r.written.Add(uint64(len(*batch)))
	}
	*batch = (*batch)[:0]
}

func (r *Recorder) Recent(ctx context.Context, n int) ([]workqueue.Record, error) {
	return r.store.Recent(ctx, n)
}

// Stats reports records written, dropped on a full buffer, and lost to
// store errors.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func (r *Recorder) Stats() Stats {
	return Stats{Written: r.written.Load(), Dropped: r.dropped.Load(), Failed: r.failed.Load()}
}
