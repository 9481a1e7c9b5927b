package allocator

import (
	"sync/atomic"
	"time"
)

// metricsDispatcher runs Metrics-sink calls off the allocate/deallocate
// hot path on a small pool of reusable goroutines, so a slow sink never
// adds latency to a caller holding an arena lock. Idle workers age out
// after maxAge; a panicking sink is recovered and discarded silently,
// since a Metrics implementation is never allowed to affect a caller.
type metricsDispatcher struct {
	tasks chan func()

	workers int32
	maxIdle int32
	maxAge  int64 // milliseconds

	ticking int64 // atomic: nonzero while the aging ticker is running
}

func newMetricsDispatcher(maxIdleWorkers, taskBuffer int, maxAge time.Duration) *metricsDispatcher {
	return &metricsDispatcher{
		tasks:   make(chan func(), taskBuffer),
		maxIdle: int32(maxIdleWorkers),
		maxAge:  maxAge.Milliseconds(),
	}
}

// Go enqueues f to run on a pool goroutine. If the queue is full, f
// runs on a fresh one-off goroutine instead of blocking the caller.
func (d *metricsDispatcher) Go(f func()) {
	select {
	case d.tasks <- f:
	default:
		go d.runTask(f)
		return
	}
	if len(d.tasks) == 0 {
		return
	}
	go d.runWorker()
}

func (d *metricsDispatcher) runTask(f func()) {
	defer func() {
		recover()
	}()
	f()
}

func (d *metricsDispatcher) runWorker() {
	id := atomic.AddInt32(&d.workers, 1)
	defer atomic.AddInt32(&d.workers, -1)

	if id > d.maxIdle {
		// over budget: drain whatever is queued right now, then exit
		// without waiting for more.
		for {
			select {
			case f := <-d.tasks:
				d.runTask(f)
			default:
				return
			}
		}
	}

	createdAt := time.Now().UnixMilli()
	for f := range d.tasks {
		d.runTask(f)

		now := atomic.LoadInt64(&d.ticking)
		if now == 0 {
			now = time.Now().UnixMilli()
			if atomic.CompareAndSwapInt64(&d.ticking, 0, now) {
				go d.runAgingTicker()
			}
		}
		if now-createdAt > d.maxAge {
			return
		}
	}
}

// noopTask wakes idle workers so runWorker's age check above runs even
// when no real task arrives for a while.
var noopTask = func() {}

func (d *metricsDispatcher) runAgingTicker() {
	defer atomic.StoreInt64(&d.ticking, 0)

	interval := time.Duration(d.maxAge) * time.Millisecond / 100
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for now := range t.C {
		if atomic.LoadInt32(&d.workers) == 0 {
			return
		}
		atomic.StoreInt64(&d.ticking, now.UnixMilli())
		d.tasks <- noopTask
	}
}
