package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAccessQueueSize = 256
	defaultAccessWorkers   = 4
	accessMaxAttempts      = 3
	accessAttemptTimeout   = 5 * time.Second
	accessRetryBackoff     = 50 * time.Millisecond
)

// AccessUpdater runs fire-and-forget access-stat writes on a bounded
// worker pool. When the queue is full the task is dropped with a log,
// never blocking the recall path. Each task is retried up to three
// times with linear backoff; a task that still fails is logged and
// abandoned.
type AccessUpdater struct {
	tasks   chan func(ctx context.Context) error
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// NewAccessUpdater starts the worker pool. Zero arguments select the
// defaults (queue 256, workers 4).
func NewAccessUpdater(queueSize, workers int) *AccessUpdater {
	if queueSize <= 0 {
		queueSize = defaultAccessQueueSize
	}
	if workers <= 0 {
		workers = defaultAccessWorkers
	}

	u := &AccessUpdater{
		tasks: make(chan func(ctx context.Context) error, queueSize),
	}

	u.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go u.worker()
	}
	return u
}

// Enqueue schedules a task without blocking. Returns false if the
// queue is full and the task was dropped.
func (u *AccessUpdater) Enqueue(task func(ctx context.Context) error) bool {
	select {
	case u.tasks <- task:
		return true
	default:
		u.dropped.Add(1)
		slog.Debug("Access update queue full, dropping task",
			"dropped_total", u.dropped.Load())
		return false
	}
}

// Dropped returns the number of tasks dropped due to queue overflow.
func (u *AccessUpdater) Dropped() int64 {
	return u.dropped.Load()
}

// Close stops accepting tasks and waits for in-flight work to drain.
func (u *AccessUpdater) Close() {
	u.once.Do(func() {
		close(u.tasks)
	})
	u.wg.Wait()
}

func (u *AccessUpdater) worker() {
	defer u.wg.Done()

	for task := range u.tasks {
		u.run(task)
	}
}

func (u *AccessUpdater) run(task func(ctx context.Context) error) {
	var lastErr error
	for attempt := 1; attempt <= accessMaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), accessAttemptTimeout)
		lastErr = task(ctx)
		cancel()

		if lastErr == nil {
			return
		}
		if attempt < accessMaxAttempts {
			time.Sleep(accessRetryBackoff * time.Duration(attempt))
		}
	}

	slog.Warn("Access update failed after retries",
		"attempts", accessMaxAttempts,
		"error", lastErr)
}
