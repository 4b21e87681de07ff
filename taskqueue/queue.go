// Package taskqueue implements a bounded-concurrency background task runner
// with per-task timeout and retry. Everything above it (timeline emitter,
// eval dispatch) uses it to keep telemetry writes off the caller's execution
// path: enqueue returns immediately, failures are retried then dropped with a
// log line, and shutdown flushes best-effort via Drain.
package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenttrace/logging"
)

// UseDefault makes a Task field fall back to the queue-level default.
const UseDefault = -1

// Task is one unit of background work. It is immutable once enqueued; the
// queue keeps its own retry bookkeeping.
type Task struct {
	// ID identifies the task in log lines. Not required to be unique.
	ID string

	// Operation performs the work. The context carries the per-attempt
	// timeout; operations should honor it at their own suspension points.
	Operation func(ctx context.Context) error

	// Timeout bounds one attempt. Zero (or negative) uses the queue default.
	Timeout time.Duration

	// MaxRetries is the number of re-attempts after the first failure.
	// UseDefault (-1) uses the queue default; zero disables retries.
	MaxRetries int
}

// Options configures a Queue.
type Options struct {
	// MaxConcurrency bounds how many task operations may be in flight at
	// once. This is a logical bound on concurrent awaited work, not CPU
	// parallelism.
	MaxConcurrency int

	// DefaultTimeout applies to tasks that do not set their own.
	DefaultTimeout time.Duration

	// DefaultRetries applies to tasks that set MaxRetries to UseDefault.
	DefaultRetries int

	// DrainTimeout bounds how long Drain waits for in-flight and pending
	// work before giving up.
	DrainTimeout time.Duration

	// Logger receives warnings for dropped and failed tasks.
	Logger logging.Logger
}

const (
	retryBackoffStep = 50 * time.Millisecond

	drainPollInitial = 10 * time.Millisecond
	drainPollFactor  = 1.5
	drainPollMax     = 100 * time.Millisecond
)

// Queue is a FIFO background task queue with a concurrency bound. Enqueue
// never blocks and never reports task outcomes to the caller; a task failure
// is isolated to that task. Safe for concurrent use.
type Queue struct {
	maxConcurrency int
	defaultTimeout time.Duration
	defaultRetries int
	drainTimeout   time.Duration
	logger         logging.Logger

	mu       sync.Mutex
	pending  []*Task
	active   map[*Task]struct{}
	draining bool
}

// New constructs a Queue with optional overrides.
func New(optFns ...func(o *Options)) *Queue {
	opts := Options{
		MaxConcurrency: 5,
		DefaultTimeout: 30 * time.Second,
		DefaultRetries: 2,
		DrainTimeout:   10 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Queue{
		maxConcurrency: opts.MaxConcurrency,
		defaultTimeout: opts.DefaultTimeout,
		defaultRetries: opts.DefaultRetries,
		drainTimeout:   opts.DrainTimeout,
		logger:         opts.Logger,
		active:         map[*Task]struct{}{},
	}
}

// Enqueue appends a task to the FIFO tail and returns immediately. While the
// queue is draining new tasks are dropped with a warning.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		q.logger.Warn("taskqueue: dropping task %s enqueued while draining", task.ID)
		return
	}
	q.pending = append(q.pending, &task)
	q.mu.Unlock()

	q.dispatch()
}

// dispatch pops tasks from the head of the FIFO while slots are free. Each
// start is handed to a fresh goroutine so bursts of back-to-back enqueues
// never recurse synchronously.
func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 && len(q.active) < q.maxConcurrency {
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.active[task] = struct{}{}
		go q.runTask(task)
	}
}

func (q *Queue) runTask(task *Task) {
	q.executeWithRetry(task)

	q.mu.Lock()
	delete(q.active, task)
	draining := q.draining
	q.mu.Unlock()

	// While draining, the drain loop owns re-dispatching.
	if !draining {
		q.dispatch()
	}
}

// executeWithRetry runs the task's attempts with linear backoff between them
// (50ms, 100ms, 150ms, ...). Timeline work is low-criticality, so exhausted
// retries drop the task with a log line and nothing else.
func (q *Queue) executeWithRetry(task *Task) {
	retries := task.MaxRetries
	if retries < 0 {
		retries = q.defaultRetries
	}
	maxAttempts := retries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := q.runAttempt(task)
		if err == nil {
			return
		}
		if attempt < maxAttempts {
			q.logger.Warn("taskqueue: task %s attempt %d/%d failed: %v", task.ID, attempt, maxAttempts, err)
			time.Sleep(retryBackoffStep * time.Duration(attempt))
			continue
		}
		q.logger.Error("taskqueue: dropping task %s after %d attempts: %v", task.ID, maxAttempts, err)
	}
}

// runAttempt races the operation against the attempt timeout. The timeout
// timer lives in the context and is always released, whichever side wins.
func (q *Queue) runAttempt(task *Task) error {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = q.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- task.Operation(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %s", timeout)
	}
}

// Drain flushes pending and in-flight work best-effort. It sets the draining
// flag (new enqueues are dropped), keeps dispatching queued tasks into free
// slots, and polls with a growing backoff (10ms, x1.5, capped at 100ms) until
// the queue is idle or DrainTimeout elapses. Drain never fails: on timeout it
// logs and returns so shutdown can proceed. A concurrent second call is a
// warned no-op.
func (q *Queue) Drain() {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		q.logger.Warn("taskqueue: drain already in progress")
		return
	}
	q.draining = true
	q.mu.Unlock()

	deadline := time.Now().Add(q.drainTimeout)
	delay := drainPollInitial
	for {
		q.dispatchDraining()

		q.mu.Lock()
		idle := len(q.pending) == 0 && len(q.active) == 0
		q.mu.Unlock()
		if idle {
			return
		}
		if time.Now().After(deadline) {
			q.logger.Warn("taskqueue: drain gave up after %s with %d pending, %d active",
				q.drainTimeout, q.PendingCount(), q.ActiveCount())
			return
		}

		time.Sleep(delay)
		delay = time.Duration(float64(delay) * drainPollFactor)
		if delay > drainPollMax {
			delay = drainPollMax
		}
	}
}

// dispatchDraining mirrors dispatch but runs while the draining flag is set.
func (q *Queue) dispatchDraining() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 && len(q.active) < q.maxConcurrency {
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.active[task] = struct{}{}
		go q.runTask(task)
	}
}

// ActiveCount returns how many tasks are currently executing.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// PendingCount returns how many tasks are queued but not yet started.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsDraining reports whether Drain has been initiated.
func (q *Queue) IsDraining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}
