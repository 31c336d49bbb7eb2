package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/metrics"
)

// TaskFunc is a unit of background work. Its error is logged, never returned to the submitter.
type TaskFunc func(ctx context.Context) error

type task struct {
	name string
	fn   TaskFunc
}

type ExecutorConfig struct {
	Workers   int
	QueueSize int
}

// TaskExecutor runs fire-and-forget work on a fixed pool of goroutines
type TaskExecutor struct {
	queue   chan task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *metrics.MetricsRegistry

	mu      sync.RWMutex
	closed  bool
	nextID  uint64
	pending map[uint64]*delayedTask

	inFlight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

type delayedTask struct {
	timer *time.Timer
	task  task
}

// ExecutorStats is a point-in-time view of the executor
type ExecutorStats struct {
	Queued    int   `json:"queued"`
	Delayed   int   `json:"delayed"`
	InFlight  int64 `json:"inFlight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// NewTaskExecutor starts cfg.Workers goroutines. m may be nil.
func NewTaskExecutor(cfg ExecutorConfig, m *metrics.MetricsRegistry) *TaskExecutor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &TaskExecutor{
		queue:   make(chan task, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
		pending: make(map[uint64]*delayedTask),
	}

	logging.Info("Starting task executor", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *TaskExecutor) worker() {
	defer e.wg.Done()
	for t := range e.queue {
		e.run(t)
	}
}

// Submit queues fn without blocking. When the queue is full the task runs on
// its own goroutine instead of being dropped. It reports false once the
// executor is shut down.
func (e *TaskExecutor) Submit(name string, fn TaskFunc) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		logging.Warn("Task rejected, executor is shut down", "task", name)
		return false
	}
	e.enqueue(task{name: name, fn: fn})
	return true
}

// must be called with mu held
func (e *TaskExecutor) enqueue(t task) {
	select {
	case e.queue <- t:
	default:
		logging.Warn("Task queue full, running on overflow goroutine", "task", t.name)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.run(t)
		}()
	}
}

// SubmitAfter queues fn once delay has elapsed. Delayed tasks still pending
// at shutdown are run immediately rather than lost.
func (e *TaskExecutor) SubmitAfter(name string, delay time.Duration, fn TaskFunc) bool {
	if delay <= 0 {
		return e.Submit(name, fn)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		logging.Warn("Delayed task rejected, executor is shut down", "task", name)
		return false
	}

	id := e.nextID
	e.nextID++
	d := &delayedTask{task: task{name: name, fn: fn}}
	e.pending[id] = d
	d.timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.pending[id]; !ok {
			return
		}
		delete(e.pending, id)
		if !e.closed {
			e.enqueue(d.task)
		}
	})
	return true
}

func (e *TaskExecutor) run(t task) {
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	err := e.safeRun(t)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		e.failed.Add(1)
		logging.Warn("Background task failed", "task", t.name, "error", err)
	} else {
		e.completed.Add(1)
	}
	if e.metrics != nil {
		e.metrics.TasksTotal.WithLabelValues(t.name, outcome).Inc()
	}
}

func (e *TaskExecutor) safeRun(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Background task panicked", "task", t.name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(e.ctx)
}

// Stats reports queue depth and counters
func (e *TaskExecutor) Stats() ExecutorStats {
	e.mu.RLock()
	delayed := len(e.pending)
	e.mu.RUnlock()
	return ExecutorStats{
		Queued:    len(e.queue),
		Delayed:   delayed,
		InFlight:  e.inFlight.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
	}
}

// Shutdown stops accepting work, runs pending delayed tasks, and waits for the
// queue to drain. When ctx ends first, running tasks see their context cancelled.
func (e *TaskExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	// a timer that already fired finds its entry gone and returns
	for id, d := range e.pending {
		d.timer.Stop()
		delete(e.pending, id)
		e.enqueue(d.task)
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		logging.Info("Task executor stopped")
		return nil
	case <-ctx.Done():
		e.cancel()
		return fmt.Errorf("task executor shutdown: %w", ctx.Err())
	}
}
