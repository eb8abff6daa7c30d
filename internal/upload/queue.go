package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one queued upload.
type Task struct {
	Category Category
	Run      func(ctx context.Context) error
}

// CategoryStats counts task outcomes of one category.
type CategoryStats struct {
	Succeeded int    `json:"succeeded"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// Queue runs upload tasks one at a time on a single worker goroutine, so writes
// to the same backend session never race. Enqueue never blocks the caller.
type Queue struct {
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending []Task
	idle    chan struct{} // closed while nothing is pending or running
	isIdle  bool
	closed  bool
	halted  bool // set when Close gives up on draining
	stats   map[Category]*CategoryStats

	cancelRun context.CancelFunc // cancels the running task

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewQueue starts a queue whose tasks each get at most timeout to run.
func NewQueue(log *zap.Logger, timeout time.Duration) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	idle := make(chan struct{})
	close(idle)
	q := &Queue{
		log:     log.Named("queue"),
		timeout: timeout,
		idle:    idle,
		isIdle:  true,
		stats:   make(map[Category]*CategoryStats),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

// Enqueue schedules t. It returns false once the queue is closed.
func (q *Queue) Enqueue(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warn("queue closed, dropping upload", zap.String("category", string(t.Category)))
		return false
	}
	if q.isIdle {
		q.idle = make(chan struct{})
		q.isIdle = false
	}
	q.pending = append(q.pending, t)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Drain blocks until every queued task has run or ctx is done.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, drains what is queued and stops the worker.
// When ctx ends first, queued tasks are dropped and the running one is canceled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	err := q.Drain(ctx)
	if err != nil {
		q.mu.Lock()
		dropped := len(q.pending)
		q.pending = nil
		q.halted = true
		if q.cancelRun != nil {
			q.cancelRun()
		}
		q.mu.Unlock()

		q.log.Warn("queue closed before draining", zap.Int("dropped", dropped), zap.Error(err))
		err = fmt.Errorf("close queue: %d pending uploads dropped: %w", dropped, err)
	}
	close(q.stop)
	<-q.done
	return err
}

// Stats returns a copy of the per-category counters.
func (q *Queue) Stats() map[Category]CategoryStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[Category]CategoryStats, len(q.stats))
	for k, v := range q.stats {
		out[k] = *v
	}
	return out
}

// Pending returns the number of tasks waiting to run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.halted {
			if !q.isIdle {
				close(q.idle)
				q.isIdle = true
			}
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			if !q.isIdle {
				close(q.idle)
				q.isIdle = true
			}
			q.mu.Unlock()

			select {
			case <-q.wake:
				continue
			case <-q.stop:
				return
			}
		}
		t := q.pending[0]
		q.pending = q.pending[1:]
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		q.cancelRun = cancel
		q.mu.Unlock()

		q.run(ctx, t)

		q.mu.Lock()
		q.cancelRun = nil
		q.mu.Unlock()
		cancel()
	}
}

func (q *Queue) run(ctx context.Context, t Task) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("upload task panicked: %v", r)
			}
		}()
		return t.Run(ctx)
	}()

	q.mu.Lock()
	st, ok := q.stats[t.Category]
	if !ok {
		st = &CategoryStats{}
		q.stats[t.Category] = st
	}
	switch {
	case err == nil:
		st.Succeeded++
	case IsSkipped(err):
		st.Skipped++
	default:
		st.Failed++
		st.LastError = err.Error()
	}
	q.mu.Unlock()

	if err != nil && !IsSkipped(err) {
		q.log.Warn("upload task failed", zap.String("category", string(t.Category)), zap.Error(err))
	}
}
