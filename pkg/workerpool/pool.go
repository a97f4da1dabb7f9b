// Package workerpool provides bounded fan-out for batches of independent
// lookups against the record store. It never retries: a failed task is
// reported as failed and the caller decides what a failure means.
package workerpool

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task is one unit of work in a batch.
type Task struct {
	ID string
	Fn func(ctx context.Context) (any, error)
}

// Result is the outcome of one task. Results preserve batch order.
type Result struct {
	TaskID string
	Data   any
	Err    error
}

// Pool runs batches with a fixed worker bound.
type Pool struct {
	workers int
	logger  *zap.Logger
}

// New creates a pool. workers <= 0 falls back to 4.
func New(workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{workers: workers, logger: logger}
}

// Run executes all tasks with at most p.workers in flight and returns one
// result per task, in task order. Cancellation of ctx fails the remaining
// tasks with the context error.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = Result{TaskID: task.ID, Err: ctx.Err()}
				return
			}

			if err := ctx.Err(); err != nil {
				results[i] = Result{TaskID: task.ID, Err: err}
				return
			}

			data, err := task.Fn(ctx)
			if err != nil {
				p.logger.Debug("pool task failed",
					zap.String("task_id", task.ID), zap.Error(err))
			}
			results[i] = Result{TaskID: task.ID, Data: data, Err: err}
		}(i, task)
	}

	wg.Wait()
	return results
}
