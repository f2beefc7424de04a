// Package worker runs a bounded pool of goroutines against a queue of
// dispatch jobs, draining whatever is already queued before exiting on
// cancellation rather than dropping in-flight work.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Job is a unit of batch-dispatch work a pool worker executes synchronously.
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is the outcome of executing a Job.
type Result interface {
	Error() error
}

// SpawnPool starts numWorkers goroutines pulling from jobQueue and returns a
// WaitGroup the caller waits on after closing jobQueue. On context
// cancellation, a worker drains whatever remains buffered in jobQueue
// before exiting, so a cancelled batch dispatch never silently drops a
// group that was already queued.
func SpawnPool(ctx context.Context, numWorkers int, jobQueue <-chan Job, logger *slog.Logger) *sync.WaitGroup {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	wg := &sync.WaitGroup{}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			executeJob := func(job Job) {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("dispatch job panicked", "worker_id", workerID, "panic", fmt.Sprintf("%v", r))
					}
				}()

				result := job.Execute(ctx)
				if result != nil && result.Error() != nil {
					logger.Error("dispatch job failed", "worker_id", workerID, "error", result.Error())
				}
			}

			for {
				select {
				case <-ctx.Done():
					for job := range jobQueue {
						executeJob(job)
					}
					return
				case job, ok := <-jobQueue:
					if !ok {
						return
					}
					executeJob(job)
				}
			}
		}(i)
	}

	return wg
}
