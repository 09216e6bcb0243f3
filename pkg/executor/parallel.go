package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ExecuteTasksParallel runs delegations concurrently, at most
// MaxParallelTasks in flight. Results are returned in input order; one
// task's failure never stops the others.
func (e *Executor) ExecuteTasksParallel(ctx context.Context, tasks []TaskDelegation) []TaskResult {
	if len(tasks) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(e.cfg.MaxParallelTasks))
	results := make([]TaskResult, len(tasks))

	var wg sync.WaitGroup
	for i, d := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a slot; everything not
			// yet started fails the same way.
			results[i] = TaskResult{
				TaskID:  d.TaskID,
				AgentID: d.AgentID,
				Outcome: OutcomeFailure,
				Err:     err,
			}
			continue
		}

		wg.Add(1)
		go func(i int, d TaskDelegation) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], _ = e.ExecuteTask(ctx, d)
		}(i, d)
	}
	wg.Wait()

	return results
}
