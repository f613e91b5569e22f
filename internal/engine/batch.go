package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/script"
)

// BatchJob is one program run on its own executor.
type BatchJob struct {
	Name     string
	Executor *Executor
	Program  *script.Program
}

// BatchResult pairs a job name with its result.
type BatchResult struct {
	Name   string  `yaml:"name"   json:"name"`
	Result *Result `yaml:"result" json:"result"`
}

// RunBatch runs jobs with at most maxConcurrency in flight and returns
// their results in job order. Jobs that never start because ctx ended are
// reported as cancelled.
func RunBatch(ctx context.Context, jobs []BatchJob, maxConcurrency int) []BatchResult {
	results := make([]BatchResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	semaphore := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	for i, job := range jobs {
		results[i].Name = job.Name
		wg.Add(1)
		go func(i int, job BatchJob) {
			defer wg.Done()
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				results[i].Result = notStarted(job, ctx.Err())
				return
			}
			defer func() { <-semaphore }()
			results[i].Result = job.Executor.Run(ctx, job.Program)
		}(i, job)
	}
	wg.Wait()
	return results
}

func notStarted(job BatchJob, err error) *Result {
	return &Result{
		Name:           job.Program.Name,
		State:          StateCancelled,
		TotalSteps:     job.Program.Total,
		SkippedSteps:   job.Program.Total,
		FinalPageState: model.PageUnknown,
		Message:        fmt.Sprintf("%v: not started: %v", ErrCancelled, err),
	}
}
