package dispatch

import (
	"context"
	"fmt"
)

// GoExecutor runs every job on its own goroutine.
type GoExecutor struct{}

func (GoExecutor) Submit(ctx context.Context, job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q: Run is nil", job.Name)
	}
	go job.Run(ctx, job.Input)
	return nil
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) error

func (f ExecutorFunc) Submit(ctx context.Context, job Job) error { return f(ctx, job) }
