package objectstore

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner fans work out across goroutines bounded by a concurrency limit, built on
// errgroup the way the teacher's TaskRunner drives phase-2 replication fan-out. TxStore
// uses it to flush every write-locked key concurrently on commit; packedstore writes its
// containers sequentially and does not use it.
type TaskRunner struct {
	eg      *errgroup.Group
	ctx     context.Context
	limiter chan struct{}
}

// NewTaskRunner returns a TaskRunner whose Go calls stop the first error and whose context
// is canceled as soon as any task fails. maxConcurrency <= 0 means unbounded.
func NewTaskRunner(ctx context.Context, maxConcurrency int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	var limiter chan struct{}
	if maxConcurrency > 0 {
		limiter = make(chan struct{}, maxConcurrency)
	}
	return &TaskRunner{eg: eg, ctx: ctx2, limiter: limiter}
}

// Context returns the runner's derived context, canceled once any task errors.
func (tr *TaskRunner) Context() context.Context {
	return tr.ctx
}

// Go schedules task, blocking the caller until a concurrency slot is free when bounded.
func (tr *TaskRunner) Go(task func() error) {
	if tr.limiter != nil {
		tr.limiter <- struct{}{}
	}
	tr.eg.Go(func() error {
		if tr.limiter != nil {
			defer func() { <-tr.limiter }()
		}
		return task()
	})
}

// Wait blocks until every scheduled task completes, returning the first error, if any.
func (tr *TaskRunner) Wait() error {
	return tr.eg.Wait()
}
