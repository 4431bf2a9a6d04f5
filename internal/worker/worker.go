// Package worker runs one goroutine per chat, draining a FIFO job queue.
// Jobs for the same chat are handled strictly in arrival order; a shared
// semaphore bounds how many chats handle jobs at the same time.
package worker

import "context"

type StartOptions[J any] struct {
	Ctx    context.Context
	Sem    chan struct{}
	Jobs   <-chan J
	Handle func(context.Context, J)
}

// Start launches the worker goroutine. It exits when the context is
// canceled or the job channel is closed.
func Start[J any](opts StartOptions[J]) {
	go func() {
		for {
			select {
			case <-opts.Ctx.Done():
				return
			case job, ok := <-opts.Jobs:
				if !ok {
					return
				}
				if opts.Sem != nil {
					select {
					case opts.Sem <- struct{}{}:
					case <-opts.Ctx.Done():
						return
					}
				}
				func() {
					if opts.Sem != nil {
						defer func() { <-opts.Sem }()
					}
					opts.Handle(opts.Ctx, job)
				}()
			}
		}
	}()
}

// Enqueue places a job on the queue, giving up if either context ends
// first.
func Enqueue[J any](ctx, workersCtx context.Context, jobs chan<- J, job J) error {
	if ctx == nil {
		ctx = workersCtx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-workersCtx.Done():
		return workersCtx.Err()
	case jobs <- job:
		return nil
	}
}
