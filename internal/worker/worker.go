package worker

import (
	"context"
	"log/slog"
	"sync"
)

type Job any

type ProcessFunc func(ctx context.Context, job Job) error

// Pool is a bounded worker pool. The notification dispatcher runs on it so
// that event delivery happens off the mutation path.
type Pool struct {
	numWorkers int
	jobs       chan Job
	processor  ProcessFunc
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, bufferSize int, processor ProcessFunc) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, bufferSize),
		processor:  processor,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 1; i <= p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.processor(ctx, job); err != nil {
				slog.Error("job failed", "error", err)
			}
		}
	}
}

// Submit enqueues a job, blocking while the buffer is full.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// TrySubmit enqueues a job without blocking. Returns false if the buffer is
// full and the job was dropped.
func (p *Pool) TrySubmit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
