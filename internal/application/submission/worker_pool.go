package submission

import (
	"context"
	"sync"
)

// job represents an input to be processed by a worker
type job[T any] struct {
	input T
	index int
}

// jobResult carries a worker's output back with the input position
type jobResult[R any] struct {
	output R
	index  int
}

// WorkerPool runs a fixed number of goroutines over a batch of inputs.
// A pool processes a single batch; create a new one per call.
type WorkerPool[T, R any] struct {
	workerCount int
	jobChan     chan job[T]
	resultChan  chan jobResult[R]
	process     func(context.Context, T) R
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewWorkerPool creates a pool of workerCount workers applying process to each input.
func NewWorkerPool[T, R any](ctx context.Context, workerCount int, process func(context.Context, T) R) *WorkerPool[T, R] {
	if workerCount <= 0 {
		workerCount = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool[T, R]{
		workerCount: workerCount,
		jobChan:     make(chan job[T], workerCount*2),
		resultChan:  make(chan jobResult[R], workerCount*2),
		process:     process,
		ctx:         poolCtx,
		cancel:      cancel,
	}
}

// Start starts the workers
func (p *WorkerPool[T, R]) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop cancels the pool and waits for the workers to exit
func (p *WorkerPool[T, R]) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Submit queues a job
func (p *WorkerPool[T, R]) Submit(j job[T]) error {
	select {
	case p.jobChan <- j:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (p *WorkerPool[T, R]) worker() {
	defer p.wg.Done()

	for j := range p.jobChan {
		out := p.process(p.ctx, j.input)

		select {
		case p.resultChan <- jobResult[R]{output: out, index: j.index}:
		case <-p.ctx.Done():
			return
		}
	}
}

// Process runs every input through the pool and returns the outputs in input
// order. On cancellation the outputs collected so far are returned with the
// context error.
func (p *WorkerPool[T, R]) Process(inputs []T) ([]R, error) {
	p.Start()
	defer p.Stop()

	go func() {
		defer close(p.jobChan)
		for i, in := range inputs {
			if err := p.Submit(job[T]{input: in, index: i}); err != nil {
				return
			}
		}
	}()

	outputs := make([]R, len(inputs))
	for received := 0; received < len(inputs); received++ {
		select {
		case r := <-p.resultChan:
			outputs[r.index] = r.output
		case <-p.ctx.Done():
			return outputs, p.ctx.Err()
		}
	}
	return outputs, nil
}
