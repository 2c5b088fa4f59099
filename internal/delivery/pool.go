package delivery

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when work is submitted to a stopped pool.
var ErrClosed = errors.New("delivery pool closed")

// Pool runs tasks on a fixed number of workers. Tasks beyond the worker
// count wait in an unbounded FIFO backlog, so Submit never blocks.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog []func()
	running int
	stopped bool
	wg      sync.WaitGroup
}

// NewPool starts a pool with the given number of workers (at least one).
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.backlog) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		task := p.backlog[0]
		p.backlog[0] = nil
		p.backlog = p.backlog[1:]
		p.running++
		p.mu.Unlock()

		task()

		p.mu.Lock()
		p.running--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// Submit queues task. It is accepted while the pool is draining.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrClosed
	}
	p.backlog = append(p.backlog, task)
	p.cond.Broadcast()
	return nil
}

// Pending returns the number of queued and running tasks.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog) + p.running
}

// Close waits until the backlog is empty and no task is running, then
// stops the workers. Tasks submitted while draining are run too. If ctx
// ends first the backlog is dropped, running tasks are still awaited and
// ctx.Err() is returned.
func (p *Pool) Close(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		p.mu.Lock()
		for (len(p.backlog) > 0 || p.running > 0) && !p.stopped {
			p.cond.Wait()
		}
		p.stopped = true
		p.cond.Broadcast()
		p.mu.Unlock()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		p.mu.Lock()
		p.stopped = true
		p.backlog = nil
		p.cond.Broadcast()
		p.mu.Unlock()
		err = ctx.Err()
	}

	p.wg.Wait()
	return err
}
