package pool

import (
	"sync"
)

// Pool is a basic work pool running a job on each name received, with a
// bounded number of goroutines.
type Pool struct {
	workerQ chan struct{}
	f       func(name string)
	wg      sync.WaitGroup
}

// NewPool creates a new worker pool with a goroutine limit
// and a job function to execute on the incoming names.
func NewPool(routines int, job func(name string)) *Pool {
	if routines < 1 {
		routines = 1
	}
	q := make(chan struct{}, routines)
	for i := 0; i < routines; i++ {
		q <- struct{}{}
	}
	return &Pool{
		workerQ: q,
		f:       job,
	}
}

// Work is a blocking call that starts the
// pool working on a channel of names until it is closed.
func (p *Pool) Work(c <-chan string) {
	for name := range c {
		<-p.workerQ
		p.wg.Add(1)
		go func(name string) {
			defer p.wg.Done()
			p.f(name)
			p.workerQ <- struct{}{}
		}(name)
	}
}

// Wait waits until the pool is finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
