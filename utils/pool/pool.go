package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ledgerd/bookie/utils/log"
)

// Pool is a basic work pool. It runs a job on every input it is fed
// with at most a fixed number of goroutines and keeps the errors the
// job returned.
type Pool struct {
	workerQ chan struct{}
	f       func(input interface{}) error
	wg      sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewPool creates a new worker pool with a goroutine limit
// and a job function to execute on the incoming data.
func NewPool(routines int, job func(input interface{}) error) *Pool {
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
// pool working on a data input channel.
func (p *Pool) Work(c <-chan interface{}) {
	for v := range c {
		<-p.workerQ
		p.wg.Add(1)
		go func(input interface{}) {
			defer func() {
				p.workerQ <- struct{}{}
				p.wg.Done()
			}()
			p.run(input)
		}(v)
	}
}

func (p *Pool) run(input interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("pool job for %v panicked: %v", input, r)
			p.addErr(fmt.Errorf("job for %v panicked: %v", input, r))
		}
	}()
	if err := p.f(input); err != nil {
		p.addErr(err)
	}
}

func (p *Pool) addErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
}

// Wait waits until the pool is finished and returns every error the jobs returned.
func (p *Pool) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}
