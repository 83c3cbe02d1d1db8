package detector

import (
	"sync"

	"go.uber.org/multierr"
)

// Pool is a simple model pool to open multiple of the same Model, one per
// worker
type Pool struct {
	// models available for use
	models chan Model
	// all models opened, closed together
	all   []Model
	close sync.Once
	err   error
}

// NewPool opens size models with the factory.  If any model fails to open
// the ones already opened are closed.
func NewPool(size int, factory ModelFactory) (*Pool, error) {

	p := &Pool{
		models: make(chan Model, size),
		all:    make([]Model, 0, size),
	}

	for i := 0; i < size; i++ {
		m, err := factory(i)

		if err != nil {
			// close any instances that may have been created before receiving
			// the error
			return nil, multierr.Append(err, p.Close())
		}

		p.all = append(p.all, m)
		p.Return(m)
	}

	return p, nil
}

// Size returns the number of models in the pool
func (p *Pool) Size() int {
	return len(p.all)
}

// Get a model from the pool, blocking until one is free
func (p *Pool) Get() Model {
	return <-p.models
}

// Return a model to the pool
func (p *Pool) Return(m Model) {
	select {
	case p.models <- m:
	default:
		// pool is full
	}
}

// Close every model in the pool exactly once, returning their combined
// close errors
func (p *Pool) Close() error {

	p.close.Do(func() {
		for _, m := range p.all {
			p.err = multierr.Append(p.err, m.Close())
		}
	})

	return p.err
}
