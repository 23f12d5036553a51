package errgroup

import (
	"context"
	"sync"

	"github.com/driftlab/cascade/internal/logutils"
)

// Group runs a set of goroutines and collects the first error, recovering
// panics into errors so a panicking task cannot take the process down.
type Group struct {
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
}

// WithContext returns a Group whose derived context is cancelled the first
// time a goroutine fails or panics.
func WithContext(ctx context.Context) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{cancel: cancel}, ctx
}

func (g *Group) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if perr := logutils.WrapRecover(recover()); perr != nil {
				g.report(perr)
			}
		}()
		if err := fn(); err != nil {
			g.report(err)
		}
	}()
}

func (g *Group) report(err error) {
	g.errOnce.Do(func() {
		g.err = err
		if g.cancel != nil {
			g.cancel()
		}
	})
}

// Wait blocks until all goroutines started with Go have returned, then
// returns the first error among them.
func (g *Group) Wait() error {
	g.wg.Wait()
	if g.cancel != nil {
		g.cancel()
	}
	return g.err
}
