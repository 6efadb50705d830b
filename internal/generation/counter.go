package generation

import (
	"context"
	"sync/atomic"
)

// CallCounter counts provider calls made on behalf of one request.
type CallCounter struct {
	n atomic.Int64
}

// Count returns the number of calls observed so far.
func (c *CallCounter) Count() int {
	if c == nil {
		return 0
	}
	return int(c.n.Load())
}

type counterKey struct{}

// WithCallCounter attaches a fresh counter to ctx. Every Guard call made with
// the returned context, or a context derived from it, increments it.
func WithCallCounter(ctx context.Context) (context.Context, *CallCounter) {
	c := &CallCounter{}
	return context.WithValue(ctx, counterKey{}, c), c
}

func countCall(ctx context.Context) {
	if c, ok := ctx.Value(counterKey{}).(*CallCounter); ok {
		c.n.Add(1)
	}
}
