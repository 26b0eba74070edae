package region

import (
	"context"
	"iter"
)

// ChildCache memoizes a node's children. A computation that fails or is
// canceled is not remembered, so the next call starts over. The zero value
// is ready to use; it is not safe for concurrent use.
type ChildCache struct {
	computed bool
	children []Region
}

// Computed reports whether children have been cached.
func (c *ChildCache) Computed() bool {
	return c.computed
}

// Get returns the cached children, computing them with fn on first use.
func (c *ChildCache) Get(ctx context.Context, fn func(context.Context) ([]Region, error)) ([]Region, error) {
	if c.computed {
		return c.children, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	children, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.children = children
	c.computed = true
	return children, nil
}

// Stream yields the cached children if present; otherwise it yields from
// seq while recording, and caches the result only if the sequence ran to
// completion without error.
func (c *ChildCache) Stream(ctx context.Context, seq iter.Seq2[Region, error]) iter.Seq2[Region, error] {
	return func(yield func(Region, error) bool) {
		if c.computed {
			for _, r := range c.children {
				if !yield(r, nil) {
					return
				}
			}
			return
		}
		var recorded []Region
		for r, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			recorded = append(recorded, r)
			if !yield(r, nil) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		c.children = recorded
		c.computed = true
	}
}
