package jobs

import (
	"context"
	"slices"

	"golang.org/x/sync/singleflight"

	"mercator-hq/ratchet/pkg/retention"
)

// Coalescing wraps a JobSource so concurrent reads of the same copy share
// one catalog query. Nothing is cached once the query returns.
type Coalescing struct {
	source retention.JobSource
	group  singleflight.Group
}

// NewCoalescing wraps source.
func NewCoalescing(source retention.JobSource) *Coalescing {
	return &Coalescing{source: source}
}

// Jobs returns the jobs of copyID, joining an in-flight read if one exists.
func (c *Coalescing) Jobs(ctx context.Context, copyID string) ([]retention.Job, error) {
	ch := c.group.DoChan(copyID, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others.
		return c.source.Jobs(context.WithoutCancel(ctx), copyID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers must not share the backing array.
		return slices.Clone(res.Val.([]retention.Job)), nil
	}
}
