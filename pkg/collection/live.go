package collection

import (
	"context"
	"time"

	"github.com/josedab/pocket-go/pkg/query"
	"github.com/josedab/pocket-go/pkg/types"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// Watch opens a live query: the returned channel carries the current result
// set immediately and again after every change that could affect it. The
// channel closes when ctx is cancelled. Slow consumers only ever see the
// newest result; intermediate snapshots are coalesced.
func (c *Collection) Watch(ctx context.Context, spec types.QuerySpec) (<-chan []types.Document, error) {
	if err := query.Validate(spec.Filter); err != nil {
		return nil, err
	}

	sub := c.store.Changes().Subscribe()
	out := make(chan []types.Document, 1)

	initial, err := c.store.Query(ctx, spec)
	if err != nil {
		c.store.Changes().Unsubscribe(sub)
		return nil, err
	}
	out <- initial

	go func() {
		defer close(out)
		defer c.store.Changes().Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if !c.affects(ev, spec) {
					continue
				}
				results, err := c.store.Query(ctx, spec)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					c.logger.Error().Err(err).Msg("live query re-evaluation failed")
					continue
				}
				// Coalesce: replace an undelivered snapshot with the newer one.
				select {
				case out <- results:
				default:
					select {
					case <-out:
					default:
					}
					out <- results
				}
			}
		}
	}()
	return out, nil
}

// affects reports whether a change event can alter the result of spec. With a
// limit or skip any membership change can shift the window, so only events
// where neither side matches the filter are skipped.
func (c *Collection) affects(ev types.ChangeEvent, spec types.QuerySpec) bool {
	newMatches := ev.Document != nil && !ev.Document.Deleted() && query.Matches(ev.Document, spec.Filter)
	oldMatches := ev.Previous != nil && !ev.Previous.Deleted() && query.Matches(ev.Previous, spec.Filter)
	return newMatches || oldMatches
}
