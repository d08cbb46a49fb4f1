package commitlog

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Listener is notified after a commit reached the database.
type Listener interface {
	OnCommit(ctx context.Context, m *ChangeMap) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, m *ChangeMap) error

// OnCommit calls f.
func (f ListenerFunc) OnCommit(ctx context.Context, m *ChangeMap) error { return f(ctx, m) }

// Dispatch delivers m to every listener concurrently and returns the first
// error. A failing listener does not cancel the others. Listeners must treat
// m as read-only.
func Dispatch(ctx context.Context, m *ChangeMap, listeners ...Listener) error {
	var g errgroup.Group
	for _, l := range listeners {
		if l == nil {
			continue
		}
		g.Go(func() error { return l.OnCommit(ctx, m) })
	}
	return g.Wait()
}
