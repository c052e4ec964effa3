// Package group runs a set of concurrent tasks with fail-fast semantics:
// the first task to terminate, whether cleanly or with an error, causes
// every other task in the group to be cancelled. This guarantees that if
// any watch dies, or the dispatcher dies, the whole controller shuts
// down rather than silently losing an event source.
//
// It is built on golang.org/x/sync/errgroup, which the teacher uses for
// its source-startup fan-out, but errgroup alone only cancels on a
// non-nil error; group additionally cancels on the first task to return
// at all, per spec.
package group

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work run under a Group. It should return promptly
// once ctx is cancelled.
type Task func(ctx context.Context) error

// Group runs Tasks with fail-fast semantics.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New derives a cancellable context from parent and returns a Group
// along with that context; Tasks should be started with the returned
// context, not parent, so that a sibling's termination reaches them.
func New(parent context.Context) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	eg, egCtx := errgroup.WithContext(ctx)
	return &Group{ctx: egCtx, cancel: cancel, eg: eg}, egCtx
}

// Go starts task in a new goroutine. Once it returns — for any reason,
// including a nil error — the Group's context is cancelled so every
// other running Task observes ctx.Done() promptly. Wait reports the
// first non-nil error, if any task returned one, else nil.
func (g *Group) Go(task Task) {
	g.eg.Go(func() error {
		defer g.cancel()
		return task(g.ctx)
	})
}

// Wait blocks until every started Task has returned, then returns the
// first non-nil error reported by any of them (nil if every task
// succeeded). Wait must only be called after all Go calls have been
// made.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
