package group_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nebula-controllers/reconciler-core/pkg/group"
)

func TestGoCancelsSiblingsOnCleanReturn(t *testing.T) {
	g, ctx := group.New(context.Background())

	siblingObservedCancel := make(chan struct{})
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		close(siblingObservedCancel)
		return nil
	})

	g.Go(func(ctx context.Context) error {
		return nil
	})

	select {
	case <-siblingObservedCancel:
	case <-time.After(time.Second):
		t.Fatal("sibling task was never cancelled after the first task returned cleanly")
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if ctx.Err() == nil {
		t.Fatal("group context should be cancelled once every task has returned")
	}
}

func TestGoReportsFirstError(t *testing.T) {
	g, _ := group.New(context.Background())
	boom := errors.New("boom")

	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	g.Go(func(ctx context.Context) error {
		return boom
	})

	if err := g.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want %v", err, boom)
	}
}
