package workerpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/nebula-controllers/reconciler-core/pkg/workerpool"
)

func TestReserveBlocksAtCapacity(t *testing.T) {
	p := workerpool.New(1)

	w1, err := p.Reserve(context.Background())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Reserve(ctx); err == nil {
		t.Fatal("expected Reserve to block and time out while the pool is exhausted")
	}

	w1.Run(func() {})

	w2, err := p.Reserve(context.Background())
	if err != nil {
		t.Fatalf("Reserve after release: %v", err)
	}
	w2.Run(func() {})
}

func TestRunAlwaysReleasesEvenOnPanic(t *testing.T) {
	p := workerpool.New(1)

	w, err := p.Reserve(context.Background())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	func() {
		defer func() { recover() }()
		w.Run(func() { panic("boom") })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Reserve(ctx); err != nil {
		t.Fatalf("worker was not returned to the pool after its task panicked: %v", err)
	}
}

func TestAvailableReflectsReservations(t *testing.T) {
	p := workerpool.New(2)
	if got := p.Available(); got != 2 {
		t.Fatalf("Available() = %d, want 2", got)
	}

	w, err := p.Reserve(context.Background())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := p.Available(); got != 1 {
		t.Fatalf("Available() after Reserve = %d, want 1", got)
	}
	w.Run(func() {})
	if got := p.Available(); got != 2 {
		t.Fatalf("Available() after release = %d, want 2", got)
	}
}
