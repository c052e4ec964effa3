/*
Copyright 2018 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package queue implements the keyed, delay-aware work queue at the
// heart of the controller runtime core: unique-pending-per-key,
// single-flight-per-key, coalescing of duplicate enqueues, and arbitration
// between delayed (backoff) entries and immediate ones.
//
// A key is, at any moment, in exactly one of four states: idle, pending,
// processing, or processing+dirty. Each operation's doc below states the
// transitions it makes; Queue enforces them under a single
// mutex plus an event-driven wakeup, rather than a polling loop.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/types"

	"github.com/nebula-controllers/reconciler-core/pkg/reconcile"
)

// entry is a QueueEntry: a pending request awaiting dequeue.
type entry struct {
	req        reconcile.Request
	attempt    int
	eligibleAt time.Time
	seq        uint64
	index      int
}

// entryHeap orders entries by eligibleAt ascending, then by enqueue
// order (seq) ascending, giving FIFO semantics among ties per spec 4.2.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].eligibleAt.Equal(h[j].eligibleAt) {
		return h[i].eligibleAt.Before(h[j].eligibleAt)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a keyed, delay-aware work queue enforcing single-flight
// semantics per key. The zero value is not usable; construct with New.
type Queue struct {
	mu sync.Mutex

	pending entryHeap
	byKey   map[types.NamespacedName]*entry

	processing map[types.NamespacedName]struct{}
	dirty      map[types.NamespacedName]reconcile.Request

	seq uint64

	// wake is signalled (non-blocking) whenever the eligibility of the
	// pending set might have changed, so Dequeue's waiters re-evaluate
	// instead of polling.
	wake chan struct{}

	shuttingDown bool
	shutdownCh   chan struct{}
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{
		byKey:      make(map[types.NamespacedName]*entry),
		processing: make(map[types.NamespacedName]struct{}),
		dirty:      make(map[types.NamespacedName]reconcile.Request),
		wake:       make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
}

func (q *Queue) notifyLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue adds or coalesces req at attempt 0, eligible now. It never
// blocks. If req's key is currently processing, it is marked dirty
// instead of being added to the pending set.
func (q *Queue) Enqueue(req reconcile.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	key := req.Key
	if _, ok := q.processing[key]; ok {
		q.dirty[key] = req
		return
	}

	now := time.Now()
	if e, ok := q.byKey[key]; ok {
		if now.Before(e.eligibleAt) {
			e.eligibleAt = now
		}
		e.attempt = 0
		heap.Fix(&q.pending, e.index)
		q.notifyLocked()
		return
	}

	q.seq++
	e := &entry{req: req, attempt: 0, eligibleAt: now, seq: q.seq}
	heap.Push(&q.pending, e)
	q.byKey[key] = e
	q.notifyLocked()
}

// Requeue schedules a retry for req at the given attempt, eligible after
// delay. req's key must currently be processing; Requeue transitions it
// to pending, clearing any dirty flag (the requeue supersedes it).
func (q *Queue) Requeue(req reconcile.Request, attempt int, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	key := req.Key
	if _, ok := q.processing[key]; !ok {
		panic(fmt.Sprintf("queue invariant violation: Requeue called for key %s which is not processing", key))
	}
	delete(q.processing, key)
	delete(q.dirty, key)

	q.seq++
	e := &entry{req: req, attempt: attempt, eligibleAt: time.Now().Add(delay), seq: q.seq}
	heap.Push(&q.pending, e)
	q.byKey[key] = e
	q.notifyLocked()
}

// HasEligibleRequest reports whether at least one pending entry is
// eligible for dequeue right now. It never blocks.
func (q *Queue) HasEligibleRequest() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasEligibleLocked()
}

func (q *Queue) hasEligibleLocked() bool {
	if len(q.pending) == 0 {
		return false
	}
	return !time.Now().Before(q.pending[0].eligibleAt)
}

// Dequeue suspends until an eligible entry exists (or ctx is cancelled,
// or the queue is shut down), then atomically removes it from pending
// and marks its key processing. Ties among eligible entries are broken
// by eligibleAt ascending, then enqueue order.
//
// The returned error is ErrShutdown if the queue was shut down; ctx
// cancellation returns ctx.Err() as the error instead.
func (q *Queue) Dequeue(ctx context.Context) (reconcile.Request, int, error) {
	for {
		q.mu.Lock()
		if q.shuttingDown {
			q.mu.Unlock()
			return reconcile.Request{}, 0, ErrShutdown
		}

		if len(q.pending) > 0 {
			top := q.pending[0]
			now := time.Now()
			if !now.Before(top.eligibleAt) {
				heap.Pop(&q.pending)
				delete(q.byKey, top.req.Key)
				q.processing[top.req.Key] = struct{}{}
				q.mu.Unlock()
				return top.req, top.attempt, nil
			}
			wait := top.eligibleAt.Sub(now)
			q.mu.Unlock()

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-q.wake:
				timer.Stop()
			case <-q.shutdownCh:
				timer.Stop()
				return reconcile.Request{}, 0, ErrShutdown
			case <-ctx.Done():
				timer.Stop()
				return reconcile.Request{}, 0, ctx.Err()
			}
			continue
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.shutdownCh:
			return reconcile.Request{}, 0, ErrShutdown
		case <-ctx.Done():
			return reconcile.Request{}, 0, ctx.Err()
		}
	}
}

// ProcessingComplete marks req's key as done processing. If the key was
// marked dirty while processing, the dirty-stashed request is
// immediately re-enqueued at attempt 0, eligible now; otherwise the key
// becomes idle.
func (q *Queue) ProcessingComplete(req reconcile.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := req.Key
	if _, ok := q.processing[key]; !ok {
		panic(fmt.Sprintf("queue invariant violation: ProcessingComplete called for key %s which is not processing", key))
	}

	if dirtyReq, ok := q.dirty[key]; ok {
		delete(q.dirty, key)
		delete(q.processing, key)

		q.seq++
		e := &entry{req: dirtyReq, attempt: 0, eligibleAt: time.Now(), seq: q.seq}
		heap.Push(&q.pending, e)
		q.byKey[key] = e
		q.notifyLocked()
		return
	}

	delete(q.processing, key)
}

// ShutDown causes all current and future Dequeue calls to return
// ErrShutdown. It is idempotent.
func (q *Queue) ShutDown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shuttingDown {
		return
	}
	q.shuttingDown = true
	close(q.shutdownCh)
}

// ShuttingDown reports whether ShutDown has been called.
func (q *Queue) ShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuttingDown
}

// Len returns the number of pending entries. Intended for metrics/tests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// errShutdown is returned by Dequeue once the queue has been shut down.
type errShutdown struct{}

func (errShutdown) Error() string { return "queue is shutting down" }

// ErrShutdown is returned by Dequeue when the queue has been shut down.
var ErrShutdown error = errShutdown{}
