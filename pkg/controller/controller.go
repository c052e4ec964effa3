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

// Package controller implements the Controller builder: it owns N
// Watches plus a dispatch loop, and runs them to completion as a unit
// under a fail-fast task supervisor (spec section 4.6).
package controller

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/nebula-controllers/reconciler-core/pkg/client"
	"github.com/nebula-controllers/reconciler-core/pkg/group"
	"github.com/nebula-controllers/reconciler-core/pkg/log"
	"github.com/nebula-controllers/reconciler-core/pkg/metrics"
	"github.com/nebula-controllers/reconciler-core/pkg/queue"
	"github.com/nebula-controllers/reconciler-core/pkg/ratelimiter"
	"github.com/nebula-controllers/reconciler-core/pkg/reconcile"
	"github.com/nebula-controllers/reconciler-core/pkg/source"
	"github.com/nebula-controllers/reconciler-core/pkg/workerpool"
)

// DefaultWorkerCount is the default WorkerPool capacity, matching both
// spec.md section 4.4 and the original Python core's worker_count=10.
const DefaultWorkerCount = 10

// LogConstructor builds a logger for a request, or for general
// controller-lifecycle messages when req is nil. It must handle a nil
// request.
type LogConstructor func(req *reconcile.Request) logr.Logger

// Options configures a Controller. Name, Reconciler, APIVersion, and
// Kind are required; everything else has a sensible default.
type Options struct {
	// Name uniquely identifies this Controller in logs and metrics.
	Name string

	// APIVersion and Kind identify the controller's primary resource.
	APIVersion string
	Kind       string

	// Reconciler is called for every dequeued Request.
	Reconciler reconcile.Reconciler

	// Namespace restricts the primary watch (and, by default, owns()
	// watches) to a single namespace. Empty watches every namespace.
	Namespace string

	// LabelSelector restricts the primary watch.
	LabelSelector string

	// WorkerCount is the WorkerPool's fixed capacity. Defaults to
	// DefaultWorkerCount.
	WorkerCount int

	// WorkerPool overrides the pool the Controller builds from
	// WorkerCount, letting several controllers share one pool the way
	// the original core's worker_pool constructor argument allows.
	WorkerPool *workerpool.Pool

	// RateLimiter computes requeue delay after a failed or
	// Requeue-requesting reconcile. Defaults to
	// ratelimiter.NewExponentialJitterRateLimiter(ratelimiter.DefaultMaxBackoff).
	RateLimiter ratelimiter.RateLimiter

	// LogConstructor builds the per-request logger. Defaults to
	// log.FromContext(ctx) enriched with the fields named in spec
	// section 4.6 (api_version, kind, key, request_id, worker_id).
	LogConstructor LogConstructor

	// LeaderElected marks whether this controller expects to run only
	// while elected leader. It is a no-op flag: leader election itself
	// is explicitly out of scope (spec section 1 Non-goals) and is
	// never implemented or enforced here.
	LeaderElected *bool
}

// Controller owns a primary Watch plus any number of secondary Watches,
// a Queue, and a WorkerPool, and runs a single dispatch loop pulling
// eligible Requests off the Queue and handing them to reserved Workers.
type Controller struct {
	name       string
	apiVersion string
	kind       string
	reconciler reconcile.Reconciler
	namespace  string

	rateLimiter ratelimiter.RateLimiter
	logCons     LogConstructor
	leaderElect *bool

	pool  *workerpool.Pool
	queue *queue.Queue

	watches []*source.Watch

	// restClient is the API client passed to Run, threaded through
	// opaquely to every reconcile call (spec section 6: "run(client)").
	// The core itself never calls it.
	restClient client.RESTClient

	mu      sync.Mutex
	started bool
}

// New returns a Controller builder configured with opts. It always
// registers a primary Watch on (opts.APIVersion, opts.Kind) using the
// default primary mapper (obj -> Request(namespace, name)).
func New(opts Options) (*Controller, error) {
	if opts.Name == "" {
		return nil, errors.New("controller: Name is required")
	}
	if opts.APIVersion == "" || opts.Kind == "" {
		return nil, errors.New("controller: APIVersion and Kind are required")
	}
	if opts.Reconciler == nil {
		return nil, errors.New("controller: Reconciler is required")
	}

	workerCount := opts.WorkerCount
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}

	pool := opts.WorkerPool
	if pool == nil {
		pool = workerpool.New(workerCount)
	}

	rl := opts.RateLimiter
	if rl == nil {
		rl = ratelimiter.NewExponentialJitterRateLimiter(ratelimiter.DefaultMaxBackoff)
	}

	c := &Controller{
		name:        opts.Name,
		apiVersion:  opts.APIVersion,
		kind:        opts.Kind,
		reconciler:  opts.Reconciler,
		namespace:   opts.Namespace,
		rateLimiter: rl,
		logCons:     opts.LogConstructor,
		leaderElect: opts.LeaderElected,
		pool:        pool,
		queue:       queue.New(),
	}

	primary := source.New(opts.APIVersion, opts.Kind, source.PrimaryMapper())
	primary.Namespace = opts.Namespace
	primary.LabelSelector = opts.LabelSelector
	primary.Bind(c.queue)
	c.watches = append(c.watches, primary)

	metrics.WorkerCount.WithLabelValues(c.name).Set(float64(pool.Capacity()))

	return c, nil
}

// Owns registers a secondary Watch on (apiVersion, kind) whose events
// are mapped to Requests for the owning resource via its
// ownerReferences, restricted to references whose controller flag is
// set when controllerOnly is true (spec section 4.5).
func (c *Controller) Owns(apiVersion, kind string, controllerOnly bool) *Controller {
	w := source.New(apiVersion, kind, source.OwnerMapper(c.apiVersion, c.kind, controllerOnly))
	w.Namespace = c.namespace
	w.Bind(c.queue)
	c.watches = append(c.watches, w)
	return c
}

// Watches registers a secondary Watch on (apiVersion, kind) using an
// arbitrary, user-supplied mapper.
func (c *Controller) Watches(apiVersion, kind string, mapper source.RequestMapper, opts ...WatchOption) *Controller {
	w := source.New(apiVersion, kind, mapper)
	for _, opt := range opts {
		opt(w)
	}
	w.Bind(c.queue)
	c.watches = append(c.watches, w)
	return c
}

// WatchOption customizes a secondary Watch registered via Watches.
type WatchOption func(*source.Watch)

// WithNamespace restricts a Watches() registration to a single namespace.
func WithNamespace(ns string) WatchOption {
	return func(w *source.Watch) { w.Namespace = ns }
}

// WithLabelSelector restricts a Watches() registration by label selector.
func WithLabelSelector(sel string) WatchOption {
	return func(w *source.Watch) { w.LabelSelector = sel }
}

// defaultLogConstructor builds the spec section 4.6 request logger:
// api_version, kind, key, request_id, worker_id.
func (c *Controller) defaultLogConstructor(ctx context.Context, req *reconcile.Request, workerID int) logr.Logger {
	base := log.FromContext(ctx).WithValues("controller", c.name, "api_version", c.apiVersion, "kind", c.kind)
	if req == nil {
		return base
	}
	return base.WithValues("key", req.Key.String(), "request_id", req.ID, "worker_id", workerID)
}

func (c *Controller) logger(ctx context.Context, req *reconcile.Request, workerID int) logr.Logger {
	if c.logCons != nil {
		return c.logCons(req)
	}
	return c.defaultLogConstructor(ctx, req, workerID)
}

// Run launches every registered Watch plus the dispatch loop under a
// fail-fast task supervisor (pkg/group), using lw as the ListWatcher for
// every Watch and restClient as the API client threaded through to every
// reconcile call (spec section 4.6/6: `run(client)`). Run blocks until
// ctx is cancelled or a Watch or the dispatcher terminates, tearing down
// the rest of the controller in that case, and returns the first
// reported error (nil on a clean cancellation-driven shutdown).
func (c *Controller) Run(ctx context.Context, lw client.ListWatcher, restClient client.RESTClient) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("controller: already started")
	}
	c.started = true
	c.mu.Unlock()

	c.restClient = restClient

	for _, w := range c.watches {
		w.ListWatcher = lw
	}

	g, gctx := group.New(ctx)

	for _, w := range c.watches {
		w := w
		g.Go(func(taskCtx context.Context) error {
			return w.Run(taskCtx)
		})
	}

	g.Go(func(taskCtx context.Context) error {
		<-taskCtx.Done()
		c.queue.ShutDown()
		return nil
	})

	g.Go(func(taskCtx context.Context) error {
		return c.dispatch(taskCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// dispatch is the core dispatch loop (spec section 4.6): reserve a
// worker, dequeue an eligible request, and hand it to the worker —
// reserving before dequeuing so a request is never checked out of the
// queue while waiting for a worker to free up.
func (c *Controller) dispatch(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		worker, err := c.pool.Reserve(ctx)
		if err != nil {
			return nil
		}

		req, attempt, err := c.queue.Dequeue(ctx)
		if err != nil {
			// No request was actually handed to this worker; return it
			// immediately rather than leaking the reservation.
			worker.Run(func() {})
			if errors.Is(err, queue.ErrShutdown) {
				return nil
			}
			return nil
		}

		metrics.QueueDepth.WithLabelValues(c.name).Set(float64(c.queue.Len()))

		wg.Add(1)
		go worker.Run(func() {
			defer wg.Done()
			metrics.ActiveWorkers.WithLabelValues(c.name).Add(1)
			defer metrics.ActiveWorkers.WithLabelValues(c.name).Add(-1)
			c.reconcileHandler(ctx, worker.ID(), req, attempt)
		})
	}
}

// reconcileHandler implements handle_request (spec section 4.6).
func (c *Controller) reconcileHandler(ctx context.Context, workerID int, req reconcile.Request, attempt int) {
	logger := c.logger(ctx, &req, workerID)
	ctx = log.IntoContext(ctx, logger)

	start := time.Now()
	defer func() {
		metrics.ReconcileTime.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	}()

	logger.Info("Handling reconcile request", "attempt", attempt)

	result, err := c.safeReconcile(ctx, req)

	switch {
	case err != nil:
		metrics.ReconcileErrors.WithLabelValues(c.name).Inc()
		if reconcile.IsTerminal(err) {
			metrics.TerminalReconcileErrors.WithLabelValues(c.name).Inc()
			logger.Error(err, "Reconciler returned a terminal error, not requeuing")
			metrics.ReconcileTotal.WithLabelValues(c.name, "error").Inc()
			c.queue.ProcessingComplete(req)
			return
		}
		logger.Error(err, "Reconciler error")
		metrics.ReconcileTotal.WithLabelValues(c.name, "error").Inc()
		c.requeueAfterFailure(logger, req, attempt)

	case result.RequeueAfter > 0:
		delay := result.RequeueAfter + jitter()
		logger.Info("Reconcile done, requeueing after explicit delay", "delay", delay)
		metrics.ReconcileTotal.WithLabelValues(c.name, "requeue_after").Inc()
		c.queue.Requeue(req, 0, delay)

	case result.Requeue:
		logger.Info("Reconcile done, requeueing")
		metrics.ReconcileTotal.WithLabelValues(c.name, "requeue").Inc()
		c.requeueAfterFailure(logger, req, attempt)

	default:
		logger.Info("Reconcile successful")
		metrics.ReconcileTotal.WithLabelValues(c.name, "success").Inc()
		c.queue.ProcessingComplete(req)
	}
}

// requeueAfterFailure applies the exponential-backoff policy (spec
// section 4.3) via the configured RateLimiter, driven entirely by the
// Queue's own attempt count, and requeues req.
func (c *Controller) requeueAfterFailure(logger logr.Logger, req reconcile.Request, attempt int) {
	delay := c.rateLimiter.When(req.Key, attempt)
	logger.Info("Requeuing request with backoff", "delay", delay)
	c.queue.Requeue(req, attempt+1, delay)
}

// jitter returns a uniform(0,1) second duration, matching the explicit
// requeue_after jitter in spec section 4.3.
func jitter() time.Duration {
	return time.Duration(rand.Float64() * float64(time.Second))
}

// safeReconcile recovers a panicking Reconciler and converts it into an
// error, matching the teacher's Controller.Reconcile deferred-recover
// behavior, rather than crashing the whole worker goroutine.
func (c *Controller) safeReconcile(ctx context.Context, req reconcile.Request) (result reconcile.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ReconcilePanics.WithLabelValues(c.name).Inc()
			err = fmt.Errorf("panic: %v [recovered]", r)
		}
	}()
	return c.reconciler.Reconcile(ctx, c.restClient, req)
}
