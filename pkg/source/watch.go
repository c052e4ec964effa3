// Package source implements Watch: binding one resource kind and an
// event-to-requests mapper to a Controller's queue (spec section 4.5).
package source

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/nebula-controllers/reconciler-core/pkg/client"
	"github.com/nebula-controllers/reconciler-core/pkg/log"
	"github.com/nebula-controllers/reconciler-core/pkg/queue"
	"github.com/nebula-controllers/reconciler-core/pkg/reconcile"
)

// RequestMapper turns an observed object into zero or more Requests.
// Implementations must be safe to call repeatedly and must not block.
type RequestMapper interface {
	Map(obj client.Object) []reconcile.Request
}

// MapperFunc adapts a plain function to RequestMapper.
type MapperFunc func(obj client.Object) []reconcile.Request

// Map implements RequestMapper.
func (f MapperFunc) Map(obj client.Object) []reconcile.Request {
	return f(obj)
}

// PrimaryMapper returns the default mapper used for a controller's own
// resource kind: one Request per observed object, keyed by its own
// namespace/name.
func PrimaryMapper() RequestMapper {
	return MapperFunc(func(obj client.Object) []reconcile.Request {
		return []reconcile.Request{reconcile.NewRequest(obj.GetNamespace(), obj.GetName())}
	})
}

// OwnerMapper returns the mapper used by Controller.Owns: it walks an
// observed child object's OwnerReferences and emits one Request per
// reference whose APIVersion and Kind match ownerAPIVersion/ownerKind
// and, if controllerOnly is set, whose Controller flag is true. The
// child is assumed to live in the same namespace as its owner.
func OwnerMapper(ownerAPIVersion, ownerKind string, controllerOnly bool) RequestMapper {
	return MapperFunc(func(obj client.Object) []reconcile.Request {
		var reqs []reconcile.Request
		for _, ref := range obj.GetOwnerReferences() {
			if ref.APIVersion != ownerAPIVersion || ref.Kind != ownerKind {
				continue
			}
			if controllerOnly && !ref.Controller {
				continue
			}
			reqs = append(reqs, reconcile.NewRequest(obj.GetNamespace(), ref.Name))
		}
		return reqs
	})
}

// Watch binds (apiVersion, kind, mapper, labels?, namespace?) to a
// Controller's queue: it issues a list+watch against the configured
// ListWatcher and, for every observed event, maps it to zero or more
// Requests which it enqueues.
type Watch struct {
	APIVersion    string
	Kind          string
	Mapper        RequestMapper
	Namespace     string
	LabelSelector string

	// ListWatcher is the external collaborator this Watch streams
	// events from. It is set by Controller.Run before the Watch starts.
	ListWatcher client.ListWatcher

	// q is the queue requests are enqueued onto; bound by Controller
	// via Bind before Run is called.
	q *queue.Queue
}

// New builds a Watch for the given resource kind and mapper. Namespace
// and LabelSelector default to unset (watch everything in every
// namespace) and can be set directly on the returned Watch.
func New(apiVersion, kind string, mapper RequestMapper) *Watch {
	return &Watch{APIVersion: apiVersion, Kind: kind, Mapper: mapper}
}

// Bind attaches the queue this Watch enqueues mapped Requests onto. The
// Controller calls this once, before starting the Watch.
func (w *Watch) Bind(q *queue.Queue) {
	w.q = q
}

// String identifies this Watch for logging, in the "kind source: ..."
// form the teacher's sources use; Run attaches it to every log line as
// the "source" field.
func (w *Watch) String() string {
	return fmt.Sprintf("kind source: %s/%s", w.APIVersion, w.Kind)
}

// Run issues the list+watch against w.ListWatcher and enqueues mapped
// Requests onto q until ctx is cancelled or the stream reports a fatal
// error, at which point Run returns that error. A watch stream that
// closes without a fatal error is restarted by re-listing and
// re-watching; per spec, the
// ListWatcher implementation is responsible for choosing an appropriate
// resourceVersion to resume from, Run only has to survive the retry.
func (w *Watch) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("source", w.String())

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		opts := client.ListOptions{Namespace: w.Namespace, LabelSelector: w.LabelSelector}
		items, resourceVersion, err := w.ListWatcher.List(ctx, opts)
		if err != nil {
			return fmt.Errorf("listing %s/%s: %w", w.APIVersion, w.Kind, err)
		}
		for _, item := range items {
			w.enqueue(logger, item)
		}

		opts.ResourceVersion = resourceVersion
		events, err := w.ListWatcher.Watch(ctx, opts)
		if err != nil {
			return fmt.Errorf("watching %s/%s: %w", w.APIVersion, w.Kind, err)
		}

		if fatal := w.consume(ctx, logger, events); fatal != nil {
			return fatal
		}
		// The event channel closed without a fatal error: the watch
		// ended. Loop around and re-list/re-watch.
	}
}

func (w *Watch) consume(ctx context.Context, logger logr.Logger, events <-chan client.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == client.Error {
				return fmt.Errorf("watch stream for %s/%s reported a fatal error", w.APIVersion, w.Kind)
			}
			w.enqueue(logger, ev.Object)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watch) enqueue(logger logr.Logger, obj client.Object) {
	for _, req := range w.Mapper.Map(obj) {
		logger.V(5).Info("Enqueuing reconcile request", "request", req)
		w.queue().Enqueue(req)
	}
}

func (w *Watch) queue() *queue.Queue {
	if w.q == nil {
		panic("source.Watch: Run called before being bound to a queue")
	}
	return w.q
}
