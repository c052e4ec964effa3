// Package client defines the external collaborator contracts the
// reconciler core consumes (spec section 6): a streaming list/watch
// abstraction per resource kind, a structural object model following
// Kubernetes conventions, and an authenticated REST client passed
// through to reconcile functions without the core ever calling it
// itself.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// EventType is the kind of change a watch event represents.
type EventType string

const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"
	Error    EventType = "ERROR"
)

// OwnerReference mirrors metadata.ownerReferences[*] on a Kubernetes
// object: a pointer from a child object back to its owning parent.
type OwnerReference struct {
	APIVersion string
	Kind       string
	Name       string
	UID        string
	Controller bool
}

// Object is the structural, JSON-like view of a Kubernetes object that
// mappers operate on: path-based accessors for the conventional fields,
// plus Raw() as an escape hatch for anything a mapper needs that isn't
// named here.
type Object interface {
	GetName() string
	GetNamespace() string
	GetOwnerReferences() []OwnerReference
	GetAPIVersion() string
	GetKind() string
	// Raw returns the object as an untyped JSON-like mapping, for
	// mappers that need fields beyond the conventional ones.
	Raw() map[string]any
}

// object is the default Object implementation, backed directly by an
// untyped mapping the way the original Python core treats API objects.
type object struct {
	apiVersion string
	kind       string
	name       string
	namespace  string
	owners     []OwnerReference
	raw        map[string]any
}

// NewObject builds an Object from its conventional fields.
func NewObject(apiVersion, kind, namespace, name string, owners []OwnerReference, raw map[string]any) Object {
	if raw == nil {
		raw = map[string]any{}
	}
	return &object{apiVersion: apiVersion, kind: kind, name: name, namespace: namespace, owners: owners, raw: raw}
}

func (o *object) GetName() string                        { return o.name }
func (o *object) GetNamespace() string                    { return o.namespace }
func (o *object) GetOwnerReferences() []OwnerReference    { return o.owners }
func (o *object) GetAPIVersion() string                   { return o.apiVersion }
func (o *object) GetKind() string                         { return o.kind }
func (o *object) Raw() map[string]any                     { return o.raw }

// Event is a single tuple yielded by a Watch stream.
type Event struct {
	Type   EventType
	Object Object
}

// ListOptions narrows a List/Watch call the way the teacher's
// client-go-backed sources do: by namespace and label selector.
type ListOptions struct {
	Namespace       string
	LabelSelector   string
	ResourceVersion string
}

// ListWatcher is the streaming list/watch abstraction the core consumes
// per resource kind (spec section 6), modeled on
// k8s.io/client-go/tools/cache.ListerWatcher: a List call to establish a
// baseline plus a resourceVersion, and a Watch call yielding a bounded-
// latency event stream with automatic resync handled by the
// implementation, not the core.
type ListWatcher interface {
	// List returns the current objects for the given options along with
	// the resourceVersion to resume watching from.
	List(ctx context.Context, opts ListOptions) (items []Object, resourceVersion string, err error)

	// Watch returns a channel of Events starting from opts.ResourceVersion.
	// The channel is closed when the watch ends; a fatal, unrecoverable
	// error is reported as a final Event{Type: Error} before closing, or
	// by Watch itself returning a non-nil error. Transient disconnects are
	// expected to be retried internally by the implementation and never
	// observed by the caller as a channel close.
	Watch(ctx context.Context, opts ListOptions) (<-chan Event, error)
}

// RESTClient executes authenticated requests against the API server. It
// is used only inside user reconcile functions; the core never calls it.
type RESTClient interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// LoggingRESTClient wraps another RESTClient, logging method/URL/status
// for every request, mirroring easykube's BaseClient.log_response.
type LoggingRESTClient struct {
	Next RESTClient
	Log  logr.Logger
}

func (c *LoggingRESTClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.Next.Do(ctx, req)
	if err != nil {
		c.Log.Error(err, "API request failed", "method", req.Method, "url", req.URL.String(), "elapsed", time.Since(start))
		return nil, err
	}
	c.Log.Info(fmt.Sprintf("API request: %q %s %d", req.Method, req.URL.String(), resp.StatusCode),
		"method", req.Method, "url", req.URL.String(), "status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}
