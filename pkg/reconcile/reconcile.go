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

// Package reconcile holds the core Request and Result types exchanged
// between a Controller and a user-supplied Reconciler.
package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/types"

	"github.com/nebula-controllers/reconciler-core/pkg/client"
)

// nextID is a process-local monotonically increasing counter used to
// stamp Requests for logging/tracing. It is never used for equality.
var nextID uint64

// Request identifies a single object to reconcile. Two Requests are
// equivalent, for all queueing purposes, iff their Key fields match;
// ID is carried only for log correlation.
type Request struct {
	// Key is the namespaced name of the object to reconcile. Namespace
	// is empty for cluster-scoped objects.
	Key types.NamespacedName

	// ID is assigned at construction and is unique for the lifetime of
	// the process. It has no bearing on queue equality or ordering.
	ID uint64
}

// NewRequest builds a Request for the given namespace/name, stamping it
// with the next process-local ID.
func NewRequest(namespace, name string) Request {
	return Request{
		Key: types.NamespacedName{Namespace: namespace, Name: name},
		ID:  atomic.AddUint64(&nextID, 1),
	}
}

// String implements fmt.Stringer so Requests log as their key.
func (r Request) String() string {
	return r.Key.String()
}

// Result is returned by a Reconciler. The zero Result means "success, no
// requeue." RequeueAfter, if non-zero, implies Requeue and additionally
// tells the Queue to forget any prior backoff history for this key (see
// package queue).
type Result struct {
	// Requeue tells the Controller to requeue the request, subject to
	// the configured backoff policy. Ignored if RequeueAfter is set.
	Requeue bool

	// RequeueAfter, if non-zero, requests requeueing after the given
	// duration rather than via the exponential backoff policy. Setting
	// this implies Requeue.
	RequeueAfter time.Duration
}

// IsZero returns true for the default Result (no requeue requested).
func (r Result) IsZero() bool {
	return !r.Requeue && r.RequeueAfter == 0
}

// Func is the signature a Reconciler satisfies: given the live API client
// and the namespace/name of an object, read its current state and drive
// it toward the desired state. The client is the same one passed to
// Controller.Run; the core never calls it itself, only threads it through
// opaquely. A non-nil error is treated as a reconcile failure and triggers
// backoff requeue, unless it wraps a TerminalError. Func must be safe to
// call concurrently for distinct Request keys; the core never calls it
// twice concurrently for the same key.
type Func func(ctx context.Context, cl client.RESTClient, req Request) (Result, error)

// Reconciler is the interface form of Func, for callers that prefer a
// named type to implement rather than a bare function value.
type Reconciler interface {
	Reconcile(ctx context.Context, cl client.RESTClient, req Request) (Result, error)
}

// Reconcile implements Reconciler for Func itself, so a bare function
// literal can be passed anywhere a Reconciler is expected.
func (f Func) Reconcile(ctx context.Context, cl client.RESTClient, req Request) (Result, error) {
	return f(ctx, cl, req)
}

// terminalError wraps an error that must never be retried: the Queue's
// backoff policy is bypassed entirely and the key is dropped instead of
// requeued, on the theory that the failure is a permanent configuration
// problem rather than a transient one.
type terminalError struct {
	err error
}

func (t *terminalError) Error() string {
	if t.err == nil {
		return "terminal error"
	}
	return t.err.Error()
}

func (t *terminalError) Unwrap() error {
	return t.err
}

// TerminalError wraps err (which may be nil, to build a sentinel for use
// with errors.Is) so that the Controller will not requeue the failed
// Request, instead logging and dropping it.
func TerminalError(err error) error {
	return &terminalError{err: err}
}

// IsTerminal reports whether err is, or wraps, a TerminalError.
func IsTerminal(err error) bool {
	var t *terminalError
	return asTerminal(err, &t)
}

// asTerminal is a small local errors.As to avoid importing errors solely
// for this one check from call sites that don't otherwise need it.
func asTerminal(err error, target **terminalError) bool {
	for err != nil {
		if t, ok := err.(*terminalError); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
