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

// Package metrics holds the Prometheus collectors the controller package
// reports against, mirroring
// sigs.k8s.io/controller-runtime/pkg/internal/controller/metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ReconcileTotal counts reconcile completions by controller and
	// outcome ("success", "error", "requeue", "requeue_after").
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controller_runtime_reconcile_total",
		Help: "Total number of reconciliations per controller, keyed by result",
	}, []string{"controller", "result"})

	// ReconcileErrors counts reconciles that returned a non-nil error.
	ReconcileErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controller_runtime_reconcile_errors_total",
		Help: "Total number of reconciliation errors per controller",
	}, []string{"controller"})

	// TerminalReconcileErrors counts reconciles that failed with a
	// TerminalError and were therefore not requeued.
	TerminalReconcileErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controller_runtime_terminal_reconcile_errors_total",
		Help: "Total number of terminal (non-requeued) reconciliation errors per controller",
	}, []string{"controller"})

	// ReconcilePanics counts reconciles that panicked.
	ReconcilePanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controller_runtime_reconcile_panics_total",
		Help: "Total number of reconciliation panics per controller",
	}, []string{"controller"})

	// ReconcileTime observes reconcile latency in seconds.
	ReconcileTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "controller_runtime_reconcile_time_seconds",
		Help:    "Length of time per reconciliation per controller",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"controller"})

	// WorkerCount reports the configured worker pool capacity.
	WorkerCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controller_runtime_max_concurrent_reconciles",
		Help: "Maximum number of concurrent reconciles per controller",
	}, []string{"controller"})

	// ActiveWorkers reports how many workers are currently reconciling.
	ActiveWorkers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controller_runtime_active_workers",
		Help: "Number of currently running reconciles per controller",
	}, []string{"controller"})

	// QueueDepth reports the current pending-entry count.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controller_runtime_queue_depth",
		Help: "Number of pending entries in the work queue per controller",
	}, []string{"controller"})
)

// Registry is a dedicated Prometheus registry pre-populated with all of
// the collectors above. Embedding the module's metrics in their own
// registry, rather than the global default one, keeps repeated
// controller construction in tests from panicking on duplicate
// registration.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ReconcileTotal,
		ReconcileErrors,
		TerminalReconcileErrors,
		ReconcilePanics,
		ReconcileTime,
		WorkerCount,
		ActiveWorkers,
		QueueDepth,
	)
}
