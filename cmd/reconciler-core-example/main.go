// Command reconciler-core-example wires a Controller against an
// in-memory fake ListWatcher and a trivial Reconciler, to demonstrate
// the builder API end to end. It is not part of the core; it is the
// ambient CLI surface spec.md explicitly leaves external (section 6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nebula-controllers/reconciler-core/pkg/client"
	"github.com/nebula-controllers/reconciler-core/pkg/controller"
	"github.com/nebula-controllers/reconciler-core/pkg/log"
	"github.com/nebula-controllers/reconciler-core/pkg/reconcile"
)

// httpRESTClient is the default RESTClient: it executes requests with the
// standard library's http.DefaultClient. Reconcile functions receive it
// wrapped in a client.LoggingRESTClient (see run) so every outbound call
// is logged the way easykube's BaseClient logs its requests.
type httpRESTClient struct{}

func (httpRESTClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req.WithContext(ctx))
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		workers     int
		development bool
		namespace   string
	)

	cmd := &cobra.Command{
		Use:   "reconciler-core-example",
		Short: "Run a sample controller against an in-memory fake API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetLogger(log.NewZap(development))
			return run(cmd.Context(), workers, namespace)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", controller.DefaultWorkerCount, "maximum concurrent reconciles")
	cmd.Flags().BoolVar(&development, "development", false, "use a human-readable development logger instead of JSON")
	cmd.Flags().StringVar(&namespace, "namespace", "", "restrict the primary watch to a single namespace")

	return cmd
}

func run(ctx context.Context, workers int, namespace string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lw := client.NewFakeListWatcher(
		client.NewObject("example.nebula.io/v1", "Widget", "default", "seed", nil, nil),
	)

	restClient := &client.LoggingRESTClient{Next: httpRESTClient{}, Log: log.Log()}

	reconciler := reconcile.Func(func(ctx context.Context, cl client.RESTClient, req reconcile.Request) (reconcile.Result, error) {
		log.FromContext(ctx).Info("reconciling widget", "key", req.Key.String())
		_ = cl // the API client is available here for a real reconciler to re-read the object
		return reconcile.Result{}, nil
	})

	c, err := controller.New(controller.Options{
		Name:        "widget-controller",
		APIVersion:  "example.nebula.io/v1",
		Kind:        "Widget",
		Namespace:   namespace,
		Reconciler:  reconciler,
		WorkerCount: workers,
	})
	if err != nil {
		return err
	}

	go func() {
		time.Sleep(2 * time.Second)
		lw.Push(client.Event{
			Type:   client.Modified,
			Object: client.NewObject("example.nebula.io/v1", "Widget", "default", "seed", nil, nil),
		})
	}()

	return c.Run(ctx, lw, restClient)
}
