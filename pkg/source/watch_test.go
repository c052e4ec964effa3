package source_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nebula-controllers/reconciler-core/pkg/client"
	"github.com/nebula-controllers/reconciler-core/pkg/queue"
	"github.com/nebula-controllers/reconciler-core/pkg/reconcile"
	"github.com/nebula-controllers/reconciler-core/pkg/source"
)

func TestSource(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "source suite")
}

var _ = Describe("Watch", func() {
	It("scenario 5: an owned child event enqueues a request for its owner", func() {
		q := queue.New()
		w := source.New("example.nebula.io/v1", "Pod", source.OwnerMapper("example.nebula.io/v1", "Widget", true))
		w.Bind(q)

		lw := client.NewFakeListWatcher()
		w.ListWatcher = lw

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		runErr := make(chan error, 1)
		go func() { runErr <- w.Run(ctx) }()

		child := client.NewObject("example.nebula.io/v1", "Pod", "default", "owned-pod", []client.OwnerReference{
			{APIVersion: "example.nebula.io/v1", Kind: "Widget", Name: "parent", Controller: true},
		}, nil)
		lw.Push(client.Event{Type: client.Added, Object: child})

		Eventually(q.HasEligibleRequest, time.Second).Should(BeTrue())

		req, _, err := q.Dequeue(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Key).To(Equal(reconcile.NewRequest("default", "parent").Key))

		cancel()
		Eventually(runErr).Should(Receive())
	})

	It("ignores owner references that do not match apiVersion/kind", func() {
		q := queue.New()
		w := source.New("example.nebula.io/v1", "Pod", source.OwnerMapper("example.nebula.io/v1", "Widget", false))
		w.Bind(q)

		lw := client.NewFakeListWatcher()
		w.ListWatcher = lw

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() { _ = w.Run(ctx) }()

		unrelated := client.NewObject("example.nebula.io/v1", "Pod", "default", "stray-pod", []client.OwnerReference{
			{APIVersion: "example.nebula.io/v1", Kind: "Gadget", Name: "other", Controller: true},
		}, nil)
		lw.Push(client.Event{Type: client.Added, Object: unrelated})

		Consistently(q.HasEligibleRequest, 200*time.Millisecond).Should(BeFalse())
	})

	It("PrimaryMapper maps an object to a request for itself", func() {
		mapper := source.PrimaryMapper()
		obj := client.NewObject("example.nebula.io/v1", "Widget", "default", "self", nil, nil)
		reqs := mapper.Map(obj)
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Key).To(Equal(reconcile.NewRequest("default", "self").Key))
	})
})
