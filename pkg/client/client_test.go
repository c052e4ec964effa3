package client_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nebula-controllers/reconciler-core/pkg/client"
)

func TestObjectRoundTrip(t *testing.T) {
	owners := []client.OwnerReference{
		{APIVersion: "example.nebula.io/v1", Kind: "Widget", Name: "parent", UID: "abc", Controller: true},
	}
	raw := map[string]any{"spec": map[string]any{"replicas": 3}}

	obj := client.NewObject("example.nebula.io/v1", "Pod", "default", "child", owners, raw)

	if diff := cmp.Diff(owners, obj.GetOwnerReferences()); diff != "" {
		t.Fatalf("owner references changed shape (-want +got):\n%s", diff)
	}
	if obj.GetName() != "child" || obj.GetNamespace() != "default" {
		t.Fatalf("unexpected identity: name=%s namespace=%s", obj.GetName(), obj.GetNamespace())
	}
	if obj.GetAPIVersion() != "example.nebula.io/v1" || obj.GetKind() != "Pod" {
		t.Fatalf("unexpected type meta: apiVersion=%s kind=%s", obj.GetAPIVersion(), obj.GetKind())
	}
	if diff := cmp.Diff(raw, obj.Raw()); diff != "" {
		t.Fatalf("raw payload changed shape (-want +got):\n%s", diff)
	}
}

func TestNewObjectDefaultsNilRaw(t *testing.T) {
	obj := client.NewObject("example.nebula.io/v1", "Widget", "default", "solo", nil, nil)
	if obj.Raw() == nil {
		t.Fatal("Raw() should never be nil, even when constructed with a nil map")
	}
}
