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

package ratelimiter_test

import (
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/types"

	"github.com/nebula-controllers/reconciler-core/pkg/ratelimiter"
)

func TestExponentialJitterRateLimiterGrowsThenCaps(t *testing.T) {
	rl := ratelimiter.NewExponentialJitterRateLimiter(8 * time.Second)
	key := types.NamespacedName{Namespace: "default", Name: "widget"}

	// attempt 0 -> 1s base, attempt 1 -> 2s, attempt 2 -> 4s, attempt 3 -> 8s (capped)
	wantBase := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for attempt, base := range wantBase {
		d := rl.When(key, attempt)
		if d < base || d >= base+time.Second {
			t.Fatalf("attempt %d: delay %s not in [%s, %s)", attempt, d, base, base+time.Second)
		}
	}
}

func TestExponentialJitterRateLimiterIsStatelessPerKey(t *testing.T) {
	rl := ratelimiter.NewExponentialJitterRateLimiter(time.Minute)
	a := types.NamespacedName{Namespace: "default", Name: "a"}
	b := types.NamespacedName{Namespace: "default", Name: "b"}

	// Repeated calls for the same key at the same attempt, or calls for
	// an entirely different key, must land in the same delay band: the
	// limiter holds no memory of prior calls, so a freshly coalesced
	// request (queue attempt reset to 0) is never penalized by history
	// from a different attempt count.
	for _, key := range []types.NamespacedName{a, b, a} {
		d := rl.When(key, 3)
		if d < 8*time.Second || d >= 9*time.Second {
			t.Fatalf("When(%v, 3) = %s, want [8s, 9s)", key, d)
		}
	}
}

func TestBucketedRateLimiterTakesTheMax(t *testing.T) {
	rl := ratelimiter.NewBucketedRateLimiter(time.Minute, 0.001, 1)
	key := types.NamespacedName{Namespace: "default", Name: "widget"}

	// First call consumes the single burst token for free; the bucket
	// delay is ~0 while the item delay at attempt 0 is ~1s, so the item
	// delay wins.
	d := rl.When(key, 0)
	if d < time.Second {
		t.Fatalf("expected the item backoff to dominate on first call, got %s", d)
	}
}
