// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"nlbd/internal/action"
	"nlbd/internal/mark"
)

// TestMarkUniqueness checks P1: distinct backends never share a mark
// unless both carry the non-steerable sentinel.
func TestMarkUniqueness(t *testing.T) {
	r := New()
	f := r.CreateFarm("f1")

	var backends []*Backend
	for i := 0; i < 10; i++ {
		b, err := r.CreateBackend(f.ID, fmt.Sprintf("b%d", i))
		require.NoError(t, err)
		backends = append(backends, b)
	}

	seen := map[int]int{}
	for _, b := range backends {
		if mark.Steerable(b.Mark) {
			seen[b.Mark]++
			require.Equal(t, 1, seen[b.Mark], "mark %#x reused by a steerable backend", b.Mark)
		}
	}
}

// TestPriorityMonotone checks P2: after any mutation, the farm either
// has a backend at the priority floor able to serve, or none at all.
func TestPriorityMonotone(t *testing.T) {
	r := New()
	f := r.CreateFarm("f1")
	b1, _ := r.CreateBackend(f.ID, "b1")
	b2, _ := r.CreateBackend(f.ID, "b2")

	require.NoError(t, r.RequestBackendState(b1.ID, StateUp))
	require.NoError(t, r.RequestBackendState(b2.ID, StateUp))

	checkMonotone := func() {
		f, _ := r.Farm(f.ID)
		atFloor := 0
		eligible := 0
		for _, bid := range f.Backends {
			b, _ := r.Backend(bid)
			if b.Priority == f.Priority {
				atFloor++
				if b.State == StateUp || b.State == StateAvail {
					eligible++
				}
			}
		}
		if atFloor > 0 {
			require.Greater(t, eligible, 0, "farm has backends at its priority floor but none eligible")
		}
	}

	checkMonotone()
	require.NoError(t, r.RequestBackendState(b1.ID, StateDown))
	checkMonotone()
	require.NoError(t, r.RequestBackendState(b2.ID, StateDown))
	checkMonotone()
}

// TestCounterCoherence checks P3: bcks_available/total_weight agree
// with direct recomputation from Available().
func TestCounterCoherence(t *testing.T) {
	r := New()
	f := r.CreateFarm("f1")
	b1, _ := r.CreateBackend(f.ID, "b1")
	b1.Weight = 2
	b2, _ := r.CreateBackend(f.ID, "b2")
	b2.Weight = 3

	require.NoError(t, r.RequestBackendState(b1.ID, StateUp))
	require.NoError(t, r.RequestBackendState(b2.ID, StateUp))
	r.RecomputeFarmAggregates(f.ID)

	wantAvailable, wantWeight := 0, 0
	for _, bid := range f.Backends {
		b, _ := r.Backend(bid)
		if r.Available(b) {
			wantAvailable++
			wantWeight += b.Weight
		}
	}
	require.Equal(t, wantAvailable, f.BcksAvailable)
	require.Equal(t, wantWeight, f.TotalWeight)
}

// TestSessionBackendLocality checks P4: every session's backend, if
// set, belongs to the session's own farm.
func TestSessionBackendLocality(t *testing.T) {
	r := New()
	f1 := r.CreateFarm("f1")
	f2 := r.CreateFarm("f2")
	b1, _ := r.CreateBackend(f1.ID, "b1")

	_, err := r.AddStaticSession(f2.ID, "10.0.0.9", &b1.ID)
	require.Error(t, err, "backend from a different farm must be rejected")

	s, err := r.AddStaticSession(f1.ID, "10.0.0.9", &b1.ID)
	require.NoError(t, err)
	require.NotNil(t, s.Backend)
	b, _ := r.Backend(*s.Backend)
	require.Equal(t, f1.ID, b.Parent)
}

// TestActionIdempotence checks P5: applying the same mutation twice
// leaves the model in the same observable state as applying it once.
func TestActionIdempotence(t *testing.T) {
	r := New()
	f := r.CreateFarm("f1")
	b, _ := r.CreateBackend(f.ID, "b1")

	require.NoError(t, r.RequestBackendState(b.ID, StateUp))
	state1, prio1, action1 := b.State, f.Priority, b.Action

	require.NoError(t, r.RequestBackendState(b.ID, StateUp))
	require.Equal(t, state1, b.State)
	require.Equal(t, prio1, f.Priority)
	require.Equal(t, action1, b.Action)
}

// TestAddressRefcount checks P6: the address refcount tracks exactly the
// farm bindings that reference it (BindAddress/UnbindAddress move Used
// and Nported together; policy references count on Policy.Used). Here
// the check reads Nported, which must equal the live binding count.
func TestAddressRefcount(t *testing.T) {
	r := New()
	a := r.CreateAddress("a1")
	f1 := r.CreateFarm("f1")
	f2 := r.CreateFarm("f2")

	_, err := r.BindAddress(f1.ID, a.ID)
	require.NoError(t, err)
	_, err = r.BindAddress(f2.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, 2, a.Nported)

	require.NoError(t, r.UnbindAddress(f1.ID, a.ID))
	require.Equal(t, 1, a.Nported)
}

// TestActionSeverityOrdering pins the bit-for-bit ordering preserved
// from the source system: a weaker request never downgrades a pending
// stronger action.
func TestActionSeverityOrdering(t *testing.T) {
	got, changed := action.Set(action.Stop, action.Reload)
	require.Equal(t, action.Stop, got)
	require.False(t, changed)

	got, changed = action.Set(action.Reload, action.Delete)
	require.Equal(t, action.Delete, got)
	require.True(t, changed)
}
