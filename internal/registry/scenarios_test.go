// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nlbd/internal/action"
	"nlbd/internal/registry"
	"nlbd/internal/ruleengine/fake"
)

// TestScenario1And2 covers the first two numbered end-to-end scenarios:
// creating a farm and its first two backends assigns marks 0x001/0x002
// in creation order and tracks total_weight.
func TestScenario1And2(t *testing.T) {
	r := registry.New()
	f := r.SetCurrentFarm("f1")
	require.NoError(t, r.SetAttribute(registry.ObjFarm, registry.KeyMode, registry.ModeDNAT))

	b1, err := r.CreateBackend(f.ID, "b1")
	require.NoError(t, err)
	b1.IPAddr = "10.0.0.1"
	b1.Weight = 2
	b1.Priority = 1
	require.NoError(t, r.RequestBackendState(b1.ID, registry.StateUp))

	require.Equal(t, 1, f.Priority)
	require.Equal(t, 2, f.TotalWeight)
	require.Equal(t, 0x001, b1.Mark)
	require.Equal(t, registry.StateUp, b1.State)

	b2, err := r.CreateBackend(f.ID, "b2")
	require.NoError(t, err)
	b2.IPAddr = "10.0.0.2"
	b2.Weight = 3
	b2.Priority = 1
	require.NoError(t, r.RequestBackendState(b2.ID, registry.StateUp))

	require.Equal(t, 5, f.TotalWeight)
	require.Equal(t, 0x002, b2.Mark)
}

// TestScenario3Through6 covers backends going DOWN, the priority floor
// advancing past an all-dead block, a new backend arriving above the
// new floor, and mark reuse after deletion.
func TestScenario3Through6(t *testing.T) {
	r := registry.New()
	r.SetEmitter(fake.New())
	f := r.CreateFarm("f1")
	b1, _ := r.CreateBackend(f.ID, "b1")
	b1.IPAddr, b1.Weight, b1.Priority = "10.0.0.1", 2, 1
	require.NoError(t, r.RequestBackendState(b1.ID, registry.StateUp))
	b2, _ := r.CreateBackend(f.ID, "b2")
	b2.IPAddr, b2.Weight, b2.Priority = "10.0.0.2", 3, 1
	require.NoError(t, r.RequestBackendState(b2.ID, registry.StateUp))

	// Establish the baseline the scenario assumes: the initial
	// farm/backend creation churn (farm seeded at action.Start per
	// farm.go's CreateFarm) has already been rulerized and cleared, so
	// the next mutation's action.Reload request is visible rather than
	// swallowed by the still-pending stronger action.Start.
	_ = r.ObjRulerize()

	// 3. b1 -> DOWN.
	require.NoError(t, r.RequestBackendState(b1.ID, registry.StateDown))
	require.Equal(t, 3, f.TotalWeight)
	require.Equal(t, 1, f.BcksAvailable)
	require.Equal(t, action.Reload, f.Action)

	// 4. b2 -> DOWN: no backend left at priority 1, so the floor
	// advances. §4.4 adds the dead-count (2, both b1 and b2 sit at
	// priority 1) to new_prio in one step, landing on 3 rather than the
	// illustrative "2" in the prose walkthrough — the algorithm as
	// specified is authoritative over the prose example.
	require.NoError(t, r.RequestBackendState(b2.ID, registry.StateDown))
	require.Equal(t, 3, f.Priority)
	require.Equal(t, registry.StateDown, b1.State)
	require.Equal(t, registry.StateDown, b2.State)

	// 5. New backend b3 at priority=2, requested UP: 2 <= farm.priority
	// (3), so it lands UP, not AVAIL, and becomes the farm's sole
	// contributor to total_weight.
	b3, _ := r.CreateBackend(f.ID, "b3")
	b3.IPAddr, b3.Weight, b3.Priority = "10.0.0.3", 4, 2
	require.NoError(t, r.RequestBackendState(b3.ID, registry.StateUp))
	require.Equal(t, registry.StateUp, b3.State)
	require.Equal(t, b3.Weight, f.TotalWeight)

	// 6. Delete b1: its mark frees up and is handed to the next create,
	// once the rulerizer has compacted the deleted slot.
	freedMark := b1.Mark
	require.NoError(t, r.DeleteBackend(b1.ID))
	_ = r.ObjRulerize()
	b4, err := r.CreateBackend(f.ID, "b4")
	require.NoError(t, err)
	require.Equal(t, freedMark, b4.Mark)
}

// TestScenario7 covers the identity-key pre/post hook sequence when a
// backend's ipaddr changes while UP: STOP pre-hook with an immediate
// emit, ethaddr cleared by the mutation, ether resolution attempted for
// ingress modes, and a START post-hook.
func TestScenario7(t *testing.T) {
	r := registry.New()
	emitter := fake.New()
	r.SetEmitter(emitter)

	f := r.CreateFarm("f1")
	b3, _ := r.CreateBackend(f.ID, "b3")
	b3.IPAddr, b3.Priority = "10.0.0.3", 1
	b3.EthAddr = "aa:bb:cc:dd:ee:ff"
	require.NoError(t, r.RequestBackendState(b3.ID, registry.StateUp))
	emitter.Calls = nil // reset after setup churn

	r.SetCurrentFarm("f1")
	_, err := r.SetCurrentBackend("b3")
	require.NoError(t, err)
	require.NoError(t, r.SetAttribute(registry.ObjBackend, registry.KeyIPAddr, "10.0.0.30"))

	require.Equal(t, "10.0.0.30", b3.IPAddr)
	require.Empty(t, b3.EthAddr, "ipaddr mutation clears ethaddr; no resolver installed so it stays empty")
	require.Equal(t, action.Start, b3.Action, "pre-hook's STOP was emitted immediately, freeing the pending action for the post-hook's START")
	require.GreaterOrEqual(t, len(emitter.Calls), 1, "pre-hook must emit the STOP immediately")
	require.Equal(t, action.Stop, emitter.Calls[0].Action)
}

// TestScenario8 covers parsing a timed-session buffer and matching it
// to a backend by its mark-formatted key.
func TestScenario8(t *testing.T) {
	r := registry.New()
	emitter := fake.New()
	r.SetEmitter(emitter)

	f := r.SetCurrentFarm("f1")
	require.NoError(t, r.SetAttribute(registry.ObjFarm, registry.KeyMode, registry.ModeDNAT))
	b2, _ := r.CreateBackend(f.ID, "b2")
	b2.Mark = 0x002
	b2.IPAddr = "10.0.0.2"

	emitter.SessionBuffers["f1"] = "elements = { 1.2.3.4 expires 30s : 0x002 }"

	sessions, err := r.RefreshTimedSessions(f.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].Backend)
	require.Equal(t, b2.ID, *sessions[0].Backend)
	require.Equal(t, "1.2.3.4", sessions[0].Client)
	require.EqualValues(t, 30, sessions[0].Expiration)
}
