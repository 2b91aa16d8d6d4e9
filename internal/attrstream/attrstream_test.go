// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package attrstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nlbd/internal/registry"
)

func TestApplyAllStopsAtFirstFailure(t *testing.T) {
	r := registry.New()
	r.SetCurrentFarm("f1")

	attrs := []Attribute{
		{Kind: registry.ObjFarm, Key: registry.KeyScheduler, Value: registry.SchedWeight},
		{Kind: registry.ObjBackend, Key: registry.KeyIPAddr, Value: "10.0.0.1"}, // no current backend yet
		{Kind: registry.ObjFarm, Key: registry.KeyMode, Value: registry.ModeSNAT},
	}

	err := ApplyAll(r, attrs)
	require.Error(t, err)

	f, ok := r.CurrentFarm()
	require.True(t, ok)
	require.Equal(t, registry.SchedWeight, f.Scheduler)
	require.NotEqual(t, registry.ModeSNAT, f.Mode, "third attribute must not apply after the second failed")
}
