// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nlbd/internal/registry"
)

// TestLoadAppliesFarmBackendAddressPolicy exercises a full file with one
// of each block type through Apply, checking the attribute stream
// reached the registry the way the runtime parser's tuples would.
func TestLoadAppliesFarmBackendAddressPolicy(t *testing.T) {
	src := `
address "a1" {
  ipaddr = "192.168.1.1"
  port   = 80
}

policy "deny1" {
  type     = "blacklist"
  elements = ["10.0.0.1", "10.0.0.2"]
}

farm "f1" {
  mode       = "dnat"
  scheduler  = "weight"
  addresses  = ["a1"]
  policies   = ["deny1"]

  backend "b1" {
    ipaddr   = "10.1.0.1"
    weight   = 2
    priority = 1
  }

  session "10.2.0.1" {
    backend = "b1"
  }
}
`
	dir := t.TempDir()
	path := filepath.Join(dir, "nlbd.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	r := registry.New()
	require.NoError(t, Load(path, r))

	require.Equal(t, 1, r.TotalFarms())
	require.Equal(t, 1, r.TotalAddresses())
	require.Equal(t, 1, r.TotalPolicies())

	f, ok := r.FarmAt(0)
	require.True(t, ok)
	require.Equal(t, "f1", f.Name)
	require.Equal(t, registry.ModeDNAT, f.Mode)
	require.Len(t, f.Backends, 1)

	b, ok := r.CurrentFarmBackendByName(f.ID, "b1")
	require.True(t, ok)
	require.Equal(t, "10.1.0.1", b.IPAddr)
	require.Equal(t, 2, b.Weight)

	p, ok := r.PolicyByName("deny1")
	require.True(t, ok)
	require.Len(t, p.Elements, 2)

	require.Len(t, f.Addresses, 1)
	require.Len(t, f.StaticSessions, 1)
}

// TestRoundTrip checks P7: rendering the model back to HCL and
// re-parsing it yields a structurally equal set of farms/backends.
func TestRoundTrip(t *testing.T) {
	r := registry.New()
	f := r.CreateFarm("f1")
	f.Mode = registry.ModeDNAT
	b, err := r.CreateBackend(f.ID, "b1")
	require.NoError(t, err)
	b.IPAddr = "10.1.0.1"
	b.Weight = 5
	b.Priority = 1

	rendered := Render(r)

	dir := t.TempDir()
	path := filepath.Join(dir, "rendered.hcl")
	require.NoError(t, os.WriteFile(path, rendered, 0o644))

	r2 := registry.New()
	require.NoError(t, Load(path, r2))

	f2, ok := r2.FarmAt(0)
	require.True(t, ok)
	require.Equal(t, f.Name, f2.Name)
	require.Equal(t, f.Mode, f2.Mode)
	require.Len(t, f2.Backends, 1)

	b2, ok := r2.CurrentFarmBackendByName(f2.ID, "b1")
	require.True(t, ok)
	require.Equal(t, b.IPAddr, b2.IPAddr)
	require.Equal(t, b.Weight, b2.Weight)
	require.Equal(t, b.Priority, b2.Priority)
}
