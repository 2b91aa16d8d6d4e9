// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"nlbd/internal/logging"
	"nlbd/internal/mark"
)

// Registry is the process-wide object graph: arenas of policies,
// addresses and farms (which in turn own their backends, sessions and
// FarmAddress bindings), plus the name indices and ordered lists the
// rulerizer walks. It is the only shared mutable state in the process
// (spec §5) and is expected to be driven from a single goroutine.
type Registry struct {
	policies      map[PolicyID]*Policy
	policyByName  map[string]PolicyID
	policyOrder   []PolicyID

	addresses     map[AddressID]*Address
	addressByName map[string]AddressID
	addressOrder  []AddressID

	farms       map[FarmID]*Farm
	farmByName  map[string]FarmID
	farmOrder   []FarmID

	farmAddresses map[FarmAddressID]*FarmAddress
	backends      map[BackendID]*Backend
	sessions      map[SessionID]*Session

	markAllocator *mark.Allocator
	nextFarmMark  int
	snatMarkBand  int

	emitter  Emitter
	resolver Resolver
	logger   *logging.Logger

	cursor Cursor
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		policies:      make(map[PolicyID]*Policy),
		policyByName:  make(map[string]PolicyID),
		addresses:     make(map[AddressID]*Address),
		addressByName: make(map[string]AddressID),
		farms:         make(map[FarmID]*Farm),
		farmByName:    make(map[string]FarmID),
		farmAddresses: make(map[FarmAddressID]*FarmAddress),
		backends:      make(map[BackendID]*Backend),
		sessions:      make(map[SessionID]*Session),
		markAllocator: mark.NewAllocator(),
		snatMarkBand:  defaultSNATMarkBand,
	}
}

// SetSNATMarkBand overrides the mark band used for SNAT (masquerade)
// farms, wired from the `-m` masquerade-mark-hex CLI flag (spec.md §6).
// A zero value is ignored so callers can pass an unparsed flag through
// without clobbering the default.
func (r *Registry) SetSNATMarkBand(m int) {
	if m != 0 {
		r.snatMarkBand = m
	}
}

// Counters used by the rule emitter/admin API to decide whether kernel
// tables need (re)initializing.
func (r *Registry) TotalPolicies() int { return len(r.policies) }
func (r *Registry) TotalFarms() int    { return len(r.farms) }
func (r *Registry) TotalAddresses() int { return len(r.addresses) }

// FarmAt, AddressAt and PolicyAt give ordered, index-based access to
// the arenas for callers (config rendering, admin listing) that need a
// stable walk order without reaching into Registry internals.
func (r *Registry) FarmAt(i int) (*Farm, bool) {
	if i < 0 || i >= len(r.farmOrder) {
		return nil, false
	}
	return r.farms[r.farmOrder[i]], true
}

func (r *Registry) AddressAt(i int) (*Address, bool) {
	if i < 0 || i >= len(r.addressOrder) {
		return nil, false
	}
	return r.addresses[r.addressOrder[i]], true
}

func (r *Registry) PolicyAt(i int) (*Policy, bool) {
	if i < 0 || i >= len(r.policyOrder) {
		return nil, false
	}
	return r.policies[r.policyOrder[i]], true
}

// CurrentFarmBackendByName looks up a backend by name within a specific
// farm, used by static-session bootstrap entries that reference a
// backend by name rather than id.
func (r *Registry) CurrentFarmBackendByName(farmID FarmID, name string) (*Backend, bool) {
	f, ok := r.farms[farmID]
	if !ok {
		return nil, false
	}
	for _, bid := range f.Backends {
		if b := r.backends[bid]; b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// Cursor holds the parser's "current object" state: one writer (the
// parser/bootstrap loader), never observed from outside a single
// request (spec §4.1, §5).
type Cursor struct {
	Farm        FarmID
	Backend     BackendID
	Address     AddressID
	Policy      PolicyID
	Session     SessionID
	HasFarm     bool
	HasBackend  bool
	HasAddress  bool
	HasPolicy   bool
	HasSession  bool
}

// Cursor returns a copy of the current parser cursor state.
func (r *Registry) Cursor() Cursor { return r.cursor }

// SetCurrentFarm sets the farm cursor, creating the farm if it does
// not already exist (parser semantics: KEY_NAME creates on first
// mention).
func (r *Registry) SetCurrentFarm(name string) *Farm {
	f := r.CreateFarm(name)
	r.cursor.Farm = f.ID
	r.cursor.HasFarm = true
	r.cursor.HasBackend = false
	return f
}

// SetCurrentBackend sets the backend cursor under the current farm
// cursor, creating the backend if needed. It returns an error when no
// farm cursor is set.
func (r *Registry) SetCurrentBackend(name string) (*Backend, error) {
	if !r.cursor.HasFarm {
		return nil, errNoCurrentFarm
	}
	b, err := r.CreateBackend(r.cursor.Farm, name)
	if err != nil {
		return nil, err
	}
	r.cursor.Backend = b.ID
	r.cursor.HasBackend = true
	return b, nil
}

// SetCurrentAddress sets the address cursor, creating it if needed.
func (r *Registry) SetCurrentAddress(name string) *Address {
	a := r.CreateAddress(name)
	r.cursor.Address = a.ID
	r.cursor.HasAddress = true
	return a
}

// SetCurrentPolicy sets the policy cursor, creating it if needed.
func (r *Registry) SetCurrentPolicy(name string) *Policy {
	p := r.CreatePolicy(name)
	r.cursor.Policy = p.ID
	r.cursor.HasPolicy = true
	return p
}

// CurrentFarm returns the farm under the cursor, if any.
func (r *Registry) CurrentFarm() (*Farm, bool) {
	if !r.cursor.HasFarm {
		return nil, false
	}
	return r.farms[r.cursor.Farm], true
}

// CurrentBackend returns the backend under the cursor, if any.
func (r *Registry) CurrentBackend() (*Backend, bool) {
	if !r.cursor.HasBackend {
		return nil, false
	}
	return r.backends[r.cursor.Backend], true
}

var errNoCurrentFarm = &noCurrentFarmError{}

type noCurrentFarmError struct{}

func (*noCurrentFarmError) Error() string { return "no current farm: KEY_NAME must target a farm before a backend" }
