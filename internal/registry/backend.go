// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"nlbd/internal/action"
	"nlbd/internal/errors"
	"nlbd/internal/mark"
)

// Backend is a real server under a Farm.
type Backend struct {
	ID       BackendID
	Name     string
	Parent   FarmID
	FQDN     string
	IPAddr   string
	Port     int
	SrcAddr  string
	EthAddr  string
	Oface    string
	Ofidx    int
	Weight   int
	Priority int
	Mark     int
	EstConnLimit int
	State    BackendState
	Action   action.Action
}

// Available reports whether b is validated, UP, and at or above the
// farm's current priority floor (spec §3 invariant).
func (r *Registry) Available(b *Backend) bool {
	f, ok := r.farms[b.Parent]
	if !ok {
		return false
	}
	return r.validate(b) == nil && b.State == StateUp && b.Priority <= f.Priority
}

// Usable reports whether b is in a state eligible to carry traffic at
// all (UP or administratively OFF-but-still-counted) and at or above
// the farm's priority floor.
func (r *Registry) Usable(b *Backend) bool {
	f, ok := r.farms[b.Parent]
	if !ok {
		return false
	}
	return (b.State == StateUp || b.State == StateOff) && b.Priority <= f.Priority
}

// validate implements spec §4.3: ethaddr must be set for ingress-mode
// farms, and ipaddr must always be set.
func (r *Registry) validate(b *Backend) error {
	f, ok := r.farms[b.Parent]
	if !ok {
		return errors.Errorf(errors.KindInternal, "backend %s has no parent farm", b.Name)
	}
	if f.Mode.IsIngress() && b.EthAddr == "" {
		return errors.Errorf(errors.KindValidation, "backend %s: ethaddr required for ingress mode", b.Name)
	}
	if b.IPAddr == "" {
		return errors.Errorf(errors.KindValidation, "backend %s: ipaddr required", b.Name)
	}
	return nil
}

// EffectiveMark computes the mark used by the kernel rules for this
// backend, composing the per-backend discriminator with the farm's
// per-mode mark band (spec §4.2).
func (r *Registry) EffectiveMark(b *Backend) int {
	f, ok := r.farms[b.Parent]
	if !ok {
		return b.Mark
	}
	if b.SrcAddr != "" {
		return b.Mark | f.Mark
	}
	return b.Mark | r.farmModeMark(f)
}

// farmModeMark returns the farm's per-mode mark band, e.g. the
// masquerade band for an SNAT farm.
func (r *Registry) farmModeMark(f *Farm) int {
	switch f.Mode {
	case ModeSNAT:
		return r.snatMarkBand
	default:
		return f.Mark
	}
}

// defaultSNATMarkBand is the reserved bit pattern for masquerading
// farms absent a `-m` override. It is deliberately disjoint from the
// backend band [0x001,0xFFF] so the composed mark can be split back
// into farm/backend components.
const defaultSNATMarkBand = 0x10000

// CreateBackend creates a backend under farmID with an auto-allocated
// mark, keyed by name within the farm.
func (r *Registry) CreateBackend(farmID FarmID, name string) (*Backend, error) {
	f, ok := r.farms[farmID]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "farm %s not found", farmID)
	}
	for _, bid := range f.Backends {
		if b := r.backends[bid]; b.Name == name {
			return b, nil
		}
	}

	used := make(map[int]struct{}, len(r.backends))
	for _, b := range r.backends {
		if mark.Steerable(b.Mark) {
			used[b.Mark] = struct{}{}
		}
	}
	m := r.markAllocator.Allocate(used)

	b := &Backend{
		ID:       newBackendID(),
		Name:     name,
		Parent:   farmID,
		Weight:   1,
		Priority: DefaultPriority,
		Mark:     m,
		State:    StateDown,
		Action:   action.Start,
	}
	r.backends[b.ID] = b
	f.Backends = append(f.Backends, b.ID)
	f.TotalBcks = len(f.Backends)
	r.RecomputeFarmAggregates(farmID)
	return b, nil
}

// Backend looks up a backend by id.
func (r *Registry) Backend(id BackendID) (*Backend, bool) {
	b, ok := r.backends[id]
	return b, ok
}

// RequestBackendState implements the backend state machine of spec
// §4.3. Admin state requests go through it; the priority recalculator
// (§4.4) re-derives UP/AVAIL through reapplyUp instead.
func (r *Registry) RequestBackendState(id BackendID, requested BackendState) error {
	b, ok := r.backends[id]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "backend %s not found", id)
	}
	f, ok := r.farms[b.Parent]
	if !ok {
		return errors.Errorf(errors.KindInternal, "backend %s has no parent farm", b.Name)
	}

	prev := b.State
	var next BackendState

	switch requested {
	case StateUp:
		if err := r.validate(b); err != nil {
			next = StateConfErr
		} else if b.Priority > f.Priority {
			next = StateAvail
		} else {
			next = StateUp
		}
	default:
		next = requested
	}

	b.State = next

	switch {
	case (next == StateConfErr || next == StateOff) && prev == StateUp:
		b.Action, _ = action.Set(b.Action, action.Stop)
	case next == StateAvail && prev == StateUp:
		b.Action, _ = action.Set(b.Action, action.Stop)
	case next == StateUp:
		if f.Persistence != 0 {
			r.sessionBackendAction(f, b, action.Start)
		}
		if prev == StateOff {
			b.Action, _ = action.Set(b.Action, action.Reload)
		} else {
			b.Action, _ = action.Set(b.Action, action.Start)
		}
	case next == StateDown && (prev == StateUp || prev == StateOff):
		b.Action, _ = action.Set(b.Action, action.Stop)
	}

	if b.Action != action.None {
		f.Action, _ = action.Set(f.Action, action.Reload)
	}

	r.RecalculatePriority(b.Parent)
	return nil
}

// DeleteBackend marks a backend for deletion; its mark becomes free for
// reuse once compacted.
func (r *Registry) DeleteBackend(id BackendID) error {
	b, ok := r.backends[id]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "backend %s not found", id)
	}
	b.Action, _ = action.Set(b.Action, action.Delete)
	f := r.farms[b.Parent]
	if f != nil {
		f.Action, _ = action.Set(f.Action, action.Reload)
	}
	return nil
}

// compactBackend removes a single backend once its deletion has been
// rulerized, freeing its mark for reuse. Mirrors compactPolicy/
// compactAddress/compactFarm: the caller must still observe the
// backend carrying action.Delete at the time of the call, so it must
// be invoked before the caller resets b.Action to action.None.
func (r *Registry) compactBackend(id BackendID) {
	b, ok := r.backends[id]
	if !ok || b.Action != action.Delete {
		return
	}
	f, ok := r.farms[b.Parent]
	delete(r.backends, id)
	if !ok {
		return
	}
	for i, bid := range f.Backends {
		if bid == id {
			f.Backends = append(f.Backends[:i], f.Backends[i+1:]...)
			break
		}
	}
	f.TotalBcks = len(f.Backends)
}
