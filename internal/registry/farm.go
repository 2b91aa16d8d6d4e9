// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"nlbd/internal/action"
	"nlbd/internal/errors"
)

// Farm is a virtual load-balanced service.
type Farm struct {
	ID             FarmID
	Name           string
	Mode           FarmMode
	Scheduler      Scheduler
	SchedParam     HashComponent
	Persistence    HashComponent
	PersistenceTTL int
	Helper         string
	LogBits        int
	Mark           int
	Priority       int
	State          BackendState
	Action         action.Action
	SrcAddr        string
	Oface          string
	Ofidx          int

	TotalBcks      int
	BcksAvailable  int
	BcksUsable     int
	TotalWeight    int
	BcksHavePort   bool
	BcksHaveSrcAddr bool
	BcksHaveIf     bool

	Backends  []BackendID
	Addresses []FarmAddressID
	Policies  []PolicyID

	StaticSessions []SessionID
	TimedSessions  []SessionID

	Counters FarmCounters
}

// FarmCounters holds per-farm packet/byte/established counters (spec §3
// names "counters" without defining its shape). Nothing in this module
// writes them, so they stay at zero.
type FarmCounters struct {
	Packets     uint64
	Bytes       uint64
	Established uint64
}

// CreateFarm creates a farm keyed by name with defaults, or returns the
// existing farm of that name.
func (r *Registry) CreateFarm(name string) *Farm {
	if id, ok := r.farmByName[name]; ok {
		return r.farms[id]
	}
	f := &Farm{
		ID:       newFarmID(),
		Name:     name,
		Priority: DefaultPriority,
		Action:   action.Start,
		Mark:     r.allocateFarmMark(),
	}
	r.farms[f.ID] = f
	r.farmByName[name] = f.ID
	r.farmOrder = append(r.farmOrder, f.ID)
	return f
}

// farmMarkBand is the base of the farm mark band, reserved above the
// backend mark range [0x001,0xFFF]; the first farm gets farmMarkBand+1.
const farmMarkBand = 0x1000

func (r *Registry) allocateFarmMark() int {
	r.nextFarmMark++
	if r.nextFarmMark == 0 {
		r.nextFarmMark = farmMarkBand
	}
	return farmMarkBand + r.nextFarmMark
}

// Farm looks up a farm by id.
func (r *Registry) Farm(id FarmID) (*Farm, bool) {
	f, ok := r.farms[id]
	return f, ok
}

// FarmByName looks up a farm by name.
func (r *Registry) FarmByName(name string) (*Farm, bool) {
	id, ok := r.farmByName[name]
	if !ok {
		return nil, false
	}
	return r.farms[id], true
}

// FarmBindPolicy attaches a policy to a farm.
func (r *Registry) FarmBindPolicy(farmID FarmID, polID PolicyID) error {
	f, ok := r.farms[farmID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "farm %s not found", farmID)
	}
	p, ok := r.policies[polID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "policy %s not found", polID)
	}
	for _, ref := range f.Policies {
		if ref == polID {
			return nil
		}
	}
	f.Policies = append(f.Policies, polID)
	p.Used++
	f.Action, _ = action.Set(f.Action, action.Reload)
	return nil
}

// RecomputeFarmAggregates recomputes bcks_have_port, bcks_have_srcaddr,
// bcks_have_if (spec §4.5). Callers must invoke it on any port/srcaddr/
// iface mutation or backend add/delete.
func (r *Registry) RecomputeFarmAggregates(id FarmID) {
	f, ok := r.farms[id]
	if !ok {
		return
	}

	havePort := len(f.Backends) > 0
	haveSrcAddr := false
	haveIf := false
	for _, bid := range f.Backends {
		b := r.backends[bid]
		if b.Port == 0 {
			havePort = false
		}
		if b.SrcAddr != "" {
			haveSrcAddr = true
		}
		if b.Oface != "" && b.Oface != f.Oface {
			haveIf = true
		}
	}
	f.BcksHavePort = havePort
	f.BcksHaveSrcAddr = haveSrcAddr
	f.BcksHaveIf = haveIf

	available, usable, weight := 0, 0, 0
	for _, bid := range f.Backends {
		b := r.backends[bid]
		if r.Available(b) {
			available++
			weight += b.Weight
		}
		if r.Usable(b) {
			usable++
		}
	}
	f.BcksAvailable = available
	f.BcksUsable = usable
	f.TotalWeight = weight
}

// RecalculatePriority implements spec §4.4: starting at DefaultPriority,
// raise the priority floor by the number of backends at it that are
// neither UP nor AVAIL (whether or not others there are), repeating
// until no such backend sits at the floor, then route
// every UP/AVAIL-eligible backend back through the state machine so
// backends crossing the floor flip between UP and AVAIL. Returns true
// iff the floor moved, signalling callers that a full rule reload (not
// just an incremental one) may be needed.
func (r *Registry) RecalculatePriority(id FarmID) bool {
	f, ok := r.farms[id]
	if !ok {
		return false
	}
	prior := f.Priority

	newPrio := DefaultPriority
	for {
		deadAtPrio := 0
		for _, bid := range f.Backends {
			b := r.backends[bid]
			if b.Priority == newPrio && b.State != StateUp && b.State != StateAvail {
				deadAtPrio++
			}
		}
		if deadAtPrio == 0 {
			break
		}
		newPrio += deadAtPrio
	}
	f.Priority = newPrio

	for _, bid := range f.Backends {
		b := r.backends[bid]
		if b.State == StateUp || b.State == StateAvail {
			r.reapplyUp(b, f)
		}
	}

	r.RecomputeFarmAggregates(id)
	return newPrio != prior
}

// reapplyUp re-derives a backend's UP/AVAIL split against the current
// farm priority without re-entering the full action bookkeeping of
// RequestBackendState (which would recurse back into priority
// recalculation).
func (r *Registry) reapplyUp(b *Backend, f *Farm) {
	if r.validate(b) != nil {
		b.State = StateConfErr
		return
	}
	if b.Priority > f.Priority {
		b.State = StateAvail
	} else {
		b.State = StateUp
	}
}

// DeleteFarm marks a farm and every backend/binding it owns for deletion
// and removes its sessions at once (cascade per spec §3 lifecycle).
func (r *Registry) DeleteFarm(id FarmID) error {
	f, ok := r.farms[id]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "farm %s not found", id)
	}
	for _, bid := range f.Backends {
		r.backends[bid].Action = action.Delete
	}
	for _, faID := range f.Addresses {
		fa := r.farmAddresses[faID]
		fa.Action = action.Delete
		if a, ok := r.addresses[fa.Address]; ok {
			a.Nported--
			a.Used--
		}
	}
	for _, polID := range f.Policies {
		if p, ok := r.policies[polID]; ok {
			p.Used--
		}
	}
	for _, sid := range append(append([]SessionID{}, f.StaticSessions...), f.TimedSessions...) {
		delete(r.sessions, sid)
	}
	f.Action, _ = action.Set(f.Action, action.Delete)
	return nil
}

func (r *Registry) compactFarm(id FarmID) {
	f, ok := r.farms[id]
	if !ok || f.Action != action.Delete {
		return
	}
	delete(r.farms, id)
	delete(r.farmByName, f.Name)
	for i, fid := range r.farmOrder {
		if fid == id {
			r.farmOrder = append(r.farmOrder[:i], r.farmOrder[i+1:]...)
			break
		}
	}
}
