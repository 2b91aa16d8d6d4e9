// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"nlbd/internal/action"
	"nlbd/internal/logging"
)

// ObjectKind identifies the kind of object a rulerize descriptor or
// attribute-stream tuple targets.
type ObjectKind int

const (
	ObjPolicy ObjectKind = iota
	ObjAddress
	ObjFarmAddress
	ObjFarm
	ObjBackend
)

// RuleDescriptor carries one dirty object's identity and action to the
// external rule emitter. Its object fields point at the live registry
// objects; the emitter must not mutate registry state through them.
type RuleDescriptor struct {
	Kind   ObjectKind
	Action action.Action

	Policy      *Policy
	Address     *Address
	FarmAddress *FarmAddress
	Farm        *Farm
	Backend     *Backend

	// EffectiveMark is pre-computed for backend descriptors since the
	// emitter has no access to the farm's mode band.
	EffectiveMark int
}

// Emitter is the external rule emitter collaborator (spec §6): one call
// per dirty object, returning success/error, plus kernel session-table
// introspection.
type Emitter interface {
	Rulerize(desc RuleDescriptor) error
	GetSessionsBuffer(f *Farm) (string, error)
}

// SetEmitter installs the rule emitter used by ObjRulerize and the
// session refresh path.
func (r *Registry) SetEmitter(e Emitter) { r.emitter = e }

// SetLogger installs the logger used for rulerize diagnostics.
func (r *Registry) SetLogger(l *logging.Logger) { r.logger = l }

// ObjRulerize walks the registry in dependency order — policies first
// (their sets must exist before farms reference them), then farms (each
// rulerizing its bound FarmAddresses in farm-address order), then stray
// addresses — and calls the rule emitter for every object with a
// pending action. On success the object's action resets to None; on
// failure it is left untouched so a later call retries. Errors are
// logged, never propagated as exceptions, and folded into a non-zero
// aggregate return for the caller (spec §4.10, §7).
func (r *Registry) ObjRulerize() error {
	if r.emitter == nil {
		return nil
	}
	var failed bool

	for _, id := range append([]PolicyID{}, r.policyOrder...) {
		p := r.policies[id]
		if p.Action == action.None {
			continue
		}
		if err := r.emitter.Rulerize(RuleDescriptor{Kind: ObjPolicy, Action: p.Action, Policy: p}); err != nil {
			r.logFailure("policy", p.Name, err)
			failed = true
			continue
		}
		if p.Action == action.Delete {
			r.compactPolicy(id)
		} else {
			p.Action = action.None
		}
	}

	boundAddresses := make(map[AddressID]struct{})

	for _, fid := range append([]FarmID{}, r.farmOrder...) {
		f := r.farms[fid]

		for _, faID := range append([]FarmAddressID{}, f.Addresses...) {
			fa := r.farmAddresses[faID]
			boundAddresses[fa.Address] = struct{}{}
			if fa.Action == action.None {
				continue
			}
			addr := r.addresses[fa.Address]
			if err := r.emitter.Rulerize(RuleDescriptor{Kind: ObjFarmAddress, Action: fa.Action, FarmAddress: fa, Farm: f, Address: addr}); err != nil {
				r.logFailure("farm-address", f.Name, err)
				failed = true
				continue
			}
			if fa.Action == action.Delete {
				r.compactFarmAddress(faID)
			} else {
				fa.Action = action.None
			}
		}

		for _, bid := range append([]BackendID{}, f.Backends...) {
			b := r.backends[bid]
			if b.Action == action.None {
				continue
			}
			if err := r.emitter.Rulerize(RuleDescriptor{Kind: ObjBackend, Action: b.Action, Backend: b, Farm: f, EffectiveMark: r.EffectiveMark(b)}); err != nil {
				r.logFailure("backend", b.Name, err)
				failed = true
				continue
			}
			if b.Action == action.Delete {
				r.compactBackend(bid)
			} else {
				b.Action = action.None
			}
		}

		if f.Action != action.None {
			if err := r.emitter.Rulerize(RuleDescriptor{Kind: ObjFarm, Action: f.Action, Farm: f}); err != nil {
				r.logFailure("farm", f.Name, err)
				failed = true
			} else if f.Action == action.Delete {
				r.compactFarm(fid)
			} else {
				f.Action = action.None
			}
		}
	}

	for _, aid := range append([]AddressID{}, r.addressOrder...) {
		if _, bound := boundAddresses[aid]; bound {
			continue
		}
		a := r.addresses[aid]
		if a.Action == action.None {
			continue
		}
		if err := r.emitter.Rulerize(RuleDescriptor{Kind: ObjAddress, Action: a.Action, Address: a}); err != nil {
			r.logFailure("address", a.Name, err)
			failed = true
			continue
		}
		if a.Action == action.Delete {
			r.compactAddress(aid)
		} else {
			a.Action = action.None
		}
	}

	if failed {
		return errRulerizeFailed
	}
	return nil
}

func (r *Registry) logFailure(kind, name string, err error) {
	if r.logger != nil {
		r.logger.WithError(err).Warn("rulerize failed, action retained for retry: " + kind + " " + name)
	}
}

var errRulerizeFailed = &rulerizeError{}

type rulerizeError struct{}

func (*rulerizeError) Error() string { return "rulerize: one or more objects failed to apply" }
