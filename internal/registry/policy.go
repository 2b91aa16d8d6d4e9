// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"nlbd/internal/action"
	"nlbd/internal/errors"
)

// Element is a single member of a Policy's set (an IP or MAC string,
// with an optional timeout). It is owned by exactly one Policy and is
// created/destroyed with it.
type Element struct {
	Data   string
	Time   int // seconds, 0 = no per-element timeout
	Action action.Action
}

// Policy is a named IP/MAC set used for accept/deny/rate-limit
// filtering. Farms and Addresses reference policies by PolicyID; Used
// tracks how many such references are currently live.
type Policy struct {
	ID        PolicyID
	Name      string
	Type      PolicyType
	Route     PolicyRoute
	Family    Family
	Timeout   int
	LogPrefix string
	Used      int
	TotalElem int
	Action    action.Action
	Elements  []Element
}

// CreatePolicy creates a policy with defaults, keyed by name. Creating
// an already-existing name returns the existing policy (parser
// semantics: entities are created on first mention).
func (r *Registry) CreatePolicy(name string) *Policy {
	if id, ok := r.policyByName[name]; ok {
		return r.policies[id]
	}
	p := &Policy{ID: newPolicyID(), Name: name, Action: action.Start}
	r.policies[p.ID] = p
	r.policyByName[name] = p.ID
	r.policyOrder = append(r.policyOrder, p.ID)
	return p
}

// Policy looks up a policy by id.
func (r *Registry) Policy(id PolicyID) (*Policy, bool) {
	p, ok := r.policies[id]
	return p, ok
}

// PolicyByName looks up a policy by name.
func (r *Registry) PolicyByName(name string) (*Policy, bool) {
	id, ok := r.policyByName[name]
	if !ok {
		return nil, false
	}
	return r.policies[id], true
}

// AddElement appends an element to a policy and marks it dirty.
func (r *Registry) AddElement(id PolicyID, el Element) error {
	p, ok := r.policies[id]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "policy %s not found", id)
	}
	el.Action = action.Start
	p.Elements = append(p.Elements, el)
	p.TotalElem = len(p.Elements)
	p.Action, _ = action.Set(p.Action, action.Reload)
	return nil
}

// RemoveElement removes the first element matching data.
func (r *Registry) RemoveElement(id PolicyID, data string) error {
	p, ok := r.policies[id]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "policy %s not found", id)
	}
	for i, el := range p.Elements {
		if el.Data == data {
			p.Elements = append(p.Elements[:i], p.Elements[i+1:]...)
			p.TotalElem = len(p.Elements)
			p.Action, _ = action.Set(p.Action, action.Reload)
			return nil
		}
	}
	return errors.Errorf(errors.KindNotFound, "element %s not found in policy %s", data, p.Name)
}

// SetPolicyAction applies a requested action and cascades it to every
// farm and address that references the policy (spec §4.9): the
// policy's set must be rebuilt and rule bindings refreshed together.
func (r *Registry) SetPolicyAction(id PolicyID, requested action.Action) bool {
	p, ok := r.policies[id]
	if !ok {
		return false
	}
	newA, changed := action.Set(p.Action, requested)
	p.Action = newA
	if !changed {
		return false
	}

	for _, fid := range r.farmOrder {
		f := r.farms[fid]
		for _, ref := range f.Policies {
			if ref == id {
				f.Action, _ = action.Set(f.Action, action.Reload)
			}
		}
	}
	for _, aid := range r.addressOrder {
		a := r.addresses[aid]
		for _, ref := range a.Policies {
			if ref == id {
				a.Action, _ = action.Set(a.Action, action.Reload)
			}
		}
	}
	return true
}

// DeletePolicy marks a policy for deletion. It refuses to delete a
// policy that is still referenced (Used > 0); callers must unbind it
// from every farm/address first.
func (r *Registry) DeletePolicy(id PolicyID) error {
	p, ok := r.policies[id]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "policy %s not found", id)
	}
	if p.Used > 0 {
		return errors.Errorf(errors.KindConflict, "policy %s still referenced by %d object(s)", p.Name, p.Used)
	}
	p.Action, _ = action.Set(p.Action, action.Delete)
	return nil
}

// compactPolicy removes a policy slot once its cascading deletes have
// run (two-phase delete per the arena design notes).
func (r *Registry) compactPolicy(id PolicyID) {
	p, ok := r.policies[id]
	if !ok || p.Action != action.Delete {
		return
	}
	delete(r.policies, id)
	delete(r.policyByName, p.Name)
	for i, pid := range r.policyOrder {
		if pid == id {
			r.policyOrder = append(r.policyOrder[:i], r.policyOrder[i+1:]...)
			break
		}
	}
}
