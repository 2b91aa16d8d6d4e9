// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"nlbd/internal/action"
	"nlbd/internal/errors"
)

// Address is a listening endpoint (IP+port+protocol+family+iface),
// shared by every Farm bound to it through a FarmAddress.
type Address struct {
	ID        AddressID
	Name      string
	Family    Family
	Protocol  Protocol
	IPAddr    string
	Port      int
	Iface     string
	Ifidx     int
	EthAddr   string // resolved MAC, empty until resolved
	LogPrefix string
	Policies  []PolicyID
	Action    action.Action
	Nported   int // count of bound farms
	Used      int // refcount of farm bindings referencing it (moves with Nported)
}

// CreateAddress creates an address keyed by name, or returns the
// existing one.
func (r *Registry) CreateAddress(name string) *Address {
	if id, ok := r.addressByName[name]; ok {
		return r.addresses[id]
	}
	a := &Address{ID: newAddressID(), Name: name, Action: action.Start}
	r.addresses[a.ID] = a
	r.addressByName[name] = a.ID
	r.addressOrder = append(r.addressOrder, a.ID)
	return a
}

// Address looks up an address by id.
func (r *Registry) Address(id AddressID) (*Address, bool) {
	a, ok := r.addresses[id]
	return a, ok
}

// AddressByName looks up an address by name.
func (r *Registry) AddressByName(name string) (*Address, bool) {
	id, ok := r.addressByName[name]
	if !ok {
		return nil, false
	}
	return r.addresses[id], true
}

// AddressBindPolicy attaches a policy to an address, bumping the policy's
// refcount, and reloads the address.
func (r *Registry) AddressBindPolicy(addrID AddressID, polID PolicyID) error {
	a, ok := r.addresses[addrID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "address %s not found", addrID)
	}
	p, ok := r.policies[polID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "policy %s not found", polID)
	}
	for _, ref := range a.Policies {
		if ref == polID {
			return nil
		}
	}
	a.Policies = append(a.Policies, polID)
	p.Used++
	a.Action, _ = action.Set(a.Action, action.Reload)
	return nil
}

// DeleteAddress marks an address for deletion if no FarmAddress still
// binds it (invariant: address.used >= number of bindings referencing
// it, §3).
func (r *Registry) DeleteAddress(id AddressID) error {
	a, ok := r.addresses[id]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "address %s not found", id)
	}
	if a.Nported > 0 {
		return errors.Errorf(errors.KindConflict, "address %s still bound by %d farm(s)", a.Name, a.Nported)
	}
	for _, polID := range a.Policies {
		if p, ok := r.policies[polID]; ok {
			p.Used--
		}
	}
	a.Action, _ = action.Set(a.Action, action.Delete)
	return nil
}

func (r *Registry) compactAddress(id AddressID) {
	a, ok := r.addresses[id]
	if !ok || a.Action != action.Delete {
		return
	}
	delete(r.addresses, id)
	delete(r.addressByName, a.Name)
	for i, aid := range r.addressOrder {
		if aid == id {
			r.addressOrder = append(r.addressOrder[:i], r.addressOrder[i+1:]...)
			break
		}
	}
}
