// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"nlbd/internal/action"
	"nlbd/internal/errors"
)

// FarmAddress binds one Address to one Farm. It carries its own action
// so a farm can add or remove listeners without restarting unrelated
// bindings. It holds a non-owning reference to its Address: the
// Registry owns the Address, FarmAddress just points at it by id.
type FarmAddress struct {
	ID      FarmAddressID
	Farm    FarmID
	Address AddressID
	Action  action.Action
}

// BindAddress binds addrID to farmID, creating a new FarmAddress,
// bumping Address.Nported, and requesting START on the binding.
func (r *Registry) BindAddress(farmID FarmID, addrID AddressID) (*FarmAddress, error) {
	f, ok := r.farms[farmID]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "farm %s not found", farmID)
	}
	a, ok := r.addresses[addrID]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "address %s not found", addrID)
	}
	for _, faID := range f.Addresses {
		fa := r.farmAddresses[faID]
		if fa.Address == addrID {
			return fa, nil
		}
	}

	fa := &FarmAddress{ID: newFarmAddressID(), Farm: farmID, Address: addrID, Action: action.Start}
	r.farmAddresses[fa.ID] = fa
	f.Addresses = append(f.Addresses, fa.ID)
	a.Nported++
	a.Used++
	f.Action, _ = action.Set(f.Action, action.Reload)
	return fa, nil
}

// UnbindAddress marks the binding between farmID and addrID for
// deletion, decrementing the address's reference counters.
func (r *Registry) UnbindAddress(farmID FarmID, addrID AddressID) error {
	f, ok := r.farms[farmID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "farm %s not found", farmID)
	}
	for _, faID := range f.Addresses {
		fa := r.farmAddresses[faID]
		if fa.Address != addrID {
			continue
		}
		fa.Action, _ = action.Set(fa.Action, action.Delete)
		if a, ok := r.addresses[addrID]; ok {
			a.Nported--
			a.Used--
		}
		f.Action, _ = action.Set(f.Action, action.Reload)
		return nil
	}
	return errors.Errorf(errors.KindNotFound, "farm %s is not bound to address %s", farmID, addrID)
}

// compactFarmAddress removes a single FarmAddress binding once its
// deletion has been rulerized. Mirrors compactPolicy/compactAddress/
// compactFarm: the caller must still observe the binding carrying
// action.Delete at the time of the call, so it must be invoked before
// the caller resets fa.Action to action.None.
func (r *Registry) compactFarmAddress(id FarmAddressID) {
	fa, ok := r.farmAddresses[id]
	if !ok || fa.Action != action.Delete {
		return
	}
	f, ok := r.farms[fa.Farm]
	delete(r.farmAddresses, id)
	if !ok {
		return
	}
	for i, faID := range f.Addresses {
		if faID == id {
			f.Addresses = append(f.Addresses[:i], f.Addresses[i+1:]...)
			break
		}
	}
}
