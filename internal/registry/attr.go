// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"nlbd/internal/action"
	"nlbd/internal/errors"
)

// Key is an attribute name in the parser → core key/value stream
// (spec §6). Recognized keys per object kind are enumerated in
// spec.md §3/§4; this is not an exhaustive wire protocol (that is the
// external parser's job) but the set the core understands.
type Key string

const (
	KeyName    Key = "name"
	KeyNewName Key = "newname"
	KeyAction  Key = "action"

	// Backend keys.
	KeyIPAddr       Key = "ipaddr"
	KeyPort         Key = "port"
	KeySrcAddr      Key = "srcaddr"
	KeyEthAddr      Key = "ethaddr"
	KeyWeight       Key = "weight"
	KeyPriority     Key = "priority"
	KeyState        Key = "state"
	KeyMark         Key = "mark"
	KeyEstConnLimit Key = "estconnlimit"
	KeyFQDN         Key = "fqdn"
	KeyOface        Key = "oface"

	// Farm keys.
	KeyMode           Key = "mode"
	KeyScheduler      Key = "scheduler"
	KeySchedParam     Key = "scheduler_param"
	KeyPersistence    Key = "persistence"
	KeyPersistenceTTL Key = "persistence_ttl"
	KeyHelper         Key = "helper"
	KeyLog            Key = "log"

	// Address keys.
	KeyFamily   Key = "family"
	KeyProtocol Key = "protocol"
	KeyIface    Key = "iface"
	KeyLogPrefix Key = "logprefix"

	// Policy keys.
	KeyType    Key = "type"
	KeyRoute   Key = "route"
	KeyTimeout Key = "timeout"
)

// AttributeSetter is the interface the parser (out of scope per spec
// §1) drives, via the Registry's explicit cursor rather than the
// source system's global statefulness (spec §9 design notes).
type AttributeSetter interface {
	SetAttribute(kind ObjectKind, key Key, value any) error
}

var _ AttributeSetter = (*Registry)(nil)

// SetAttribute applies one key/value pair to the object under the
// cursor for kind, running the pre-actionable hook before the mutation
// and the post-actionable hook after it (spec §4.7). KEY_NAME is
// special: it moves the cursor (creating the object if absent) rather
// than mutating a field.
func (r *Registry) SetAttribute(kind ObjectKind, key Key, value any) error {
	if key == KeyName {
		return r.setCursorByName(kind, value)
	}

	switch kind {
	case ObjBackend:
		return r.setBackendAttribute(key, value)
	case ObjFarm:
		return r.setFarmAttribute(key, value)
	case ObjAddress:
		return r.setAddressAttribute(key, value)
	case ObjPolicy:
		return r.setPolicyAttribute(key, value)
	default:
		return errors.Errorf(errors.KindParse, "unsupported object kind for SetAttribute: %v", kind)
	}
}

func (r *Registry) setCursorByName(kind ObjectKind, value any) error {
	name, ok := value.(string)
	if !ok {
		return errors.New(errors.KindParse, "name value must be a string")
	}
	switch kind {
	case ObjFarm:
		r.SetCurrentFarm(name)
	case ObjBackend:
		if _, err := r.SetCurrentBackend(name); err != nil {
			return err
		}
	case ObjAddress:
		r.SetCurrentAddress(name)
	case ObjPolicy:
		r.SetCurrentPolicy(name)
	default:
		return errors.Errorf(errors.KindParse, "unsupported object kind for name: %v", kind)
	}
	return nil
}

// identityKeys are the backend keys that change the backend's live
// steering identity: on a backend already in state UP these require a
// STOP (with immediate rule emit) before the mutation and a START
// after it (spec §4.7).
var identityKeys = map[Key]bool{
	KeyIPAddr: true, KeyEthAddr: true, KeySrcAddr: true, KeyMark: true, KeyEstConnLimit: true, KeyPriority: true,
}

func (r *Registry) setBackendAttribute(key Key, value any) error {
	b, ok := r.CurrentBackend()
	if !ok {
		return errors.New(errors.KindParse, "no current backend")
	}
	f := r.farms[b.Parent]

	wasUp := b.State == StateUp
	identity := identityKeys[key]
	priorityOnNonUp := key == KeyPriority && b.State != StateUp

	if identity && wasUp {
		// Emit the STOP immediately rather than folding it into the
		// pending action: the mutation below needs the backend already
		// withdrawn from live rules. Once the immediate emit lands, the
		// pending action field is free again for the post-hook to set —
		// otherwise the stronger STOP would permanently outrank the
		// START the post-hook tries to request (action algebra only
		// lets a weaker request through).
		if r.emitter != nil {
			if err := r.emitter.Rulerize(RuleDescriptor{Kind: ObjBackend, Action: action.Stop, Backend: b, Farm: f}); err != nil {
				b.Action, _ = action.Set(b.Action, action.Stop)
			}
		} else {
			b.Action, _ = action.Set(b.Action, action.Stop)
		}
	}
	if priorityOnNonUp {
		// Priority changes on a non-UP backend can redistribute every
		// other backend in the farm: force a full farm flush+restart.
		f.Action, _ = action.Set(f.Action, action.Flush)
	}

	switch key {
	case KeyNewName:
		name, ok := value.(string)
		if !ok {
			return errors.New(errors.KindParse, "newname must be a string")
		}
		delete(r.backends, b.ID) // identity stable via id; rename only affects the name, no re-keying needed
		r.backends[b.ID] = b
		b.Name = name
	case KeyIPAddr:
		b.IPAddr, ok = value.(string)
		b.EthAddr = "" // cleared; ether resolution repopulates it if ingress mode
	case KeyPort:
		b.Port, ok = asInt(value)
	case KeySrcAddr:
		b.SrcAddr, ok = value.(string)
	case KeyEthAddr:
		b.EthAddr, ok = value.(string)
	case KeyWeight:
		b.Weight, ok = asInt(value)
	case KeyPriority:
		b.Priority, ok = asInt(value)
	case KeyMark:
		b.Mark, ok = asInt(value)
	case KeyEstConnLimit:
		b.EstConnLimit, ok = asInt(value)
	case KeyFQDN:
		b.FQDN, ok = value.(string)
	case KeyOface:
		b.Oface, ok = value.(string)
	case KeyState:
		s, serr := asState(value)
		if serr != nil {
			return serr
		}
		return r.RequestBackendState(b.ID, s)
	case KeyAction:
		a, aerr := asAction(value)
		if aerr != nil {
			return aerr
		}
		b.Action, _ = action.Set(b.Action, a)
		return nil
	default:
		return errors.Errorf(errors.KindParse, "unsupported backend key: %s", key)
	}
	if !ok {
		return errors.Errorf(errors.KindParse, "invalid value for backend key %s: %v", key, value)
	}

	if identity {
		b.Action, _ = action.Set(b.Action, action.Start)
	} else {
		b.Action, _ = action.Set(b.Action, action.Reload)
	}
	f.Action, _ = action.Set(f.Action, action.Reload)
	r.RecomputeFarmAggregates(f.ID)
	if key == KeyIPAddr || key == KeyOface {
		_ = r.DiscoverOutboundInterface(b.ID)
		_ = r.ResolveEthernet(b.ID)
	}
	r.RecalculatePriority(f.ID)
	return nil
}

func (r *Registry) setFarmAttribute(key Key, value any) error {
	f, ok := r.CurrentFarm()
	if !ok {
		return errors.New(errors.KindParse, "no current farm")
	}
	switch key {
	case KeyNewName:
		name, ok := value.(string)
		if !ok {
			return errors.New(errors.KindParse, "newname must be a string")
		}
		delete(r.farmByName, f.Name)
		f.Name = name
		r.farmByName[name] = f.ID
	case KeyMode:
		m, ok := value.(FarmMode)
		if !ok {
			return errors.New(errors.KindParse, "mode value must be a FarmMode")
		}
		f.Mode = m
	case KeyScheduler:
		s, ok := value.(Scheduler)
		if !ok {
			return errors.New(errors.KindParse, "scheduler value must be a Scheduler")
		}
		f.Scheduler = s
	case KeySchedParam:
		hc, ok := value.(HashComponent)
		if !ok {
			return errors.New(errors.KindParse, "scheduler_param value must be a HashComponent")
		}
		f.SchedParam = hc
	case KeyPersistence:
		hc, ok := value.(HashComponent)
		if !ok {
			return errors.New(errors.KindParse, "persistence value must be a HashComponent")
		}
		f.Persistence = hc
	case KeyPersistenceTTL:
		ttl, ok := asInt(value)
		if !ok {
			return errors.New(errors.KindParse, "persistence_ttl must be an int")
		}
		f.PersistenceTTL = ttl
	case KeyHelper:
		h, ok := value.(string)
		if !ok {
			return errors.New(errors.KindParse, "helper must be a string")
		}
		f.Helper = h
	case KeyLog:
		l, ok := asInt(value)
		if !ok {
			return errors.New(errors.KindParse, "log must be an int bitmask")
		}
		f.LogBits = l
	case KeySrcAddr:
		s, ok := value.(string)
		if !ok {
			return errors.New(errors.KindParse, "srcaddr must be a string")
		}
		f.SrcAddr = s
	case KeyAction:
		a, err := asAction(value)
		if err != nil {
			return err
		}
		f.Action, _ = action.Set(f.Action, a)
		return nil
	default:
		return errors.Errorf(errors.KindParse, "unsupported farm key: %s", key)
	}
	f.Action, _ = action.Set(f.Action, action.Reload)
	return nil
}

func (r *Registry) setAddressAttribute(key Key, value any) error {
	a, ok := r.addresses[r.cursor.Address]
	if !r.cursor.HasAddress || !ok {
		return errors.New(errors.KindParse, "no current address")
	}
	switch key {
	case KeyNewName:
		name, ok := value.(string)
		if !ok {
			return errors.New(errors.KindParse, "newname must be a string")
		}
		delete(r.addressByName, a.Name)
		a.Name = name
		r.addressByName[name] = a.ID
	case KeyIPAddr:
		a.IPAddr, ok = value.(string)
		if !ok {
			return errors.New(errors.KindParse, "ipaddr must be a string")
		}
	case KeyPort:
		p, ok := asInt(value)
		if !ok {
			return errors.New(errors.KindParse, "port must be an int")
		}
		a.Port = p
	case KeyProtocol:
		p, ok := value.(Protocol)
		if !ok {
			return errors.New(errors.KindParse, "protocol value must be a Protocol")
		}
		a.Protocol = p
	case KeyFamily:
		fam, ok := value.(Family)
		if !ok {
			return errors.New(errors.KindParse, "family value must be a Family")
		}
		a.Family = fam
	case KeyIface:
		s, ok := value.(string)
		if !ok {
			return errors.New(errors.KindParse, "iface must be a string")
		}
		a.Iface = s
	case KeyLogPrefix:
		s, ok := value.(string)
		if !ok {
			return errors.New(errors.KindParse, "logprefix must be a string")
		}
		a.LogPrefix = s
	default:
		return errors.Errorf(errors.KindParse, "unsupported address key: %s", key)
	}
	a.Action, _ = action.Set(a.Action, action.Reload)
	return nil
}

func (r *Registry) setPolicyAttribute(key Key, value any) error {
	p, ok := r.policies[r.cursor.Policy]
	if !r.cursor.HasPolicy || !ok {
		return errors.New(errors.KindParse, "no current policy")
	}
	switch key {
	case KeyNewName:
		name, ok := value.(string)
		if !ok {
			return errors.New(errors.KindParse, "newname must be a string")
		}
		delete(r.policyByName, p.Name)
		p.Name = name
		r.policyByName[name] = p.ID
	case KeyType:
		t, ok := value.(PolicyType)
		if !ok {
			return errors.New(errors.KindParse, "type value must be a PolicyType")
		}
		p.Type = t
	case KeyRoute:
		rt, ok := value.(PolicyRoute)
		if !ok {
			return errors.New(errors.KindParse, "route value must be a PolicyRoute")
		}
		p.Route = rt
	case KeyFamily:
		fam, ok := value.(Family)
		if !ok {
			return errors.New(errors.KindParse, "family value must be a Family")
		}
		p.Family = fam
	case KeyTimeout:
		t, ok := asInt(value)
		if !ok {
			return errors.New(errors.KindParse, "timeout must be an int")
		}
		p.Timeout = t
	case KeyLogPrefix:
		s, ok := value.(string)
		if !ok {
			return errors.New(errors.KindParse, "logprefix must be a string")
		}
		p.LogPrefix = s
	default:
		return errors.Errorf(errors.KindParse, "unsupported policy key: %s", key)
	}
	p.Action, _ = action.Set(p.Action, action.Reload)
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asState(v any) (BackendState, error) {
	if s, ok := v.(BackendState); ok {
		return s, nil
	}
	if s, ok := v.(string); ok {
		switch s {
		case "UP":
			return StateUp, nil
		case "DOWN":
			return StateDown, nil
		case "OFF":
			return StateOff, nil
		case "CONFERR":
			return StateConfErr, nil
		case "AVAIL":
			return StateAvail, nil
		}
	}
	return 0, errors.Errorf(errors.KindParse, "invalid state value: %v", v)
}

func asAction(v any) (action.Action, error) {
	if a, ok := v.(action.Action); ok {
		return a, nil
	}
	return 0, errors.Errorf(errors.KindParse, "invalid action value: %v", v)
}
