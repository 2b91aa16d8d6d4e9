// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package registry is the control-plane core: the data graph of
// farms, backends, addresses, policies and sessions, and the
// reconciliation engine that keeps kernel state (via the rule emitter)
// in agreement with it.
//
// Per the arena design: every entity is identified by an id, never a
// pointer. This dissolves what would otherwise be cyclic references
// (Farm <-> Backend, Farm <-> FarmAddress <-> Address) into plain id
// lookups against the Registry's maps.
package registry

import "github.com/google/uuid"

// FarmID identifies a Farm.
type FarmID uuid.UUID

// BackendID identifies a Backend.
type BackendID uuid.UUID

// AddressID identifies an Address.
type AddressID uuid.UUID

// FarmAddressID identifies a FarmAddress binding.
type FarmAddressID uuid.UUID

// PolicyID identifies a Policy.
type PolicyID uuid.UUID

// SessionID identifies a Session.
type SessionID uuid.UUID

func newFarmID() FarmID               { return FarmID(uuid.New()) }
func newBackendID() BackendID         { return BackendID(uuid.New()) }
func newAddressID() AddressID         { return AddressID(uuid.New()) }
func newFarmAddressID() FarmAddressID { return FarmAddressID(uuid.New()) }
func newPolicyID() PolicyID           { return PolicyID(uuid.New()) }
func newSessionID() SessionID         { return SessionID(uuid.New()) }

func (id FarmID) String() string    { return uuid.UUID(id).String() }
func (id BackendID) String() string { return uuid.UUID(id).String() }
func (id AddressID) String() string { return uuid.UUID(id).String() }
func (id PolicyID) String() string  { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }
