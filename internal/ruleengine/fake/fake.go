// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fake provides an in-memory registry.Emitter for tests:
// instead of touching nftables it records every descriptor it was
// asked to apply, and lets the test fail specific objects on demand.
package fake

import (
	"fmt"

	"nlbd/internal/registry"
)

// Emitter is a registry.Emitter that records calls in order and can be
// configured to fail specific objects by name.
type Emitter struct {
	Calls []registry.RuleDescriptor

	// FailNames, if set, makes Rulerize return an error for any
	// descriptor whose object name is in the set.
	FailNames map[string]bool

	// SessionBuffers is served verbatim by GetSessionsBuffer, keyed by
	// farm name.
	SessionBuffers map[string]string
}

// New returns an empty Emitter.
func New() *Emitter {
	return &Emitter{FailNames: map[string]bool{}, SessionBuffers: map[string]string{}}
}

func objectName(desc registry.RuleDescriptor) string {
	switch desc.Kind {
	case registry.ObjPolicy:
		return desc.Policy.Name
	case registry.ObjAddress:
		return desc.Address.Name
	case registry.ObjFarmAddress:
		return desc.Farm.Name
	case registry.ObjFarm:
		return desc.Farm.Name
	case registry.ObjBackend:
		return desc.Backend.Name
	default:
		return ""
	}
}

// Rulerize records desc and fails it if its object name is in FailNames.
func (e *Emitter) Rulerize(desc registry.RuleDescriptor) error {
	e.Calls = append(e.Calls, desc)
	name := objectName(desc)
	if e.FailNames[name] {
		return fmt.Errorf("fake: forced failure for %s", name)
	}
	return nil
}

// GetSessionsBuffer returns the configured buffer for f.Name, or empty.
func (e *Emitter) GetSessionsBuffer(f *registry.Farm) (string, error) {
	return e.SessionBuffers[f.Name], nil
}

// CountFor returns how many times an object with the given name was
// rulerized.
func (e *Emitter) CountFor(name string) int {
	n := 0
	for _, c := range e.Calls {
		if objectName(c) == name {
			n++
		}
	}
	return n
}
