// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package attrstream defines the typed (object_kind, key, value) tuple
// replayed into registry.AttributeSetter. No wire decoder produces it in
// this module, and internal/bootstrap calls Registry.SetAttribute
// directly rather than going through this package.
package attrstream

import "nlbd/internal/registry"

// Attribute is one parser mutation: set key on the current object of
// kind to value.
type Attribute struct {
	Kind  registry.ObjectKind
	Key   registry.Key
	Value any
}

// Apply replays one Attribute against an AttributeSetter.
func Apply(s registry.AttributeSetter, a Attribute) error {
	return s.SetAttribute(a.Kind, a.Key, a.Value)
}

// ApplyAll replays a batch of Attributes in order, stopping at the
// first failure the way the parser stops consuming a malformed stream.
func ApplyAll(s registry.AttributeSetter, attrs []Attribute) error {
	for _, a := range attrs {
		if err := Apply(s, a); err != nil {
			return err
		}
	}
	return nil
}
