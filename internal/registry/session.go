// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"fmt"
	"strings"

	"nlbd/internal/action"
)

// Session is a static (admin-configured) or timed (kernel-learned)
// client-to-backend affinity record. Client is opaque to the core: its
// syntax depends on the farm's persistence bitmask; the core only
// compares it for equality.
type Session struct {
	ID         SessionID
	Farm       FarmID
	Client     string
	Backend    *BackendID // nil if no backend matched
	Static     bool
	State      action.Action
	Action     action.Action
	Expiration int64 // seconds as given by the kernel buffer's "expires", 0 for static sessions
}

// FormatKey renders, per farm mode, the backend key of a kernel
// session-buffer element (spec §4.8): the backend's ethaddr for DSR, its
// ipaddr for stateless DNAT, and its mark in hex for the other modes.
// RefreshTimedSessions matches buffer elements to backends with it.
func FormatKey(mode FarmMode, b *Backend, mark int) string {
	switch mode {
	case ModeDSR:
		return b.EthAddr
	case ModeStatelessDNAT:
		return b.IPAddr
	default: // DNAT, SNAT, LOCAL: hex fwmark
		return fmt.Sprintf("0x%03x", mark)
	}
}

// AddStaticSession creates an admin-configured, durable session.
func (r *Registry) AddStaticSession(farmID FarmID, client string, backend *BackendID) (*Session, error) {
	f, ok := r.farms[farmID]
	if !ok {
		return nil, fmt.Errorf("farm %s not found", farmID)
	}
	if backend != nil {
		b, ok := r.backends[*backend]
		if !ok || b.Parent != farmID {
			return nil, fmt.Errorf("backend %v does not belong to farm %s", backend, f.Name)
		}
	}
	s := &Session{ID: newSessionID(), Farm: farmID, Client: client, Backend: backend, Static: true, Action: action.Start}
	r.sessions[s.ID] = s
	f.StaticSessions = append(f.StaticSessions, s.ID)
	return s, nil
}

// sessionBackendAction implements spec §4.8's
// session_backend_action(f, b, action): static sessions matching the
// backend (by effective mark for NAT/local modes, by pointer identity
// for ingress modes) get the action applied; if no timed sessions were
// cached, the cache is refreshed from the kernel, the same action is
// applied, then the refreshed cache is discarded to avoid serving stale
// data while still giving the kernel set mutation a chance to land.
func (r *Registry) sessionBackendAction(f *Farm, b *Backend, act action.Action) {
	matches := func(s *Session) bool {
		if s.Backend == nil {
			return false
		}
		if f.Mode.IsIngress() {
			return *s.Backend == b.ID
		}
		return *s.Backend == b.ID // effective-mark equality collapses to backend identity within one farm
	}

	for _, sid := range f.StaticSessions {
		s := r.sessions[sid]
		if matches(s) {
			s.State, _ = action.Set(s.State, act)
		}
	}

	if len(f.TimedSessions) == 0 && r.emitter != nil {
		refreshed, err := r.RefreshTimedSessions(f.ID)
		if err == nil {
			for _, s := range refreshed {
				if matches(s) {
					s.State, _ = action.Set(s.State, act)
				}
			}
		}
		f.TimedSessions = nil
	}
}

// RefreshTimedSessions fetches the kernel buffer via the rule emitter
// and rebuilds the farm's timed session list. sessionBackendAction calls
// it when the farm has no cached timed sessions.
func (r *Registry) RefreshTimedSessions(farmID FarmID) ([]*Session, error) {
	f, ok := r.farms[farmID]
	if !ok {
		return nil, fmt.Errorf("farm %s not found", farmID)
	}
	if r.emitter == nil {
		return nil, nil
	}
	buf, err := r.emitter.GetSessionsBuffer(f)
	if err != nil {
		return nil, err
	}
	elements, err := ParseSessionBuffer(buf)
	if err != nil {
		return nil, err
	}

	// Build lookup table for the key syntax this farm's mode uses.
	byKey := make(map[string]*Backend, len(f.Backends))
	for _, bid := range f.Backends {
		b := r.backends[bid]
		byKey[FormatKey(f.Mode, b, b.Mark)] = b
	}

	var fresh []SessionID
	var result []*Session
	for _, el := range elements {
		s := &Session{ID: newSessionID(), Farm: farmID, Client: el.Client, Expiration: el.Expires}
		if b, ok := byKey[el.BckKey]; ok {
			id := b.ID
			s.Backend = &id
		}
		r.sessions[s.ID] = s
		fresh = append(fresh, s.ID)
		result = append(result, s)
	}
	f.TimedSessions = fresh
	return result, nil
}

// SessionElement is one parsed entry from a kernel session buffer.
type SessionElement struct {
	Client  string
	Timeout int
	Expires int64
	BckKey  string
}

// ParseSessionBuffer parses a kernel session buffer of the form
// `elements = { <client> [timeout <t>] expires <e> : <bck_key>, ... }`
// into a list of elements. It is a pure function so it is unit-testable
// without a kernel (spec §9 design notes).
//
// Malformed input stops parsing at the first unparseable element,
// returning whatever elements were already parsed along with the error
// — this matches the source system's behavior.
func ParseSessionBuffer(text string) ([]SessionElement, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < 0 || end < start {
		if text == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("session buffer: missing braces")
	}
	body := text[start+1 : end]

	var elements []SessionElement
	for _, raw := range strings.Split(body, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		el, err := parseSessionElement(raw)
		if err != nil {
			return elements, err
		}
		elements = append(elements, el)
	}
	return elements, nil
}

func parseSessionElement(raw string) (SessionElement, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return SessionElement{}, fmt.Errorf("session element %q: missing ':' separator", raw)
	}
	lhs := strings.Fields(strings.TrimSpace(parts[0]))
	bckKey := strings.TrimSpace(parts[1])
	if len(lhs) == 0 || bckKey == "" {
		return SessionElement{}, fmt.Errorf("session element %q: malformed", raw)
	}

	el := SessionElement{Client: lhs[0], BckKey: bckKey}
	for i := 1; i < len(lhs); i++ {
		switch lhs[i] {
		case "timeout":
			if i+1 >= len(lhs) {
				return SessionElement{}, fmt.Errorf("session element %q: timeout missing value", raw)
			}
			t, err := parseDurationSeconds(lhs[i+1])
			if err != nil {
				return SessionElement{}, err
			}
			el.Timeout = t
			i++
		case "expires":
			if i+1 >= len(lhs) {
				return SessionElement{}, fmt.Errorf("session element %q: expires missing value", raw)
			}
			e, err := parseDurationSeconds(lhs[i+1])
			if err != nil {
				return SessionElement{}, err
			}
			el.Expires = int64(e)
			i++
		}
	}
	return el, nil
}

// parseDurationSeconds parses a bare integer or an integer with an "s"
// suffix (as nftables emits for set-element timeouts, e.g. "30s") into
// whole seconds.
func parseDurationSeconds(s string) (int, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "s")
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return n, nil
}
