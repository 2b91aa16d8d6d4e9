// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

// Family is an address family.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// Protocol is a backend/address transport protocol.
type Protocol int

const (
	ProtoTCP Protocol = iota
	ProtoUDP
	ProtoSCTP
	ProtoAll
)

// FarmMode selects how a farm steers matched traffic to its backends.
type FarmMode int

const (
	ModeDNAT FarmMode = iota
	ModeSNAT
	ModeDSR
	ModeStatelessDNAT
	ModeLocal
)

// IsIngress reports whether mode rewrites the destination MAC rather
// than performing NAT (DSR, stateless DNAT): these modes require every
// live backend to carry a resolved ethernet address.
func (m FarmMode) IsIngress() bool {
	return m == ModeDSR || m == ModeStatelessDNAT
}

// Scheduler selects the load-balancing algorithm for a farm.
type Scheduler int

const (
	SchedRR Scheduler = iota
	SchedWeight
	SchedHash
	SchedSymHash
)

// HashComponent is one bit of the scheduler_param / persistence bitmask:
// which parts of the 5-tuple participate in hashing or affinity.
type HashComponent int

const (
	HashSrcIP HashComponent = 1 << iota
	HashDstIP
	HashSrcPort
	HashDstPort
	HashMAC
)

// BackendState is the operational status of a Backend.
type BackendState int

const (
	StateUp BackendState = iota
	StateDown
	StateOff
	StateConfErr
	StateAvail
)

func (s BackendState) String() string {
	switch s {
	case StateUp:
		return "UP"
	case StateDown:
		return "DOWN"
	case StateOff:
		return "OFF"
	case StateConfErr:
		return "CONFERR"
	case StateAvail:
		return "AVAIL"
	default:
		return "UNKNOWN"
	}
}

// PolicyType is the kind of kernel set a Policy maintains.
type PolicyType int

const (
	PolicyBlacklist PolicyType = iota
	PolicyWhitelist
	PolicyRateLimit
)

// PolicyRoute is which traffic direction a Policy filters.
type PolicyRoute int

const (
	RouteIn PolicyRoute = iota
	RouteOut
)

// DefaultPriority is the starting priority for a farm's priority
// recalculation (spec §4.4).
const DefaultPriority = 1
