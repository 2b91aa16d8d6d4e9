// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Package netres implements the core's OS helper collaborator (spec
// §6): neighbor-table lookup and outbound-interface-by-destination
// lookup, backed by the kernel routing and neighbor tables via
// vishvananda/netlink.
package netres

import (
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"nlbd/internal/errors"
	"nlbd/internal/registry"
)

// Resolver implements registry.Resolver against the kernel routing and
// neighbor tables of one network namespace.
type Resolver struct {
	// ns holds the handle given to NewInNamespace. Lookups do not use
	// it: they always run in the caller's current namespace.
	ns *netns.NsHandle
}

// New returns a Resolver operating in the caller's current namespace.
func New() *Resolver { return &Resolver{} }

// NewInNamespace returns a Resolver that records the given namespace
// handle. The handle is not applied to lookups, which run in the
// caller's current namespace like those of New.
func NewInNamespace(h netns.NsHandle) *Resolver { return &Resolver{ns: &h} }

// LocalIfindexForRemote asks the kernel routing table for the outbound
// interface index that would carry traffic to ip.
func (r *Resolver) LocalIfindexForRemote(ip net.IP) (int, error) {
	if ip == nil {
		return 0, errors.New(errors.KindResolution, "netres: nil destination IP")
	}
	routes, err := netlink.RouteGet(ip)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindResolution, "netres: route lookup for %s failed", ip)
	}
	if len(routes) == 0 {
		return 0, errors.Errorf(errors.KindResolution, "netres: no route to %s", ip)
	}
	return routes[0].LinkIndex, nil
}

// NeighEther resolves the destination MAC for dstIP by consulting the
// kernel neighbor table for the given ifindex; it does not trigger
// resolution for a missing entry. srcMAC/srcIP are accepted to match the spec's OS-helper
// signature (net_get_neigh_ether) but are informational only: the
// kernel neighbor table is keyed by destination, not source.
func (r *Resolver) NeighEther(srcMAC net.HardwareAddr, family registry.Family, srcIP, dstIP net.IP, ifidx int) (net.HardwareAddr, error) {
	if dstIP == nil {
		return nil, errors.New(errors.KindResolution, "netres: nil destination IP")
	}

	fam := netlink.FAMILY_V4
	if family == registry.FamilyIPv6 {
		fam = netlink.FAMILY_V6
	}

	neighs, err := netlink.NeighList(ifidx, fam)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindResolution, "netres: neighbor table read on ifindex %d failed", ifidx)
	}
	for _, n := range neighs {
		if n.IP.Equal(dstIP) && len(n.HardwareAddr) == 6 {
			return n.HardwareAddr, nil
		}
	}
	return nil, errors.Errorf(errors.KindResolution, "netres: no neighbor entry for %s on ifindex %d", dstIP, ifidx)
}
