// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"net"

	"nlbd/internal/netutil"
)

// Resolver is the OS helper collaborator (spec §6): neighbor-table
// lookup and outbound-interface-by-destination lookup.
type Resolver interface {
	LocalIfindexForRemote(ip net.IP) (int, error)
	NeighEther(srcMAC net.HardwareAddr, family Family, srcIP, dstIP net.IP, ifidx int) (net.HardwareAddr, error)
}

// SetResolver installs the OS helper collaborator used by
// ResolveEthernet and outbound-interface discovery.
func (r *Registry) SetResolver(res Resolver) { r.resolver = res }

// ResolveEthernet implements spec §4.6 for ingress-mode farms: rewrite
// the backend's ethaddr from the kernel neighbor table so the rule
// emitter can rewrite the destination MAC.
func (r *Registry) ResolveEthernet(backendID BackendID) error {
	b, ok := r.backends[backendID]
	if !ok || r.resolver == nil {
		return nil
	}
	f, ok := r.farms[b.Parent]
	if !ok {
		return nil
	}

	if !f.Mode.IsIngress() || (f.State != StateUp && f.State != StateConfErr) {
		return nil
	}
	if len(f.Addresses) == 0 {
		return nil
	}
	fa := r.farmAddresses[f.Addresses[0]]
	addr, ok := r.addresses[fa.Address]
	if !ok {
		return nil
	}

	srcIP := f.SrcAddr
	if srcIP == "" {
		srcIP = addr.IPAddr
	}
	srcMAC, err := parseMACOrVirtual(addr.EthAddr, f.Oface)
	if err != nil {
		return err
	}

	dst, err := r.resolver.NeighEther(srcMAC, f.Family(), net.ParseIP(srcIP), net.ParseIP(b.IPAddr), addr.Ifidx)
	if err != nil {
		// Retry with the backend's srcaddr override (else srcIP) on the
		// ifindex the OS routes b.IPAddr through. The oface override
		// picked below is not passed to the lookup.
		oface := b.Oface
		if oface == "" {
			oface = f.Oface
		}
		overrideSrc := b.SrcAddr
		if overrideSrc == "" {
			overrideSrc = srcIP
		}
		ifidx, ifErr := r.resolver.LocalIfindexForRemote(net.ParseIP(b.IPAddr))
		if ifErr != nil {
			return err
		}
		dst, err = r.resolver.NeighEther(srcMAC, f.Family(), net.ParseIP(overrideSrc), net.ParseIP(b.IPAddr), ifidx)
		if err != nil {
			return err
		}
	}

	b.EthAddr = netutil.FormatMAC(dst)
	return nil
}

// Family reports the address family a farm operates in. It always
// returns IPv4; the farm's bound addresses are not consulted.
func (f *Farm) Family() Family {
	return FamilyIPv4
}

// parseMACOrVirtual parses an explicitly configured source MAC, or
// synthesizes a deterministic locally-administered one keyed by the
// outbound interface name when the address carries none (DSR/ingress
// farms need some source MAC to rewrite from even when unconfigured).
func parseMACOrVirtual(s, oface string) (net.HardwareAddr, error) {
	if s == "" {
		return netutil.GenerateVirtualMAC(oface), nil
	}
	raw, err := netutil.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	return net.HardwareAddr(raw), nil
}

// DiscoverOutboundInterface implements the second half of spec §4.6:
// ask the OS for the local ifindex serving backend.ipaddr, adopting it
// as the farm's oface if the farm has none yet, or recording a
// per-backend override (and flagging BcksHaveIf) if it differs.
func (r *Registry) DiscoverOutboundInterface(backendID BackendID) error {
	b, ok := r.backends[backendID]
	if !ok || r.resolver == nil {
		return nil
	}
	f, ok := r.farms[b.Parent]
	if !ok {
		return nil
	}
	ifidx, err := r.resolver.LocalIfindexForRemote(net.ParseIP(b.IPAddr))
	if err != nil {
		return err
	}
	if f.Oface == "" {
		f.Ofidx = ifidx
	} else if ifidx != f.Ofidx {
		b.Ofidx = ifidx
		r.RecomputeFarmAggregates(f.ID)
	}
	return nil
}
