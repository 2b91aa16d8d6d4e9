// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package bootstrap loads the HCL configuration file named by the `-c`
// flag (spec §6) and replays it into the registry through
// registry.AttributeSetter, the way the teacher's internal/config
// package loads its own HCL files into a typed struct before applying
// them.
package bootstrap

import (
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"nlbd/internal/errors"
	"nlbd/internal/registry"
	"nlbd/internal/validation"
)

// File is the on-disk schema: one block per farm, address and policy.
// Field names follow the wire key names of spec.md §3/§4 so the decode
// step is a near-direct copy onto registry.Key values.
type File struct {
	Farms      []FarmBlock    `hcl:"farm,block"`
	Addresses  []AddressBlock `hcl:"address,block"`
	Policies   []PolicyBlock  `hcl:"policy,block"`
	Masquerade string         `hcl:"masquerade_mark,optional"`
}

type FarmBlock struct {
	Name           string          `hcl:"name,label"`
	Mode           string          `hcl:"mode,optional"`
	Scheduler      string          `hcl:"scheduler,optional"`
	Persistence    string          `hcl:"persistence,optional"`
	PersistenceTTL int             `hcl:"persistence_ttl,optional"`
	Helper         string          `hcl:"helper,optional"`
	SrcAddr        string          `hcl:"srcaddr,optional"`
	Addresses      []string        `hcl:"addresses,optional"`
	Policies       []string        `hcl:"policies,optional"`
	Backends       []BackendBlock  `hcl:"backend,block"`
	Sessions       []SessionBlock  `hcl:"session,block"`
}

type BackendBlock struct {
	Name         string `hcl:"name,label"`
	IPAddr       string `hcl:"ipaddr"`
	Port         int    `hcl:"port,optional"`
	SrcAddr      string `hcl:"srcaddr,optional"`
	EthAddr      string `hcl:"ethaddr,optional"`
	Weight       int    `hcl:"weight,optional"`
	Priority     int    `hcl:"priority,optional"`
	EstConnLimit int    `hcl:"estconnlimit,optional"`
	State        string `hcl:"state,optional"`
}

type SessionBlock struct {
	Client  string `hcl:"client,label"`
	Backend string `hcl:"backend,optional"`
}

type AddressBlock struct {
	Name     string `hcl:"name,label"`
	IPAddr   string `hcl:"ipaddr"`
	Port     int    `hcl:"port,optional"`
	Protocol string `hcl:"protocol,optional"`
	Family   string `hcl:"family,optional"`
	Iface    string `hcl:"iface,optional"`
}

type PolicyBlock struct {
	Name     string   `hcl:"name,label"`
	Type     string   `hcl:"type,optional"`
	Route    string   `hcl:"route,optional"`
	Family   string   `hcl:"family,optional"`
	Timeout  int      `hcl:"timeout,optional"`
	Elements []string `hcl:"elements,optional"`
}

// Load parses path and replays its contents into r via SetAttribute
// calls, exactly as the runtime parser (out of scope per spec §1)
// would have.
func Load(path string, r *registry.Registry) error {
	var f File
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return errors.Wrap(err, errors.KindParse, "bootstrap: failed to decode config")
	}
	return Apply(&f, r)
}

// Apply replays a decoded File into r. Addresses and policies are
// applied first so the farm blocks that reference them by name can
// bind immediately.
func Apply(f *File, r *registry.Registry) error {
	if err := validateFile(f); err != nil {
		return err
	}

	for _, ab := range f.Addresses {
		r.SetCurrentAddress(ab.Name)
		if err := setIfNonZero(r, registry.ObjAddress, registry.KeyIPAddr, ab.IPAddr); err != nil {
			return err
		}
		if ab.Port != 0 {
			if err := r.SetAttribute(registry.ObjAddress, registry.KeyPort, ab.Port); err != nil {
				return err
			}
		}
		if ab.Protocol != "" {
			if err := r.SetAttribute(registry.ObjAddress, registry.KeyProtocol, protocolFromString(ab.Protocol)); err != nil {
				return err
			}
		}
		if ab.Family != "" {
			if err := r.SetAttribute(registry.ObjAddress, registry.KeyFamily, familyFromString(ab.Family)); err != nil {
				return err
			}
		}
		if err := setIfNonZero(r, registry.ObjAddress, registry.KeyIface, ab.Iface); err != nil {
			return err
		}
	}

	for _, pb := range f.Policies {
		r.SetCurrentPolicy(pb.Name)
		if pb.Type != "" {
			if err := r.SetAttribute(registry.ObjPolicy, registry.KeyType, policyTypeFromString(pb.Type)); err != nil {
				return err
			}
		}
		if pb.Route != "" {
			if err := r.SetAttribute(registry.ObjPolicy, registry.KeyRoute, policyRouteFromString(pb.Route)); err != nil {
				return err
			}
		}
		if pb.Family != "" {
			if err := r.SetAttribute(registry.ObjPolicy, registry.KeyFamily, familyFromString(pb.Family)); err != nil {
				return err
			}
		}
		if pb.Timeout != 0 {
			if err := r.SetAttribute(registry.ObjPolicy, registry.KeyTimeout, pb.Timeout); err != nil {
				return err
			}
		}
		p, _ := r.PolicyByName(pb.Name)
		for _, el := range pb.Elements {
			if err := r.AddElement(p.ID, registry.Element{Data: el}); err != nil {
				return err
			}
		}
	}

	for _, fb := range f.Farms {
		farm := r.SetCurrentFarm(fb.Name)
		if fb.Mode != "" {
			if err := r.SetAttribute(registry.ObjFarm, registry.KeyMode, farmModeFromString(fb.Mode)); err != nil {
				return err
			}
		}
		if fb.Scheduler != "" {
			if err := r.SetAttribute(registry.ObjFarm, registry.KeyScheduler, schedulerFromString(fb.Scheduler)); err != nil {
				return err
			}
		}
		if fb.PersistenceTTL != 0 {
			if err := r.SetAttribute(registry.ObjFarm, registry.KeyPersistenceTTL, fb.PersistenceTTL); err != nil {
				return err
			}
		}
		if err := setIfNonZero(r, registry.ObjFarm, registry.KeyHelper, fb.Helper); err != nil {
			return err
		}
		if err := setIfNonZero(r, registry.ObjFarm, registry.KeySrcAddr, fb.SrcAddr); err != nil {
			return err
		}

		for _, addrName := range fb.Addresses {
			addr, ok := r.AddressByName(addrName)
			if !ok {
				return errors.Errorf(errors.KindParse, "bootstrap: farm %s references unknown address %s", fb.Name, addrName)
			}
			if _, err := r.BindAddress(farm.ID, addr.ID); err != nil {
				return err
			}
		}
		for _, polName := range fb.Policies {
			pol, ok := r.PolicyByName(polName)
			if !ok {
				return errors.Errorf(errors.KindParse, "bootstrap: farm %s references unknown policy %s", fb.Name, polName)
			}
			if err := r.FarmBindPolicy(farm.ID, pol.ID); err != nil {
				return err
			}
		}

		for _, bb := range fb.Backends {
			if _, err := r.SetCurrentBackend(bb.Name); err != nil {
				return err
			}
			if err := r.SetAttribute(registry.ObjBackend, registry.KeyIPAddr, bb.IPAddr); err != nil {
				return err
			}
			if bb.Port != 0 {
				if err := r.SetAttribute(registry.ObjBackend, registry.KeyPort, bb.Port); err != nil {
					return err
				}
			}
			if err := setIfNonZero(r, registry.ObjBackend, registry.KeySrcAddr, bb.SrcAddr); err != nil {
				return err
			}
			if err := setIfNonZero(r, registry.ObjBackend, registry.KeyEthAddr, bb.EthAddr); err != nil {
				return err
			}
			if bb.Weight != 0 {
				if err := r.SetAttribute(registry.ObjBackend, registry.KeyWeight, bb.Weight); err != nil {
					return err
				}
			}
			if bb.Priority != 0 {
				if err := r.SetAttribute(registry.ObjBackend, registry.KeyPriority, bb.Priority); err != nil {
					return err
				}
			}
			if bb.EstConnLimit != 0 {
				if err := r.SetAttribute(registry.ObjBackend, registry.KeyEstConnLimit, bb.EstConnLimit); err != nil {
					return err
				}
			}
			if bb.State != "" {
				if err := r.SetAttribute(registry.ObjBackend, registry.KeyState, bb.State); err != nil {
					return err
				}
			}
		}

		for _, sb := range fb.Sessions {
			var bid *registry.BackendID
			if sb.Backend != "" {
				b, ok := r.CurrentFarmBackendByName(farm.ID, sb.Backend)
				if !ok {
					return errors.Errorf(errors.KindParse, "bootstrap: farm %s session references unknown backend %s", fb.Name, sb.Backend)
				}
				id := b.ID
				bid = &id
			}
			if _, err := r.AddStaticSession(farm.ID, sb.Client, bid); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateFile rejects malformed names, addresses and ports before a
// single object is created, so a bad block never leaves the registry
// half-applied.
func validateFile(f *File) error {
	for _, ab := range f.Addresses {
		if err := validation.ValidateIdentifier(ab.Name); err != nil {
			return errors.Wrapf(err, errors.KindParse, "bootstrap: address block")
		}
		if err := validation.ValidateIPOrCIDR(ab.IPAddr); err != nil {
			return errors.Wrapf(err, errors.KindParse, "bootstrap: address %s", ab.Name)
		}
		if ab.Port != 0 {
			if err := validation.ValidatePortNumber(ab.Port); err != nil {
				return errors.Wrapf(err, errors.KindParse, "bootstrap: address %s", ab.Name)
			}
		}
		if ab.Protocol != "" {
			if err := validation.ValidateProtocol(ab.Protocol); err != nil {
				return errors.Wrapf(err, errors.KindParse, "bootstrap: address %s", ab.Name)
			}
		}
		if ab.Iface != "" {
			if err := validation.ValidateInterfaceName(ab.Iface); err != nil {
				return errors.Wrapf(err, errors.KindParse, "bootstrap: address %s", ab.Name)
			}
		}
	}
	for _, pb := range f.Policies {
		if err := validation.ValidateIdentifier(pb.Name); err != nil {
			return errors.Wrapf(err, errors.KindParse, "bootstrap: policy block")
		}
		if pb.Type != "" {
			if err := validation.ValidateAllowlist(pb.Type, []string{"whitelist", "blacklist", "ratelimit"}); err != nil {
				return errors.Wrapf(err, errors.KindParse, "bootstrap: policy %s type", pb.Name)
			}
		}
	}
	for _, fb := range f.Farms {
		if err := validation.ValidateIdentifier(fb.Name); err != nil {
			return errors.Wrapf(err, errors.KindParse, "bootstrap: farm block")
		}
		if fb.Mode != "" {
			if err := validation.ValidateAllowlist(fb.Mode, []string{"dnat", "snat", "dsr", "stateless_dnat", "local"}); err != nil {
				return errors.Wrapf(err, errors.KindParse, "bootstrap: farm %s mode", fb.Name)
			}
		}
		if fb.Scheduler != "" {
			if err := validation.ValidateAllowlist(fb.Scheduler, []string{"rr", "weight", "hash", "symhash"}); err != nil {
				return errors.Wrapf(err, errors.KindParse, "bootstrap: farm %s scheduler", fb.Name)
			}
		}
		for _, bb := range fb.Backends {
			if err := validation.ValidateIdentifier(bb.Name); err != nil {
				return errors.Wrapf(err, errors.KindParse, "bootstrap: farm %s backend block", fb.Name)
			}
			if err := validation.ValidateIPOrCIDR(bb.IPAddr); err != nil {
				return errors.Wrapf(err, errors.KindParse, "bootstrap: farm %s backend %s", fb.Name, bb.Name)
			}
			if bb.Port != 0 {
				if err := validation.ValidatePortNumber(bb.Port); err != nil {
					return errors.Wrapf(err, errors.KindParse, "bootstrap: farm %s backend %s", fb.Name, bb.Name)
				}
			}
		}
	}
	return nil
}

func setIfNonZero(r *registry.Registry, kind registry.ObjectKind, key registry.Key, v string) error {
	if v == "" {
		return nil
	}
	return r.SetAttribute(kind, key, v)
}

func protocolFromString(s string) registry.Protocol {
	switch s {
	case "udp":
		return registry.ProtoUDP
	case "sctp":
		return registry.ProtoSCTP
	case "all":
		return registry.ProtoAll
	default:
		return registry.ProtoTCP
	}
}

func familyFromString(s string) registry.Family {
	if s == "ipv6" {
		return registry.FamilyIPv6
	}
	return registry.FamilyIPv4
}

func farmModeFromString(s string) registry.FarmMode {
	switch s {
	case "snat":
		return registry.ModeSNAT
	case "dsr":
		return registry.ModeDSR
	case "stateless_dnat":
		return registry.ModeStatelessDNAT
	case "local":
		return registry.ModeLocal
	default:
		return registry.ModeDNAT
	}
}

func schedulerFromString(s string) registry.Scheduler {
	switch s {
	case "weight":
		return registry.SchedWeight
	case "hash":
		return registry.SchedHash
	case "symhash":
		return registry.SchedSymHash
	default:
		return registry.SchedRR
	}
}

func policyTypeFromString(s string) registry.PolicyType {
	switch s {
	case "whitelist":
		return registry.PolicyWhitelist
	case "ratelimit":
		return registry.PolicyRateLimit
	default:
		return registry.PolicyBlacklist
	}
}

func policyRouteFromString(s string) registry.PolicyRoute {
	if s == "out" {
		return registry.RouteOut
	}
	return registry.RouteIn
}

// Render renders the registry's current farms/addresses/policies back
// into HCL source for Load (round-trip property P7). It writes address
// name/ipaddr/port, policy name/elements, and farm name/mode with each
// backend's name/ipaddr/port/weight/priority. Other attributes (address
// protocol/family/iface, policy type/route/family/timeout, farm
// scheduler/persistence/helper/srcaddr, backend srcaddr/ethaddr/
// estconnlimit/state), address and policy bindings, and sessions are not
// written, so Load(Render(r)) reproduces only the listed fields.
func Render(r *registry.Registry) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	for _, a := range allAddresses(r) {
		blk := body.AppendNewBlock("address", []string{a.Name})
		ab := blk.Body()
		ab.SetAttributeValue("ipaddr", cty.StringVal(a.IPAddr))
		if a.Port != 0 {
			ab.SetAttributeValue("port", cty.NumberIntVal(int64(a.Port)))
		}
	}

	for _, p := range allPolicies(r) {
		blk := body.AppendNewBlock("policy", []string{p.Name})
		pb := blk.Body()
		if len(p.Elements) > 0 {
			vals := make([]cty.Value, len(p.Elements))
			for i, el := range p.Elements {
				vals[i] = cty.StringVal(el.Data)
			}
			pb.SetAttributeValue("elements", cty.ListVal(vals))
		}
	}

	for _, farm := range allFarms(r) {
		blk := body.AppendNewBlock("farm", []string{farm.Name})
		fb := blk.Body()
		fb.SetAttributeValue("mode", cty.StringVal(farmModeToString(farm.Mode)))
		for _, bid := range farm.Backends {
			b, ok := r.Backend(bid)
			if !ok {
				continue
			}
			bblk := fb.AppendNewBlock("backend", []string{b.Name})
			bb := bblk.Body()
			bb.SetAttributeValue("ipaddr", cty.StringVal(b.IPAddr))
			if b.Port != 0 {
				bb.SetAttributeValue("port", cty.NumberIntVal(int64(b.Port)))
			}
			bb.SetAttributeValue("weight", cty.NumberIntVal(int64(b.Weight)))
			bb.SetAttributeValue("priority", cty.NumberIntVal(int64(b.Priority)))
		}
	}

	return f.Bytes()
}

func farmModeToString(m registry.FarmMode) string {
	switch m {
	case registry.ModeSNAT:
		return "snat"
	case registry.ModeDSR:
		return "dsr"
	case registry.ModeStatelessDNAT:
		return "stateless_dnat"
	case registry.ModeLocal:
		return "local"
	default:
		return "dnat"
	}
}

func allFarms(r *registry.Registry) []*registry.Farm {
	var out []*registry.Farm
	for i := 0; ; i++ {
		f, ok := r.FarmAt(i)
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

func allAddresses(r *registry.Registry) []*registry.Address {
	var out []*registry.Address
	for i := 0; ; i++ {
		a, ok := r.AddressAt(i)
		if !ok {
			break
		}
		out = append(out, a)
	}
	return out
}

func allPolicies(r *registry.Registry) []*registry.Policy {
	var out []*registry.Policy
	for i := 0; ; i++ {
		p, ok := r.PolicyAt(i)
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}
