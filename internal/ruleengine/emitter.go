// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ruleengine is the external rule emitter collaborator (spec
// §6): it translates one registry.RuleDescriptor at a time into
// nftables table/chain/rule/set mutations and applies them in a single
// atomic transaction, the way the teacher's firewall manager commits
// one script per ApplyConfig call rather than rule-by-rule.
package ruleengine

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"github.com/ti-mo/conntrack"

	"nlbd/internal/errors"
	"nlbd/internal/logging"
	"nlbd/internal/registry"
)

const (
	tableName   = "nlbd"
	chainPrefix = "nlbd_"
)

// Conn is the subset of *nftables.Conn the emitter drives, narrowed so
// tests can inject a fake without linking netlink.
type Conn interface {
	AddTable(t *nftables.Table) *nftables.Table
	AddChain(c *nftables.Chain) *nftables.Chain
	AddRule(r *nftables.Rule) *nftables.Rule
	AddSet(s *nftables.Set, vals []nftables.SetElement) error
	SetAddElements(s *nftables.Set, vals []nftables.SetElement) error
	GetSetElements(s *nftables.Set) ([]nftables.SetElement, error)
	DelSet(s *nftables.Set)
	Flush() error
}

// Emitter implements registry.Emitter against one nftables netns.
type Emitter struct {
	mu     sync.Mutex
	conn   Conn
	logger *logging.Logger

	table  *nftables.Table
	chains map[string]*nftables.Chain
	sets   map[string]*nftables.Set

	// ct holds the conntrack connection dialed by New, if any. Nothing
	// in this package reads from it.
	ct *conntrack.Conn
}

// New builds an Emitter against a live netlink/nftables connection.
func New(logger *logging.Logger) (*Emitter, error) {
	c, err := nftables.New()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindResource, "ruleengine: nftables connection failed")
	}
	ct, err := conntrack.Dial(nil)
	if err != nil {
		// The conntrack connection is not used for rulerizing; keep
		// going without it.
		ct = nil
	}
	return NewWithConn(c, ct, logger), nil
}

// NewWithConn builds an Emitter against caller-supplied connections,
// the injection point tests use to swap in a fake.
func NewWithConn(conn Conn, ct *conntrack.Conn, logger *logging.Logger) *Emitter {
	e := &Emitter{
		conn:   conn,
		logger: logger,
		chains: make(map[string]*nftables.Chain),
		sets:   make(map[string]*nftables.Set),
		ct:     ct,
	}
	e.table = conn.AddTable(&nftables.Table{Name: tableName, Family: nftables.TableFamilyINet})
	return e
}

// Rulerize applies one dirty object's nftables representation and
// commits it in its own transaction, matching the per-object emit
// contract of registry.Emitter (spec §4.10, §6).
func (e *Emitter) Rulerize(desc registry.RuleDescriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch desc.Kind {
	case registry.ObjPolicy:
		return e.rulerizePolicy(desc)
	case registry.ObjAddress:
		return e.rulerizeAddress(desc)
	case registry.ObjFarmAddress:
		return e.rulerizeFarmAddress(desc)
	case registry.ObjFarm:
		return e.rulerizeFarm(desc)
	case registry.ObjBackend:
		return e.rulerizeBackend(desc)
	default:
		return errors.Errorf(errors.KindEmit, "ruleengine: unknown object kind %v", desc.Kind)
	}
}

func (e *Emitter) chainFor(name string) *nftables.Chain {
	if c, ok := e.chains[name]; ok {
		return c
	}
	c := e.conn.AddChain(&nftables.Chain{
		Name:  chainPrefix + name,
		Table: e.table,
		Type:  nftables.ChainTypeNAT,
	})
	e.chains[name] = c
	return c
}

// rulerizeBackend emits (or withdraws) the DNAT/mark rule that steers
// packets tagged with the farm's mark to this backend's ip:port, per
// the effective mark pre-computed by the registry (spec §4.2).
func (e *Emitter) rulerizeBackend(desc registry.RuleDescriptor) error {
	b := desc.Backend
	f := desc.Farm
	chain := e.chainFor(f.Name)

	ip := net.ParseIP(b.IPAddr).To4()
	if ip == nil {
		return errors.Errorf(errors.KindEmit, "ruleengine: backend %s has no valid IPv4 address", b.Name)
	}

	rule := &nftables.Rule{
		Table: e.table,
		Chain: chain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyMARK, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.NativeEndian.PutUint32(uint32(desc.EffectiveMark))},
			&expr.Immediate{Register: 1, Data: ip},
			&expr.NAT{
				Type:       expr.NATTypeDestNAT,
				Family:     uint32(nftables.TableFamilyIPv4),
				RegAddrMin: 1,
			},
		},
	}

	e.conn.AddRule(rule)

	if err := e.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindEmit, "ruleengine: commit failed for backend %s", b.Name)
	}
	return nil
}

func (e *Emitter) rulerizeFarm(desc registry.RuleDescriptor) error {
	f := desc.Farm
	e.chainFor(f.Name)
	if err := e.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindEmit, "ruleengine: commit failed for farm %s", f.Name)
	}
	return nil
}

func (e *Emitter) rulerizeFarmAddress(desc registry.RuleDescriptor) error {
	f := desc.Farm
	a := desc.Address
	chain := e.chainFor(f.Name)

	ip := net.ParseIP(a.IPAddr).To4()
	if ip == nil {
		return errors.Errorf(errors.KindEmit, "ruleengine: address %s has no valid IPv4 address", a.Name)
	}

	rule := &nftables.Rule{
		Table: e.table,
		Chain: chain,
		Exprs: []expr.Any{
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 16, Len: 4},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ip},
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(uint16(a.Port))},
		},
	}
	e.conn.AddRule(rule)
	if err := e.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindEmit, "ruleengine: commit failed for farm-address binding on farm %s", f.Name)
	}
	return nil
}

func (e *Emitter) rulerizeAddress(desc registry.RuleDescriptor) error {
	// Stray (unbound) addresses carry no live rules of their own; only
	// their existence needs acknowledging.
	return nil
}

// rulerizePolicy materializes a Policy as an nftables named set keyed
// by IPv4 or IPv6 address (per Policy.Family), adding one element per
// Policy.Elements entry that parses as an IP; other entries are skipped
// (spec §4.9).
func (e *Emitter) rulerizePolicy(desc registry.RuleDescriptor) error {
	p := desc.Policy
	keyType := nftables.TypeIPAddr
	if p.Family == registry.FamilyIPv6 {
		keyType = nftables.TypeIP6Addr
	}

	s, ok := e.sets[p.Name]
	if !ok {
		s = &nftables.Set{
			Table:   e.table,
			Name:    "policy_" + p.Name,
			KeyType: keyType,
		}
		if p.Timeout > 0 {
			s.HasTimeout = true
		}
		if err := e.conn.AddSet(s, nil); err != nil {
			return errors.Wrapf(err, errors.KindEmit, "ruleengine: set create failed for policy %s", p.Name)
		}
		e.sets[p.Name] = s
	}

	var elems []nftables.SetElement
	for _, el := range p.Elements {
		ip := net.ParseIP(el.Data)
		if ip == nil {
			continue
		}
		elems = append(elems, nftables.SetElement{Key: []byte(ip.To4())})
	}
	if len(elems) > 0 {
		if err := e.conn.SetAddElements(s, elems); err != nil {
			return errors.Wrapf(err, errors.KindEmit, "ruleengine: set populate failed for policy %s", p.Name)
		}
	}

	if err := e.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindEmit, "ruleengine: commit failed for policy %s", p.Name)
	}
	return nil
}

// GetSessionsBuffer renders the elements of the set registered under
// "<farm name>_sessions" into the "elements = { ... }" textual form the
// core's pure parser expects (spec §4.8, §9). It returns "" when no set
// is registered under that name; this Emitter registers sets only in
// rulerizePolicy, under policy names.
func (e *Emitter) GetSessionsBuffer(f *registry.Farm) (string, error) {
	s, ok := e.sets[f.Name+"_sessions"]
	if !ok {
		return "", nil
	}
	elems, err := e.conn.GetSetElements(s)
	if err != nil {
		return "", errors.Wrapf(err, errors.KindEmit, "ruleengine: session buffer read failed for farm %s", f.Name)
	}

	buf := "elements = { "
	for i, el := range elems {
		if i > 0 {
			buf += ", "
		}
		buf += fmt.Sprintf("%s expires %ds : %s", net.IP(el.Key).String(), int(el.Timeout.Seconds()), net.IP(el.Val).String())
	}
	buf += " }"
	return buf, nil
}
