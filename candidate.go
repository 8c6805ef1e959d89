package ice

import "fmt"

// CandidateType is the kind of a Candidate, as defined in RFC 5245 §21.1.1.
type CandidateType byte

// Candidate kinds. Their numeric order is not the type-preference order;
// see typePreferences.
const (
	Host CandidateType = iota
	ServerReflexive
	PeerReflexive
	Relayed
)

func (t CandidateType) String() string {
	switch t {
	case Host:
		return "host"
	case ServerReflexive:
		return "srflx"
	case PeerReflexive:
		return "prflx"
	case Relayed:
		return "relay"
	default:
		return "unknown"
	}
}

// typePreferences are the RECOMMENDED values from RFC 5245 §4.1.2.1,
// reproduced from the vendored gortc/ice typePreferences table.
var typePreferences = map[CandidateType]uint32{
	Host:            126,
	PeerReflexive:   110,
	ServerReflexive: 100,
	Relayed:         0,
}

// TypePreference returns the RECOMMENDED type preference for t.
func TypePreference(t CandidateType) uint32 { return typePreferences[t] }

// defaultLocalPreference is used when an agent has a single IP address or
// does not otherwise distinguish local preference between candidates of
// the same type, per RFC 5245 §4.1.2.1.
const defaultLocalPreference = 65535

// ComputePriority implements the RFC 5245 §4.1.2.1 priority formula:
//
//	priority = (2^24)*(type preference) + (2^8)*(local preference) + (2^0)*(256 - component ID)
func ComputePriority(typePref, localPref uint32, component ComponentID) uint32 {
	return (typePref << 24) | (localPref << 8) | uint32(256-int(component))
}

// Candidate is a transport address that is a potential point of contact for
// receipt of data (RFC 5245 §2.1).
type Candidate struct {
	Kind       CandidateType
	Component  ComponentID
	Addr       TransportAddress
	Priority   uint32
	Foundation string
	// Base is the candidate this one was derived from. Host and Relayed
	// candidates are their own base; ServerReflexive's base is the Host it
	// was derived from; PeerReflexive's base is the local candidate it was
	// observed from.
	Base      *Candidate
	IsDefault bool
}

// Equal reports whether c and b are the same candidate. Base is compared by
// address, not recursively, since a candidate and its base may legitimately
// share every other field (a Host candidate is its own base).
func (c *Candidate) Equal(b *Candidate) bool {
	if c == nil || b == nil {
		return c == b
	}
	if c.Kind != b.Kind || c.Component != b.Component || !c.Addr.Equal(b.Addr) {
		return false
	}
	return baseAddr(c).Equal(baseAddr(b))
}

func baseAddr(c *Candidate) TransportAddress {
	if c.Base == nil {
		return c.Addr
	}
	return c.Base.Addr
}

func (c *Candidate) String() string {
	if c == nil {
		return "<nil candidate>"
	}
	return fmt.Sprintf("%s/%s:%d(%s,prio=%d,found=%s)",
		c.Kind, c.Addr.IP, c.Addr.Port, c.Component, c.Priority, c.Foundation)
}

// NewHostCandidate builds a Host candidate, its own base, with priority
// computed per ComputePriority and localPref defaulted to 65535.
func NewHostCandidate(addr TransportAddress, component ComponentID, localPref uint32) *Candidate {
	if localPref == 0 {
		localPref = defaultLocalPreference
	}
	c := &Candidate{
		Kind:      Host,
		Component: component,
		Addr:      addr,
		Priority:  ComputePriority(TypePreference(Host), localPref, component),
	}
	c.Base = c
	return c
}

// NewServerReflexiveCandidate builds a ServerReflexive candidate whose base
// is the Host candidate it was derived from (per spec §3).
func NewServerReflexiveCandidate(addr TransportAddress, base *Candidate, localPref uint32) *Candidate {
	if localPref == 0 {
		localPref = defaultLocalPreference
	}
	return &Candidate{
		Kind:      ServerReflexive,
		Component: base.Component,
		Addr:      addr,
		Priority:  ComputePriority(TypePreference(ServerReflexive), localPref, base.Component),
		Base:      base,
	}
}

// NewPeerReflexiveCandidate builds a PeerReflexive candidate. base is the
// local candidate it was observed from (for a local peer-reflexive
// candidate) or nil (for a remote one, whose base is unknown).
func NewPeerReflexiveCandidate(addr TransportAddress, component ComponentID, base *Candidate, priority uint32) *Candidate {
	c := &Candidate{
		Kind:      PeerReflexive,
		Component: component,
		Addr:      addr,
		Priority:  priority,
		Base:      base,
	}
	if c.Base == nil {
		c.Base = c
	}
	return c
}

// NewRelayedCandidate builds a Relayed candidate, its own base.
func NewRelayedCandidate(addr TransportAddress, component ComponentID, localPref uint32) *Candidate {
	if localPref == 0 {
		localPref = defaultLocalPreference
	}
	c := &Candidate{
		Kind:      Relayed,
		Component: component,
		Addr:      addr,
		Priority:  ComputePriority(TypePreference(Relayed), localPref, component),
	}
	c.Base = c
	return c
}

// AssignLocalFoundation implements the stable local-foundation rule from
// spec §4.1: scan existing, and if one shares kind and has a non-empty base
// IP equal to c's base IP, copy its foundation; otherwise mint a fresh one
// from gen and advance it.
func AssignLocalFoundation(existing []*Candidate, c *Candidate, gen *int) {
	baseIP := baseAddr(c).IP
	if baseIP != "" {
		for _, o := range existing {
			if o.Kind != c.Kind {
				continue
			}
			oBaseIP := baseAddr(o).IP
			if oBaseIP == "" || oBaseIP != baseIP {
				continue
			}
			c.Foundation = o.Foundation
			return
		}
	}
	c.Foundation = itoa(*gen)
	*gen++
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
