package ice

import (
	"fmt"
	"time"
)

// PairState is a candidate pair's position in the RFC 5245 §5.7.4 state
// machine.
type PairState byte

// Pair states, in the order spec.md lists them.
const (
	Waiting PairState = iota
	InProgress
	Succeeded
	Failed
	Frozen
)

var pairStateNames = map[PairState]string{
	Waiting:    "Waiting",
	InProgress: "InProgress",
	Succeeded:  "Succeeded",
	Failed:     "Failed",
	Frozen:     "Frozen",
}

func (s PairState) String() string { return pairStateNames[s] }

// maxRetransmissions is the retransmission count past which a pair's
// in-flight transaction is abandoned and the pair moves to Failed
// (spec.md §8, scenario 4: 7 retransmissions, RTO 100ms doubling each time).
const maxRetransmissions = 7

// initialRTO is the first retransmission timeout for a pair's STUN
// transaction, in milliseconds.
const initialRTO = 100 * time.Millisecond

// TransactionID is a STUN 96-bit transaction identifier.
type TransactionID [12]byte

// IsZero reports whether t is the all-zero transaction ID, the sentinel for
// "no transaction in flight."
func (t TransactionID) IsZero() bool { return t == TransactionID{} }

// PairFoundation is the (local, remote) foundation pair that couples pair
// states across the check list per RFC 5245 §5.7.4 / §7.1.3.2.3.
type PairFoundation struct {
	Local  string
	Remote string
}

// Pair is a candidate pair: one local candidate and one remote candidate,
// together with its connectivity-check state.
type Pair struct {
	Local  *Candidate
	Remote *Candidate

	State    PairState
	Priority uint64

	IsDefault    bool
	IsNominated  bool
	Role         Role
	Transaction  TransactionID
	RTO          time.Duration
	Retransmits  int
	LastSentAt   time.Time
	// WaitTransactionTimeout marks a pair whose in-flight transaction
	// should be abandoned in favor of a re-triggered check on the next
	// scheduler tick that would otherwise retransmit it.
	WaitTransactionTimeout bool
}

// Foundation returns the pair's PairFoundation, used to couple state
// transitions across pairs sharing the same local/remote equivalence class.
func (p *Pair) Foundation() PairFoundation {
	return PairFoundation{Local: p.Local.Foundation, Remote: p.Remote.Foundation}
}

func (p *Pair) String() string {
	if p == nil {
		return "<nil pair>"
	}
	return fmt.Sprintf("pair(%s<->%s,state=%s,prio=%d,nom=%v)",
		p.Local.Addr, p.Remote.Addr, p.State, p.Priority, p.IsNominated)
}

// ComponentID returns the shared component ID of the pair's two candidates.
// Callers must have already verified Local.Component == Remote.Component;
// NewCandidatePairs only ever forms matched pairs.
func (p *Pair) ComponentID() ComponentID { return p.Local.Component }

// PairPriority implements the RFC 5245 §5.7.2 formula:
//
//	priority = 2^32 * min(G,D) + 2*max(G,D) + (G>D ? 1 : 0)
//
// where G is the controlling agent's candidate priority and D is the
// controlled agent's.
func PairPriority(controllingPriority, controlledPriority uint32) uint64 {
	g, d := uint64(controllingPriority), uint64(controlledPriority)
	lo, hi := g, d
	if d < g {
		lo, hi = d, g
	}
	v := (uint64(1) << 32) * lo
	v += 2 * hi
	if g > d {
		v++
	}
	return v
}

// computePriority sets p.Priority from the two candidates' priorities
// according to the session's current role.
func (p *Pair) computePriority(role Role) {
	var controlling, controlled uint32
	if role == Controlling {
		controlling, controlled = p.Local.Priority, p.Remote.Priority
	} else {
		controlling, controlled = p.Remote.Priority, p.Local.Priority
	}
	p.Priority = PairPriority(controlling, controlled)
}

// Pairs is a priority-ordered (descending) slice of pairs, sortable via
// sort.Sort.
type Pairs []*Pair

func (p Pairs) Len() int           { return len(p) }
func (p Pairs) Less(i, j int) bool { return p[i].Priority > p[j].Priority }
func (p Pairs) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

// NewCandidatePairs forms the cartesian product of local x remote candidates
// restricted to equal componentID (spec §4.3 "Pair formation"). Priorities
// are left at zero; call computePriority (or ComputePriorities) afterward.
func NewCandidatePairs(local, remote []*Candidate) Pairs {
	pairs := make(Pairs, 0, len(local)*len(remote))
	for _, l := range local {
		for _, r := range remote {
			if l.Component != r.Component {
				continue
			}
			pairs = append(pairs, &Pair{
				Local: l, Remote: r, State: Frozen,
				// spec §3 invariant: is_default iff both endpoints are
				// default for their side.
				IsDefault: l.IsDefault && r.IsDefault,
			})
		}
	}
	return pairs
}

// ComputePriorities recomputes every pair's priority for role. Called at
// pair-formation time and whenever the session's role changes (spec §3
// invariant "Role changes recompute every pair priority").
func (p Pairs) ComputePriorities(role Role) {
	for _, pair := range p {
		pair.computePriority(role)
	}
}
