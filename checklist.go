package ice

import (
	"sort"
	"time"
)

// ChecklistState is a check list's overall position in the RFC 5245 §6.7
// conclusion process.
type ChecklistState byte

// Check-list states.
const (
	Running ChecklistState = iota
	Completed
	ChecklistFailed
)

var checklistStateNames = map[ChecklistState]string{
	Running:         "Running",
	Completed:       "Completed",
	ChecklistFailed: "Failed",
}

func (s ChecklistState) String() string { return checklistStateNames[s] }

// SuccessCallback is invoked exactly once, the instant a check list first
// reaches Completed (spec §6, "Success callback").
type SuccessCallback func(streamIndex int, cl *CheckList)

// CheckList is the per-media-stream container of candidates, pairs, the
// triggered-check queue, the valid list, and check-list-scoped state
// (spec §3 "CheckList").
type CheckList struct {
	StreamIndex int

	Local  []*Candidate
	Remote []*Candidate
	Pairs  Pairs

	triggered []*Pair
	Valid     ValidPairs

	components        []ComponentID
	foundationCounter int

	RemoteUfrag string
	RemotePwd   string

	State ChecklistState

	LastTaTime      time.Time
	LastKeepAliveAt time.Time

	OnSuccess SuccessCallback

	destroyed bool
}

// NewCheckList creates an empty, Running check list for the given stream
// index.
func NewCheckList(streamIndex int) *CheckList {
	return &CheckList{
		StreamIndex: streamIndex,
		State:       Running,
	}
}

// AddLocalCandidate assigns c's foundation (per spec §4.1's stable-
// foundation rule, using the check list's own monotone generator) and
// appends it to the local candidate set, registering its component ID if
// new.
func (cl *CheckList) AddLocalCandidate(c *Candidate) error {
	if cl.destroyed {
		return ErrChecklistDestroyed
	}
	if !c.Component.HasSocket() {
		return ErrUnsupportedComponent
	}
	AssignLocalFoundation(cl.Local, c, &cl.foundationCounter)
	cl.Local = append(cl.Local, c)
	cl.registerComponent(c.Component)
	return nil
}

// AddRemoteCandidate appends c to the check list's remote candidate set,
// unless a remote candidate with an equal transport address and component
// already exists, in which case it is a no-op: nothing is appended or
// registered and the existing candidate's priority is left unchanged
// (spec §8 round-trip property: "Adding a remote candidate whose transport
// address equals an existing one is a no-op beyond priority-update").
func (cl *CheckList) AddRemoteCandidate(c *Candidate) {
	for _, r := range cl.Remote {
		if r.Component == c.Component && r.Addr.Equal(c.Addr) {
			return
		}
	}
	cl.Remote = append(cl.Remote, c)
	cl.registerComponent(c.Component)
}

func (cl *CheckList) registerComponent(id ComponentID) {
	for _, existing := range cl.components {
		if existing == id {
			return
		}
	}
	cl.components = append(cl.components, id)
}

// Components returns the set of component IDs registered on this check
// list, in the order first seen.
func (cl *CheckList) Components() []ComponentID { return cl.components }

// SetRemoteCredentials sets the per-stream remote ufrag/pwd override (spec
// §3 CheckList "remote ufrag/pwd (optional per-stream override)").
func (cl *CheckList) SetRemoteCredentials(ufrag, pwd string) {
	cl.RemoteUfrag, cl.RemotePwd = ufrag, pwd
}

// FormPairs builds the cartesian product of local x remote candidates
// (spec §4.3 "Pair formation"), replacing any previous pair set.
func (cl *CheckList) FormPairs() {
	cl.Pairs = NewCandidatePairs(cl.Local, cl.Remote)
}

// ChooseDefaultCandidates implements spec §4.1.4's default-candidate
// selection (spec §9 design note: "iterate the registered componentID set
// instead" of 1..256): for each componentID this check list has registered,
// and for local and remote candidates independently, the default is the
// first candidate found preferring Relayed, then ServerReflexive, then Host.
// Must run before FormPairs so Pair.IsDefault (spec §3 invariant "is_default
// on a pair is true iff both endpoints are default for their side") is set
// correctly at pair-creation time.
func (cl *CheckList) ChooseDefaultCandidates() {
	chooseDefault(cl.Local, cl.components)
	chooseDefault(cl.Remote, cl.components)
}

func chooseDefault(candidates []*Candidate, components []ComponentID) {
	for _, component := range components {
		for _, preferred := range []CandidateType{Relayed, ServerReflexive, Host} {
			if c := firstOfKind(candidates, component, preferred); c != nil {
				c.IsDefault = true
				break
			}
		}
	}
}

func firstOfKind(candidates []*Candidate, component ComponentID, kind CandidateType) *Candidate {
	for _, c := range candidates {
		if c.Component == component && c.Kind == kind {
			return c
		}
	}
	return nil
}

// DefaultLocalCandidate returns the check list's componentID-1 default local
// candidate (spec §6 "Queries exposed to the host": "default local candidate
// (the one with componentID 1 and is_default=true)"), or nil if none has
// been chosen yet (ChooseDefaultCandidates not called, or no componentID-1
// local candidate exists).
func (cl *CheckList) DefaultLocalCandidate() *Candidate {
	return firstOfKindDefault(cl.Local, ComponentRTP)
}

func firstOfKindDefault(candidates []*Candidate, component ComponentID) *Candidate {
	for _, c := range candidates {
		if c.Component == component && c.IsDefault {
			return c
		}
	}
	return nil
}

// Prune implements spec §4.3's ordered pruning algorithm:
//
//  1. replace each pair's local candidate with its base if the local is
//     ServerReflexive;
//  2. for duplicate pairs (identical local and remote after replacement),
//     keep the higher-priority one;
//  3. insert survivors ordered by descending pair priority;
//  4. if the result exceeds maxPairs, drop the lowest-priority excess.
func (cl *CheckList) Prune(role Role, maxPairs int) {
	for _, p := range cl.Pairs {
		if p.Local.Kind == ServerReflexive && p.Local.Base != nil {
			p.Local = p.Local.Base
		}
	}
	cl.Pairs.ComputePriorities(role)

	sort.Sort(cl.Pairs)
	deduped := make(Pairs, 0, len(cl.Pairs))
Loop:
	for _, p := range cl.Pairs {
		for _, kept := range deduped {
			if kept.Local.Equal(p.Local) && kept.Remote.Equal(p.Remote) {
				// kept has equal or higher priority: Pairs is sorted
				// descending, so the first occurrence wins.
				continue Loop
			}
		}
		deduped = append(deduped, p)
	}
	cl.Pairs = deduped

	if maxPairs > 0 && len(cl.Pairs) > maxPairs {
		cl.Pairs = cl.Pairs[:maxPairs]
	}
}

// AssignInitialStates implements spec §4.3 "Initial state assignment",
// applied only to the first check list formed for a session: every pair
// starts Frozen; then for each distinct foundation, the representative pair
// (lowest componentID; among ties, highest priority — per spec §9's
// correction of the AND-combined source bug) is set to Waiting.
func (cl *CheckList) AssignInitialStates() {
	for _, p := range cl.Pairs {
		p.State = Frozen
	}
	best := make(map[PairFoundation]*Pair)
	for _, p := range cl.Pairs {
		f := p.Foundation()
		cur, ok := best[f]
		if !ok {
			best[f] = p
			continue
		}
		if p.ComponentID() < cur.ComponentID() ||
			(p.ComponentID() == cur.ComponentID() && p.Priority > cur.Priority) {
			best[f] = p
		}
	}
	for _, p := range best {
		p.State = Waiting
	}
}

// QueueTriggeredCheck appends p to the triggered-check FIFO queue unless it
// is already queued.
func (cl *CheckList) QueueTriggeredCheck(p *Pair) {
	for _, q := range cl.triggered {
		if q == p {
			return
		}
	}
	cl.triggered = append(cl.triggered, p)
}

// PopTriggeredCheck removes and returns the oldest queued triggered check,
// or nil if the queue is empty.
func (cl *CheckList) PopTriggeredCheck() *Pair {
	if len(cl.triggered) == 0 {
		return nil
	}
	p := cl.triggered[0]
	cl.triggered = cl.triggered[1:]
	return p
}

// removeFromTriggered drops p from the triggered queue if present.
func (cl *CheckList) removeFromTriggered(p *Pair) {
	out := cl.triggered[:0]
	for _, q := range cl.triggered {
		if q != p {
			out = append(out, q)
		}
	}
	cl.triggered = out
}

// FindPairByCandidates returns the pair matching (local, remote) by
// address equality, or nil.
func (cl *CheckList) FindPairByCandidates(local, remote *Candidate) *Pair {
	for _, p := range cl.Pairs {
		if p.Local.Equal(local) && p.Remote.Equal(remote) {
			return p
		}
	}
	return nil
}

// FindPairByTransaction returns the pair whose in-flight transaction ID
// equals id, or nil.
func (cl *CheckList) FindPairByTransaction(id TransactionID) *Pair {
	if id.IsZero() {
		return nil
	}
	for _, p := range cl.Pairs {
		if p.Transaction == id {
			return p
		}
	}
	return nil
}

// FindNominatedValidPair returns the nominated valid pair for component, or
// nil if none exists yet.
func (cl *CheckList) FindNominatedValidPair(component ComponentID) *ValidPair {
	return cl.Valid.nominatedByComponent(component)
}

// InsertPair priority-inserts p into the check list's ordered pair slice,
// used when a peer-reflexive candidate pairing is discovered mid-check
// (spec §8 boundary property: "priority-inserted and may be chosen
// immediately by the next scheduler tick").
func (cl *CheckList) InsertPair(p *Pair) {
	idx := len(cl.Pairs)
	for i, existing := range cl.Pairs {
		if p.Priority > existing.Priority {
			idx = i
			break
		}
	}
	cl.Pairs = append(cl.Pairs, nil)
	copy(cl.Pairs[idx+1:], cl.Pairs[idx:])
	cl.Pairs[idx] = p
}

// InsertValidPair inserts vp into the valid list, priority-ordered, unless
// an equal (valid, generated_from) entry already exists.
func (cl *CheckList) InsertValidPair(vp *ValidPair) {
	cl.Valid = cl.Valid.insert(vp)
}

// Destroy frees the check list's owned lists. Go's garbage collector
// reclaims the underlying memory; Destroy exists to make the ordering in
// spec §5 explicit and to make the check list unusable afterward.
func (cl *CheckList) Destroy() {
	cl.Valid = nil
	cl.Pairs = nil
	cl.Remote = nil
	cl.Local = nil
	cl.triggered = nil
	cl.components = nil
	cl.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (cl *CheckList) Destroyed() bool { return cl.destroyed }
