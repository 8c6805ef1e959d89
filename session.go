package ice

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SessionState is the overall session's position, spec §3: "overall state
// ∈ {Stopped, Running, Completed, Failed}".
type SessionState byte

// Session states.
const (
	Stopped SessionState = iota
	SessionRunning
	SessionCompleted
	SessionFailed
)

var sessionStateNames = map[SessionState]string{
	Stopped:          "Stopped",
	SessionRunning:   "Running",
	SessionCompleted: "Completed",
	SessionFailed:    "Failed",
}

func (s SessionState) String() string { return sessionStateNames[s] }

const (
	defaultTa                    = 20 * time.Millisecond
	defaultKeepaliveTimeout      = 15 * time.Second
	minKeepaliveTimeout          = 15 * time.Second
	defaultMaxConnectivityChecks = 100
	localUfragLength             = 8
	localPwdLength                = 24
)

// Options configures a Session at construction time, following the
// nil-safe defaulting convention of internal/server.Options/New: every
// field is optional and a sensible zero-cost default is substituted when
// left unset.
type Options struct {
	Role                Role
	LocalUfrag          string
	LocalPwd            string
	RemoteUfrag         string
	RemotePwd           string
	MaxConnectivityChecks int
	KeepaliveTimeout    time.Duration

	Clock   Clock
	Rand    RandSource
	Codec   StunCodec
	Sockets ComponentSockets

	Log     *zap.Logger
	Metrics *SessionMetrics
}

// Session owns the ordered list of check lists for one ICE negotiation
// (spec §3 "Session").
type Session struct {
	mu sync.RWMutex

	role       Role
	tieBreaker uint64
	localUfrag string
	localPwd   string
	remoteUfrag string
	remotePwd   string

	ta                  time.Duration
	keepaliveTimeout    time.Duration
	maxConnectivityChecks int

	state SessionState

	checklists []*CheckList

	clock   Clock
	rand    RandSource
	codec   StunCodec
	stun    *StunAdapter
	sockets ComponentSockets

	log     *zap.Logger
	metrics *SessionMetrics
}

// NewSession constructs a Session, generating a tie-breaker and, if unset,
// local credentials from the configured RandSource.
func NewSession(o Options) (*Session, error) {
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Rand == nil {
		o.Rand = CryptoRandSource{}
	}
	if o.Codec == nil {
		o.Codec = GortcCodec{}
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.MaxConnectivityChecks == 0 {
		o.MaxConnectivityChecks = defaultMaxConnectivityChecks
	}
	if o.MaxConnectivityChecks < 0 {
		return nil, ErrMaxConnectivityChecks
	}
	if o.KeepaliveTimeout < minKeepaliveTimeout {
		o.KeepaliveTimeout = defaultKeepaliveTimeout
	}
	if o.LocalUfrag == "" {
		o.LocalUfrag = o.Rand.HexString(localUfragLength)
	}
	if o.LocalPwd == "" {
		o.LocalPwd = o.Rand.HexString(localPwdLength)
	}

	s := &Session{
		role:                  o.Role,
		tieBreaker:            o.Rand.Uint64(),
		localUfrag:            o.LocalUfrag,
		localPwd:              o.LocalPwd,
		remoteUfrag:           o.RemoteUfrag,
		remotePwd:             o.RemotePwd,
		ta:                    defaultTa,
		keepaliveTimeout:      o.KeepaliveTimeout,
		maxConnectivityChecks: o.MaxConnectivityChecks,
		state:                 SessionRunning,
		clock:                 o.Clock,
		rand:                  o.Rand,
		codec:                 o.Codec,
		sockets:               o.Sockets,
		log:                   o.Log,
		metrics:               o.Metrics,
	}
	s.stun = NewStunAdapter(s.codec, s.rand)
	return s, nil
}

// AddStream creates and appends a new, empty check list; streamIndex is
// its position in Session.checklists (spec §3: "an ordered list of check
// lists (one per media stream)").
func (s *Session) AddStream() *CheckList {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl := NewCheckList(len(s.checklists))
	cl.OnSuccess = s.onChecklistSuccess
	s.checklists = append(s.checklists, cl)
	return cl
}

// formPairsAndPrune forms cl's pairs, prunes them, assigns priorities for
// the session's current role, and — if cl is the first check list — sets
// the initial Waiting/Frozen assignment per spec §4.3.
func (s *Session) formPairsAndPrune(cl *CheckList) {
	cl.ChooseDefaultCandidates()
	cl.FormPairs()
	cl.Prune(s.role, s.maxConnectivityChecks)
	if cl.StreamIndex == 0 {
		cl.AssignInitialStates()
	}
}

// PreparePairs finalizes a check list's pair set after its candidates have
// been populated. Callers should call this once local/remote candidates
// for a stream are known, before the scheduler drives it.
func (s *Session) PreparePairs(cl *CheckList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formPairsAndPrune(cl)
}

// SetRole sets the session's role, recomputing every pair's priority
// across every check list (spec §3 invariant: "Role changes recompute
// every pair priority").
func (s *Session) SetRole(role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRoleLocked(role)
}

func (s *Session) setRoleLocked(role Role) {
	if s.role == role {
		return
	}
	s.role = role
	for _, cl := range s.checklists {
		cl.Pairs.ComputePriorities(role)
		sort.Sort(cl.Pairs)
	}
	if s.metrics != nil {
		s.metrics.roleFlips.Inc()
	}
}

// SetRemoteCredentials sets the session-level remote ufrag/pwd (used as a
// fallback for any check list without its own per-stream override).
func (s *Session) SetRemoteCredentials(ufrag, pwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteUfrag, s.remotePwd = ufrag, pwd
}

// SetMaxConnectivityChecks updates the cap applied on future Prune calls.
func (s *Session) SetMaxConnectivityChecks(n int) error {
	if n <= 0 {
		return ErrMaxConnectivityChecks
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConnectivityChecks = n
	return nil
}

// SetSockets installs the ComponentSockets the scheduler and engine send
// through. Tests and cmd/ice-agent call this once the peer session (or
// real network connection) is known, since it may not exist yet at
// NewSession time.
func (s *Session) SetSockets(socks ComponentSockets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets = socks
}

// SetKeepaliveTimeout clamps d to at least 15s and applies it.
func (s *Session) SetKeepaliveTimeout(d time.Duration) {
	if d < minKeepaliveTimeout {
		d = minKeepaliveTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepaliveTimeout = d
}

// remoteCredentialsFor resolves a check list's effective remote ufrag/pwd,
// falling through to the session's if the check list has none of its own.
func (s *Session) remoteCredentialsFor(cl *CheckList) (ufrag, pwd string, err error) {
	ufrag, pwd = cl.RemoteUfrag, cl.RemotePwd
	if ufrag == "" {
		ufrag = s.remoteUfrag
	}
	if pwd == "" {
		pwd = s.remotePwd
	}
	if ufrag == "" || pwd == "" {
		return "", "", ErrNoRemoteCredentials
	}
	return ufrag, pwd, nil
}

func (s *Session) onChecklistSuccess(streamIndex int, cl *CheckList) {
	if s.metrics != nil {
		s.metrics.checklistsCompleted.Inc()
	}
	s.log.Info("check list completed", zap.Int("stream", streamIndex))
	s.recomputeSessionState()
}

// recomputeSessionState derives the overall Session state from its check
// lists: Completed iff every check list is Completed; Failed if any check
// list is Failed; otherwise Running. Must be called with s.mu held.
func (s *Session) recomputeSessionState() {
	allCompleted := len(s.checklists) > 0
	anyFailed := false
	for _, cl := range s.checklists {
		switch cl.State {
		case Completed:
		case ChecklistFailed:
			anyFailed = true
			allCompleted = false
		default:
			allCompleted = false
		}
	}
	switch {
	case anyFailed:
		s.state = SessionFailed
	case allCompleted:
		s.state = SessionCompleted
	default:
		s.state = SessionRunning
	}
}

// --- Queries exposed to the host (spec §6) ---

// LocalCredentials returns the session's local ufrag and pwd.
func (s *Session) LocalCredentials() (ufrag, pwd string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localUfrag, s.localPwd
}

// Role returns the session's current role.
func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// TieBreaker returns the session's 64-bit tie-breaker.
func (s *Session) TieBreaker() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tieBreaker
}

// State returns the session's overall state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ChecklistState returns the state of the streamIndex'th check list.
func (s *Session) ChecklistState(streamIndex int) (ChecklistState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if streamIndex < 0 || streamIndex >= len(s.checklists) {
		return 0, errors.Wrapf(ErrPairNotFound, "stream %d", streamIndex)
	}
	return s.checklists[streamIndex].State, nil
}

// DefaultLocalCandidate returns the streamIndex'th check list's componentID-1
// default local candidate's transport address (spec §6, "Queries exposed to
// the host": "default local candidate (the one with componentID 1 and
// is_default=true)"), or ErrPairNotFound if none has been chosen.
func (s *Session) DefaultLocalCandidate(streamIndex int) (TransportAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if streamIndex < 0 || streamIndex >= len(s.checklists) {
		return TransportAddress{}, errors.Wrapf(ErrPairNotFound, "stream %d", streamIndex)
	}
	c := s.checklists[streamIndex].DefaultLocalCandidate()
	if c == nil {
		return TransportAddress{}, ErrPairNotFound
	}
	return c.Addr, nil
}

// NominatedRemoteAddress returns, once a check list is Completed, the
// remote transport address of the nominated valid pair for component on
// the streamIndex'th check list (spec §6, "Queries exposed to the host").
func (s *Session) NominatedRemoteAddress(streamIndex int, component ComponentID) (TransportAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if streamIndex < 0 || streamIndex >= len(s.checklists) {
		return TransportAddress{}, errors.Wrapf(ErrPairNotFound, "stream %d", streamIndex)
	}
	cl := s.checklists[streamIndex]
	vp := cl.FindNominatedValidPair(component)
	if vp == nil {
		return TransportAddress{}, ErrPairNotFound
	}
	return vp.Valid.Remote.Addr, nil
}
