package ice

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// HandleMessage is the host-facing entry point for "deliver one received
// STUN datagram" (spec §6). local is the transport address the packet
// arrived on; peer is its source. socketType distinguishes RTP (component
// 1) from RTCP (component 2), per spec §6's receive-event shape.
func (s *Session) HandleMessage(now time.Time, streamIndex int, local, peer TransportAddress, socketType ComponentID, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if streamIndex < 0 || streamIndex >= len(s.checklists) {
		return errors.Wrapf(ErrPairNotFound, "stream %d", streamIndex)
	}
	cl := s.checklists[streamIndex]

	msg, err := s.codec.Parse(raw)
	if err != nil {
		s.log.Warn("dropping malformed STUN message", zap.Error(err))
		return nil
	}

	switch msg.Class {
	case ClassRequest:
		return s.handleBindingRequest(now, cl, msg, local, peer, socketType)
	case ClassSuccessResponse:
		return s.handleBindingSuccess(now, cl, msg, local, peer)
	case ClassErrorResponse:
		return s.handleBindingError(now, cl, msg)
	default:
		// Indications (keep-alives) require no action beyond having
		// arrived; RFC 5245 does not ask the recipient to do anything
		// else with them.
		return nil
	}
}

// handleBindingRequest implements spec §4.4's "Handling an incoming
// binding request".
func (s *Session) handleBindingRequest(now time.Time, cl *CheckList, msg *StunMessage, local, peer TransportAddress, socketType ComponentID) error {
	// 1. Attribute presence check.
	if !msg.HasMessageIntegrity || msg.Username == "" || !msg.HasFingerprint || !msg.HasPriority ||
		(msg.HasControlling == msg.HasControlled) {
		return s.replyError(msg, peer, socketType, ErrorMissingAttribute)
	}

	// 2. Integrity.
	if !s.stun.VerifyIntegrity(msg, s.localPwd) {
		return s.replyError(msg, peer, socketType, ErrorBadIntegrity)
	}

	// 3. Username: USERNAME = "local_ufrag:remote_ufrag"; left part must
	// equal local_ufrag.
	left := msg.Username
	for i := 0; i < len(msg.Username); i++ {
		if msg.Username[i] == ':' {
			left = msg.Username[:i]
			break
		}
	}
	if left != s.localUfrag {
		return s.replyError(msg, peer, socketType, ErrorBadIntegrity)
	}

	// 4. Role conflict.
	if conflict, shouldReply := s.resolveRoleConflict(msg); shouldReply {
		return s.replyError(msg, peer, socketType, ErrorRoleConflict)
	} else if conflict {
		s.setRoleLocked(s.role.Opposite())
	}

	// 5. Learn peer-reflexive remote.
	remote := s.findOrLearnRemoteCandidate(cl, peer, socketType, msg.Priority)

	// 6. Trigger check.
	localCand := s.findLocalCandidateByAddr(cl, local)
	if localCand != nil {
		s.triggerCheck(cl, localCand, remote)
	}

	// 7. Nomination update.
	if msg.UseCandidate && s.role == Controlled && localCand != nil {
		if p := cl.FindPairByCandidates(localCand, remote); p != nil && p.State == Succeeded {
			p.IsNominated = true
		}
	}

	// 8. Reply.
	resp, err := s.stun.BuildBindingSuccess(msg, peer, s.localPwd)
	if err != nil {
		return errors.Wrap(err, "ice: failed to build binding success")
	}
	if sock, ok := s.socketFor(socketType); ok {
		if err := sock.Send(resp, peer); err != nil {
			s.log.Warn("failed to send binding success", zap.Error(err))
		}
	}

	// 9. Conclude.
	s.conclude(cl)
	return nil
}

func (s *Session) replyError(msg *StunMessage, peer TransportAddress, socketType ComponentID, code ErrorCode) error {
	resp, err := s.stun.BuildBindingError(msg, code)
	if err != nil {
		return errors.Wrap(err, "ice: failed to build binding error")
	}
	if sock, ok := s.socketFor(socketType); ok {
		if err := sock.Send(resp, peer); err != nil {
			s.log.Warn("failed to send binding error", zap.Error(err))
		}
	}
	return nil
}

// resolveRoleConflict implements spec §4.4 step 4 (RFC 5245 §7.2.1.1).
// Returns (conflict, shouldReply487): conflict is true iff both sides
// claimed the same role; shouldReply487 is true iff we must reply (4,87)
// and take no further action on this request.
func (s *Session) resolveRoleConflict(msg *StunMessage) (conflict bool, shouldReply487 bool) {
	if s.role == Controlling && msg.HasControlling {
		if s.tieBreaker >= msg.ControllingTieBreaker {
			return true, true
		}
		return true, false
	}
	if s.role == Controlled && msg.HasControlled {
		if s.tieBreaker >= msg.ControlledTieBreaker {
			return true, true
		}
		return true, false
	}
	return false, false
}

// findLocalCandidateByAddr resolves the local candidate matching addr
// (spec §4.4 step 6: "Resolve the local candidate by the interface address
// and port on which the request arrived").
func (s *Session) findLocalCandidateByAddr(cl *CheckList, addr TransportAddress) *Candidate {
	for _, c := range cl.Local {
		if c.Addr.Equal(addr) {
			return c
		}
	}
	return nil
}

// findOrLearnRemoteCandidate implements spec §4.4 step 5: if peer is not
// among known remote candidates, a PeerReflexive remote candidate is
// created with the request's PRIORITY and a fresh random foundation.
func (s *Session) findOrLearnRemoteCandidate(cl *CheckList, peer TransportAddress, component ComponentID, priority uint32) *Candidate {
	for _, r := range cl.Remote {
		if r.Component == component && r.Addr.Equal(peer) {
			return r
		}
	}
	c := NewPeerReflexiveCandidate(peer, component, nil, priority)
	c.Foundation = s.freshRemoteFoundation(cl)
	cl.Remote = append(cl.Remote, c)
	cl.registerComponent(component)
	return c
}

const remoteFoundationHexLen = 16
const maxFoundationCollisionRetries = 16

// freshRemoteFoundation mints a random hex foundation, retrying on
// collision within cl's remote candidates (spec §4.1).
func (s *Session) freshRemoteFoundation(cl *CheckList) string {
	for i := 0; i < maxFoundationCollisionRetries; i++ {
		f := s.rand.HexString(remoteFoundationHexLen)
		collides := false
		for _, r := range cl.Remote {
			if r.Foundation == f {
				collides = true
				break
			}
		}
		if !collides {
			return f
		}
	}
	// Exceedingly unlikely with a 64-bit hex space; fall back to one more
	// random draw, which is not checked for collision.
	return s.rand.HexString(remoteFoundationHexLen)
}

// triggerCheck implements spec §4.4 step 6.
func (s *Session) triggerCheck(cl *CheckList, local, remote *Candidate) {
	p := cl.FindPairByCandidates(local, remote)
	if p == nil {
		p = &Pair{Local: local, Remote: remote, State: Waiting}
		p.computePriority(s.role)
		cl.InsertPair(p)
		cl.QueueTriggeredCheck(p)
		if s.metrics != nil {
			s.metrics.triggeredChecks.Inc()
		}
		return
	}
	switch p.State {
	case Waiting, Frozen, Failed:
		p.State = Waiting
		cl.QueueTriggeredCheck(p)
		if s.metrics != nil {
			s.metrics.triggeredChecks.Inc()
		}
	case InProgress:
		p.WaitTransactionTimeout = true
	case Succeeded:
		// no-op
	}
}

func (s *Session) socketFor(component ComponentID) (Socket, bool) {
	if s.sockets == nil {
		return nil, false
	}
	return s.sockets.Socket(component)
}

// handleBindingSuccess implements spec §4.4's "Handling an incoming
// binding success response".
func (s *Session) handleBindingSuccess(now time.Time, cl *CheckList, msg *StunMessage, local, peer TransportAddress) error {
	p := cl.FindPairByTransaction(msg.TransactionID)
	if p == nil {
		s.log.Debug("dropping response with unknown transaction ID")
		return nil
	}
	if s.metrics != nil {
		s.metrics.bindingResponsesRecv.Inc()
	}

	// 2. Symmetric address check.
	if !p.Remote.Addr.Equal(peer) || !p.Local.Addr.Equal(local) {
		p.State = Failed
		p.Transaction = TransactionID{}
		s.conclude(cl)
		return nil
	}

	// 3. Attribute check.
	if msg.Username == "" || !msg.HasFingerprint || !msg.HasXORMappedAddress {
		s.log.Warn("dropping binding success missing required attributes")
		return nil
	}

	// 4. Discover peer-reflexive local.
	localForValid := s.findLocalCandidateByAddr(cl, msg.XORMappedAddress)
	if localForValid == nil {
		localForValid = NewPeerReflexiveCandidate(msg.XORMappedAddress, p.Local.Component, p.Local, p.Local.Priority)
		AssignLocalFoundation(cl.Local, localForValid, &cl.foundationCounter)
		cl.Local = append(cl.Local, localForValid)
	}

	wasNominatedRequest := p.IsNominated
	prevState := p.State

	// 6. State updates. These run before step 5's valid-pair
	// construction; the succeeded pair's pre-transition nomination flag
	// and state, which step 7 needs, were captured just above.
	p.State = Succeeded
	p.Transaction = TransactionID{}
	foundation := p.Foundation()
	for _, other := range cl.Pairs {
		if other == p {
			continue
		}
		if other.Foundation() == foundation && other.State == Frozen {
			other.State = Waiting
		}
	}

	// 5. Construct valid pair.
	validLocal := localForValid
	if validLocal == nil {
		validLocal = p.Local
	}
	validPairRef := cl.FindPairByCandidates(validLocal, p.Remote)
	if validPairRef == nil {
		validPairRef = &Pair{Local: validLocal, Remote: p.Remote, State: Succeeded}
		validPairRef.computePriority(s.role)
	}
	vp := &ValidPair{Valid: validPairRef, GeneratedFrom: p}

	// 7. Nomination.
	switch s.role {
	case Controlling:
		vp.IsNominated = wasNominatedRequest
	case Controlled:
		vp.IsNominated = prevState == InProgress
	}
	cl.InsertValidPair(vp)

	// 8. Conclude.
	s.conclude(cl)
	return nil
}

// handleBindingError implements spec §4.4's "Handling an incoming binding
// error".
func (s *Session) handleBindingError(now time.Time, cl *CheckList, msg *StunMessage) error {
	p := cl.FindPairByTransaction(msg.TransactionID)
	if p == nil {
		s.log.Debug("dropping error response with unknown transaction ID")
		return nil
	}
	if s.metrics != nil {
		s.metrics.bindingErrorsRecv.Inc()
	}
	p.State = Failed
	p.Transaction = TransactionID{}

	if msg.HasErrorCode && msg.ErrorCode.Class == ErrorRoleConflict.Class && msg.ErrorCode.Number == ErrorRoleConflict.Number {
		s.setRoleLocked(s.role.Opposite())
		p.State = Waiting
		cl.QueueTriggeredCheck(p)
	}
	s.conclude(cl)
	return nil
}

// conclude implements spec §4.4.4 / RFC 5245 §8.1, run after every event
// that can change pair or valid-list state.
func (s *Session) conclude(cl *CheckList) {
	// 1. Regular nomination (Controlling only).
	if s.role == Controlling {
		for _, vp := range cl.Valid {
			if vp.IsNominated {
				continue
			}
			vp.IsNominated = true
			vp.GeneratedFrom.IsNominated = true
			cl.QueueTriggeredCheck(vp.GeneratedFrom)
		}
	}

	// 2. For each nominated valid pair, clear Waiting/Frozen pairs of its
	// component and stop retransmitting InProgress pairs of that
	// component.
	for _, vp := range cl.Valid {
		if !vp.IsNominated {
			continue
		}
		component := vp.Valid.ComponentID()
		kept := cl.Pairs[:0]
		for _, p := range cl.Pairs {
			if p.ComponentID() == component && (p.State == Waiting || p.State == Frozen) {
				cl.removeFromTriggered(p)
				continue
			}
			if p.ComponentID() == component && p.State == InProgress {
				p.Retransmits = maxRetransmissions + 1
			}
			kept = append(kept, p)
		}
		cl.Pairs = kept
	}

	// 3. Completion test.
	if cl.State != Completed && allComponentsNominated(cl) {
		cl.State = Completed
		cl.LastKeepAliveAt = s.clock.Now()
		if cl.OnSuccess != nil {
			cl.OnSuccess(cl.StreamIndex, cl)
		}
		s.recomputeSessionState()
		return
	}

	// 4. Failure test.
	if cl.State != Completed && allPairsTerminal(cl) {
		if cl.State != ChecklistFailed {
			cl.State = ChecklistFailed
			if s.metrics != nil {
				s.metrics.checklistsFailed.Inc()
			}
		}
		s.recomputeSessionState()
	}
}

func allComponentsNominated(cl *CheckList) bool {
	if len(cl.components) == 0 {
		return false
	}
	for _, c := range cl.components {
		if cl.FindNominatedValidPair(c) == nil {
			return false
		}
	}
	return true
}

func allPairsTerminal(cl *CheckList) bool {
	if len(cl.Pairs) == 0 {
		return false
	}
	for _, p := range cl.Pairs {
		if p.State != Failed && p.State != Succeeded {
			return false
		}
	}
	return true
}
