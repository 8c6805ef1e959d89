package ice

import (
	"time"

	"go.uber.org/zap"
)

// Tick is the host-facing entry point for "drive one scheduler pass" over
// every check list in the session (spec §6), replacing the live ticker
// goroutine the core does not own. socks resolves an outbound Socket per
// component; when non-nil it replaces the session's configured
// ComponentSockets (the replacement stays in effect for later ticks and
// for HandleMessage), letting callers (tests, cmd/ice-agent) pass a fresh
// set each tick if convenient.
func (s *Session) Tick(now time.Time, socks ComponentSockets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if socks != nil {
		s.sockets = socks
	}
	for _, cl := range s.checklists {
		s.tickChecklist(now, cl)
	}
}

func (s *Session) tickChecklist(now time.Time, cl *CheckList) {
	switch cl.State {
	case ChecklistFailed:
		return
	case Completed:
		if cl.LastKeepAliveAt.IsZero() || now.Sub(cl.LastKeepAliveAt) >= s.keepaliveTimeout {
			s.sendKeepalives(cl)
			cl.LastKeepAliveAt = now
		}
		// fall through to allow responding to residual checks
	}
	s.tickRunning(now, cl)
}

func (s *Session) sendKeepalives(cl *CheckList) {
	for _, c := range cl.components {
		vp := cl.FindNominatedValidPair(c)
		if vp == nil {
			continue
		}
		ind, err := s.stun.BuildBindingIndication()
		if err != nil {
			s.log.Warn("failed to build keepalive indication", zap.Error(err))
			continue
		}
		if sock, ok := s.socketFor(c); ok {
			if err := sock.Send(ind, vp.Valid.Remote.Addr); err != nil {
				s.log.Warn("failed to send keepalive", zap.Error(err))
			}
		}
	}
}

// tickRunning implements spec §4.5's Running behavior (also the fall
// through path from Completed).
func (s *Session) tickRunning(now time.Time, cl *CheckList) {
	anyRetransmitPending := s.retransmitDue(now, cl)

	if now.Sub(cl.LastTaTime) < s.ta {
		return
	}
	cl.LastTaTime = now

	if p := cl.PopTriggeredCheck(); p != nil {
		s.sendBindingRequest(cl, p, now)
		return
	}

	if p := highestPriorityInState(cl.Pairs, Waiting); p != nil {
		s.sendBindingRequest(cl, p, now)
		return
	}
	if p := highestPriorityInState(cl.Pairs, Frozen); p != nil {
		s.sendBindingRequest(cl, p, now)
		return
	}

	if !anyRetransmitPending {
		s.conclude(cl)
	}
}

// retransmitDue retransmits every InProgress pair whose RTO has elapsed,
// doubling RTO and incrementing its count; past maxRetransmissions the
// pair fails. Returns whether any InProgress pair still has
// retransmissions left (spec §4.5 step 6's "no InProgress pair still has
// retransmissions left").
func (s *Session) retransmitDue(now time.Time, cl *CheckList) bool {
	anyLeft := false
	for _, p := range cl.Pairs {
		if p.State != InProgress {
			continue
		}
		if p.Retransmits > maxRetransmissions {
			// Conclusion already forced this pair's retransmit count
			// above the max (nomination's "stop further sends"); it
			// stays InProgress without counting toward anyLeft.
			continue
		}
		if now.Sub(p.LastSentAt) >= p.RTO {
			// WaitTransactionTimeout only takes effect on the tick that
			// would otherwise retransmit (spec §4.5: "on the next
			// scheduler tick that would retransmit"), not immediately.
			if p.WaitTransactionTimeout {
				p.State = Waiting
				p.WaitTransactionTimeout = false
				p.Transaction = TransactionID{}
				cl.QueueTriggeredCheck(p)
				continue
			}
			if p.Retransmits >= maxRetransmissions {
				p.State = Failed
				p.Transaction = TransactionID{}
				continue
			}
			s.retransmit(cl, p, now)
		}
		anyLeft = true
	}
	return anyLeft
}

func (s *Session) retransmit(cl *CheckList, p *Pair, now time.Time) {
	ufrag, pwd, err := s.remoteCredentialsFor(cl)
	if err != nil {
		s.log.Warn("cannot retransmit: no remote credentials", zap.Error(err))
		return
	}
	raw, _, err := s.stun.BuildBindingRequest(p, s.role, s.tieBreaker, s.localUfrag, ufrag, pwd)
	if err != nil {
		s.log.Warn("failed to build retransmitted binding request", zap.Error(err))
		return
	}
	if sock, ok := s.socketFor(p.ComponentID()); ok {
		if err := sock.Send(raw, p.Remote.Addr); err != nil {
			s.log.Warn("failed to send retransmitted binding request", zap.Error(err))
		}
	}
	p.RTO *= 2
	p.Retransmits++
	p.LastSentAt = now
	if s.metrics != nil {
		s.metrics.retransmissions.Inc()
	}
}

// sendBindingRequest implements spec §4.5's "Binding-request emission":
// initializes RTO/retransmit count on first send, snapshots the current
// role onto the pair, and transitions it to InProgress.
func (s *Session) sendBindingRequest(cl *CheckList, p *Pair, now time.Time) {
	ufrag, pwd, err := s.remoteCredentialsFor(cl)
	if err != nil {
		s.log.Warn("cannot send check: no remote credentials", zap.Error(err))
		return
	}
	p.RTO = initialRTO
	p.Retransmits = 0
	p.Role = s.role
	p.State = InProgress

	raw, _, err := s.stun.BuildBindingRequest(p, s.role, s.tieBreaker, s.localUfrag, ufrag, pwd)
	if err != nil {
		s.log.Warn("failed to build binding request", zap.Error(err))
		return
	}
	if sock, ok := s.socketFor(p.ComponentID()); ok {
		if err := sock.Send(raw, p.Remote.Addr); err != nil {
			s.log.Warn("failed to send binding request", zap.Error(err))
		}
	}
	p.LastSentAt = now
	if s.metrics != nil {
		s.metrics.bindingRequestsSent.Inc()
	}
}

func highestPriorityInState(pairs Pairs, state PairState) *Pair {
	var best *Pair
	for _, p := range pairs {
		if p.State != state {
			continue
		}
		if best == nil || p.Priority > best.Priority {
			best = p
		}
	}
	return best
}
