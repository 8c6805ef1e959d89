package ice

import (
	"testing"
	"time"
)

// twoAgentFixture wires two Sessions (Controlling "A" and Controlled "B")
// with one Host candidate per component, connected through fakeSockets, per
// spec.md §8 scenario 1 ("Host-host direct, two components").
type twoAgentFixture struct {
	clock  *fakeClock
	a, b   *Session
	clA    *CheckList
	clB    *CheckList
	outbox []pendingDelivery
}

func newTwoAgentFixture(t *testing.T) *twoAgentFixture {
	t.Helper()
	clock := newFakeClock(time.Unix(0, 0))

	a, err := NewSession(Options{
		Role:        Controlling,
		LocalUfrag:  "aaaaaaaa",
		LocalPwd:    "aaaaaaaaaaaaaaaaaaaaaaaa",
		RemoteUfrag: "bbbbbbbb",
		RemotePwd:   "bbbbbbbbbbbbbbbbbbbbbbbb",
		Clock:       clock,
		Rand:        &fakeRand{seed: 1},
		Codec:       fakeCodec{},
	})
	if err != nil {
		t.Fatalf("NewSession(a): %v", err)
	}
	b, err := NewSession(Options{
		Role:        Controlled,
		LocalUfrag:  "bbbbbbbb",
		LocalPwd:    "bbbbbbbbbbbbbbbbbbbbbbbb",
		RemoteUfrag: "aaaaaaaa",
		RemotePwd:   "aaaaaaaaaaaaaaaaaaaaaaaa",
		Clock:       clock,
		Rand:        &fakeRand{seed: 2},
		Codec:       fakeCodec{},
	})
	if err != nil {
		t.Fatalf("NewSession(b): %v", err)
	}

	clA := a.AddStream()
	clB := b.AddStream()

	aRTP := NewHostCandidate(TransportAddress{IP: "10.0.0.1", Port: 5000}, ComponentRTP, 0)
	aRTCP := NewHostCandidate(TransportAddress{IP: "10.0.0.1", Port: 5001}, ComponentRTCP, 0)
	bRTP := NewHostCandidate(TransportAddress{IP: "10.0.0.2", Port: 6000}, ComponentRTP, 0)
	bRTCP := NewHostCandidate(TransportAddress{IP: "10.0.0.2", Port: 6001}, ComponentRTCP, 0)

	clA.AddLocalCandidate(aRTP)
	clA.AddLocalCandidate(aRTCP)
	clA.AddRemoteCandidate(cloneCandidate(bRTP))
	clA.AddRemoteCandidate(cloneCandidate(bRTCP))

	clB.AddLocalCandidate(bRTP)
	clB.AddLocalCandidate(bRTCP)
	clB.AddRemoteCandidate(cloneCandidate(aRTP))
	clB.AddRemoteCandidate(cloneCandidate(aRTCP))

	a.PreparePairs(clA)
	b.PreparePairs(clB)

	f := &twoAgentFixture{clock: clock, a: a, b: b, clA: clA, clB: clB}

	aSockets := NewStaticSockets(
		&fakeSocket{local: aRTP.Addr, peer: b, streamIndex: 0, component: ComponentRTP, outbox: &f.outbox},
		&fakeSocket{local: aRTCP.Addr, peer: b, streamIndex: 0, component: ComponentRTCP, outbox: &f.outbox},
	)
	bSockets := NewStaticSockets(
		&fakeSocket{local: bRTP.Addr, peer: a, streamIndex: 0, component: ComponentRTP, outbox: &f.outbox},
		&fakeSocket{local: bRTCP.Addr, peer: a, streamIndex: 0, component: ComponentRTCP, outbox: &f.outbox},
	)
	a.SetSockets(aSockets)
	b.SetSockets(bSockets)

	return f
}

// cloneCandidate copies c so each side owns distinct Candidate values
// (mirroring candidates learned over signalling rather than shared
// pointers between two independent agents).
func cloneCandidate(c *Candidate) *Candidate {
	cp := *c
	cp.Base = &cp
	return &cp
}

func (f *twoAgentFixture) tick() {
	f.clock.Advance(defaultTa)
	f.a.Tick(f.clock.Now(), nil)
	f.b.Tick(f.clock.Now(), nil)
	f.drainOutbox()
}

// drainOutbox delivers every queued datagram, including any further
// datagrams a delivery itself produces (e.g. a binding request's success
// reply), until no deliveries remain.
func (f *twoAgentFixture) drainOutbox() {
	for len(f.outbox) > 0 {
		pending := f.outbox
		f.outbox = nil
		for _, d := range pending {
			_ = d.to.HandleMessage(f.clock.Now(), d.streamIndex, d.local, d.peer, d.component, d.data)
		}
	}
}

func TestTwoAgentHostHostDirectCompletes(t *testing.T) {
	f := newTwoAgentFixture(t)

	completed := false
	for i := 0; i < 50; i++ {
		f.tick()
		if f.a.State() == SessionCompleted && f.b.State() == SessionCompleted {
			completed = true
			break
		}
	}
	if !completed {
		t.Fatalf("sessions did not complete within 50 ticks; a=%s b=%s", f.a.State(), f.b.State())
	}

	for _, component := range []ComponentID{ComponentRTP, ComponentRTCP} {
		addr, err := f.a.NominatedRemoteAddress(0, component)
		if err != nil {
			t.Fatalf("NominatedRemoteAddress(a, %s): %v", component, err)
		}
		if addr.IP != "10.0.0.2" {
			t.Errorf("expected A's nominated remote for %s to be 10.0.0.2, got %s", component, addr.IP)
		}
	}
}

// TestKeepaliveSentAfterCompletion implements spec.md §8 scenario 5: once a
// check list reaches Completed, a STUN indication per componentID is
// emitted every keepalive_timeout on the nominated pair.
func TestKeepaliveSentAfterCompletion(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	a, err := NewSession(Options{
		Role: Controlling, LocalUfrag: "aaaaaaaa", LocalPwd: "aaaaaaaaaaaaaaaaaaaaaaaa",
		RemoteUfrag: "bbbbbbbb", RemotePwd: "bbbbbbbbbbbbbbbbbbbbbbbb",
		Clock: clock, Rand: &fakeRand{seed: 4}, Codec: fakeCodec{},
	})
	if err != nil {
		t.Fatalf("NewSession(a): %v", err)
	}
	b, err := NewSession(Options{
		Role: Controlled, LocalUfrag: "bbbbbbbb", LocalPwd: "bbbbbbbbbbbbbbbbbbbbbbbb",
		RemoteUfrag: "aaaaaaaa", RemotePwd: "aaaaaaaaaaaaaaaaaaaaaaaa",
		Clock: clock, Rand: &fakeRand{seed: 5}, Codec: fakeCodec{},
	})
	if err != nil {
		t.Fatalf("NewSession(b): %v", err)
	}

	clA := a.AddStream()
	clB := b.AddStream()
	aRTP := NewHostCandidate(TransportAddress{IP: "10.0.0.1", Port: 5000}, ComponentRTP, 0)
	bRTP := NewHostCandidate(TransportAddress{IP: "10.0.0.2", Port: 6000}, ComponentRTP, 0)
	clA.AddLocalCandidate(aRTP)
	clA.AddRemoteCandidate(cloneCandidate(bRTP))
	clB.AddLocalCandidate(bRTP)
	clB.AddRemoteCandidate(cloneCandidate(aRTP))
	a.PreparePairs(clA)
	b.PreparePairs(clB)

	var outbox []pendingDelivery
	aSocket := &fakeSocket{local: aRTP.Addr, peer: b, streamIndex: 0, component: ComponentRTP, outbox: &outbox}
	bSocket := &fakeSocket{local: bRTP.Addr, peer: a, streamIndex: 0, component: ComponentRTP, outbox: &outbox}
	a.SetSockets(NewStaticSockets(aSocket, nil))
	b.SetSockets(NewStaticSockets(bSocket, nil))

	drain := func() {
		for len(outbox) > 0 {
			pending := outbox
			outbox = nil
			for _, d := range pending {
				_ = d.to.HandleMessage(clock.Now(), d.streamIndex, d.local, d.peer, d.component, d.data)
			}
		}
	}
	tick := func() {
		clock.Advance(defaultTa)
		a.Tick(clock.Now(), nil)
		b.Tick(clock.Now(), nil)
		drain()
	}

	for i := 0; i < 50 && (a.State() != SessionCompleted || b.State() != SessionCompleted); i++ {
		tick()
	}
	if a.State() != SessionCompleted || b.State() != SessionCompleted {
		t.Fatalf("handshake did not complete: a=%s b=%s", a.State(), b.State())
	}

	sentBefore := len(aSocket.sent)
	clock.Advance(defaultKeepaliveTimeout)
	a.Tick(clock.Now(), nil)
	drain()

	if len(aSocket.sent) <= sentBefore {
		t.Fatalf("expected a new message sent after keepalive_timeout elapsed, sent count stayed at %d", sentBefore)
	}
	// The keep-alive goes out before the scheduler's Running pass, which may
	// still send a residual triggered check in the same tick.
	codec := fakeCodec{}
	msg, err := codec.Parse(aSocket.sent[sentBefore])
	if err != nil {
		t.Fatalf("Parse(sent indication): %v", err)
	}
	if msg.Class != ClassIndication {
		t.Errorf("expected the post-completion message to be a binding indication, got class %v", msg.Class)
	}
}

func TestTwoAgentRoleConflictResolved(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	a, _ := NewSession(Options{Role: Controlling, Rand: &fakeRand{seed: 10}, Clock: clock, Codec: fakeCodec{}})
	b, _ := NewSession(Options{Role: Controlling, Rand: &fakeRand{seed: 11}, Clock: clock, Codec: fakeCodec{}})

	// Force deterministic tie-breakers matching spec.md §8 scenario 2.
	forceTieBreaker(a, 10)
	forceTieBreaker(b, 20)

	msg := &StunMessage{
		Class:               ClassRequest,
		Username:             "x:y",
		HasPriority:          true,
		Priority:             100,
		HasControlling:       true,
		ControllingTieBreaker: a.TieBreaker(),
	}
	conflict, shouldReply := b.resolveRoleConflict(msg)
	if !conflict || !shouldReply {
		t.Fatalf("expected B (tie-breaker 20) to reply 487 to A's controlling claim, got conflict=%v shouldReply=%v", conflict, shouldReply)
	}

	msgFromB := &StunMessage{HasControlling: true, ControllingTieBreaker: b.TieBreaker()}
	conflict, shouldReply = a.resolveRoleConflict(msgFromB)
	if !conflict {
		t.Fatalf("expected A to detect a role conflict against B")
	}
	if shouldReply {
		t.Fatalf("expected A (lesser tie-breaker) to yield, not reply 487")
	}
}

// TestPeerReflexiveRemoteLearnedFromNATedSource implements spec.md §8
// scenario 3: Y has no remote candidate matching the address a binding
// request actually arrives from (X sits behind a NAT rewriting
// 192.168.1.2:5000 to 203.0.113.5:40000). Y must learn a PeerReflexive
// remote candidate carrying the request's PRIORITY attribute and a fresh
// random foundation, and trigger a check against it.
func TestPeerReflexiveRemoteLearnedFromNATedSource(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	y, err := NewSession(Options{
		Role: Controlled, LocalUfrag: "yyyyyyyy", LocalPwd: "yyyyyyyyyyyyyyyyyyyyyyyy",
		RemoteUfrag: "xxxxxxxx", RemotePwd: "xxxxxxxxxxxxxxxxxxxxxxxx",
		Clock: clock, Rand: &fakeRand{seed: 7}, Codec: fakeCodec{},
	})
	if err != nil {
		t.Fatalf("NewSession(y): %v", err)
	}
	cl := y.AddStream()
	yLocal := NewHostCandidate(TransportAddress{IP: "10.0.0.2", Port: 6000}, ComponentRTP, 0)
	cl.AddLocalCandidate(yLocal)
	// Y has no remote candidate at all: X's signalled candidate
	// (192.168.1.2:5000) never matches the NATed source address the
	// request actually arrives from.
	y.PreparePairs(cl)
	y.SetSockets(NewStaticSockets(&fakeSocket{local: yLocal.Addr}, nil))

	codec := fakeCodec{}
	const natedPriority = 1845494272
	req := &StunMessage{
		Class:                ClassRequest,
		TransactionID:        TransactionID{1, 2, 3},
		Username:             "yyyyyyyy:xxxxxxxx",
		HasPriority:          true,
		Priority:             natedPriority,
		HasControlling:        true,
		ControllingTieBreaker: 99,
		IntegrityKey:          "yyyyyyyyyyyyyyyyyyyyyyyy",
	}
	raw, err := codec.Encode(req)
	if err != nil {
		t.Fatalf("Encode(req): %v", err)
	}

	natedSource := TransportAddress{IP: "203.0.113.5", Port: 40000}
	if err := y.HandleMessage(clock.Now(), 0, yLocal.Addr, natedSource, ComponentRTP, raw); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	var learned *Candidate
	for _, r := range cl.Remote {
		if r.Addr.Equal(natedSource) {
			learned = r
			break
		}
	}
	if learned == nil {
		t.Fatalf("expected a remote candidate learned at %s, none found in %v", natedSource, cl.Remote)
	}
	if learned.Kind != PeerReflexive {
		t.Errorf("expected learned remote candidate to be PeerReflexive, got %s", learned.Kind)
	}
	if learned.Priority != natedPriority {
		t.Errorf("expected learned candidate priority %d, got %d", natedPriority, learned.Priority)
	}
	if learned.Foundation == "" {
		t.Errorf("expected learned candidate to carry a fresh foundation")
	}

	p := cl.FindPairByCandidates(yLocal, learned)
	if p == nil {
		t.Fatalf("expected a pair to have been formed/triggered for the learned remote candidate")
	}
	if p.State != Waiting {
		t.Errorf("expected triggered pair to be Waiting, got %s", p.State)
	}
}

func forceTieBreaker(s *Session, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tieBreaker = v
}

func TestRetransmissionExhaustionReachesFailed(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	a, _ := NewSession(Options{
		Role: Controlling, LocalUfrag: "aaaaaaaa", LocalPwd: "aaaaaaaaaaaaaaaaaaaaaaaa",
		RemoteUfrag: "bbbbbbbb", RemotePwd: "bbbbbbbbbbbbbbbbbbbbbbbb",
		Clock: clock, Rand: &fakeRand{seed: 3}, Codec: fakeCodec{},
	})
	cl := a.AddStream()
	local := NewHostCandidate(TransportAddress{IP: "10.0.0.1", Port: 5000}, ComponentRTP, 0)
	remote := NewHostCandidate(TransportAddress{IP: "10.0.0.2", Port: 6000}, ComponentRTP, 0)
	cl.AddLocalCandidate(local)
	cl.AddRemoteCandidate(remote)
	a.PreparePairs(cl)
	a.SetSockets(NewStaticSockets(&fakeSocket{local: local.Addr}, nil))

	elapsed := time.Duration(0)
	for i := 0; i < 2000 && cl.Pairs[0].State != Failed; i++ {
		clock.Advance(defaultTa)
		elapsed += defaultTa
		a.Tick(clock.Now(), nil)
	}
	if cl.Pairs[0].State != Failed {
		t.Fatalf("expected pair to reach Failed after retransmission exhaustion")
	}
	if elapsed < 12700*time.Millisecond {
		t.Errorf("pair failed too early: elapsed %s, want >= 12700ms", elapsed)
	}
}
