package ice

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// fakeCodec is a StunCodec that round-trips a StunMessage through
// encoding/gob instead of real STUN wire format, letting session_test.go
// exercise the engine and scheduler end to end without depending on the
// concrete gortc/stun wire codec (that pairing is covered separately by
// gortcstun_test.go).
type fakeCodec struct{}

func (c fakeCodec) Encode(m *StunMessage) ([]byte, error) {
	out := *m
	out.HasFingerprint = true
	if out.IntegrityKey != "" {
		out.HasMessageIntegrity = true
		out.ReceivedIntegrity = c.ShortTermHMAC(out.IntegrityKey, &out)
	}
	out.IntegrityKey = ""
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (fakeCodec) Parse(b []byte) (*StunMessage, error) {
	var m StunMessage
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (fakeCodec) ShortTermHMAC(key string, m *StunMessage) []byte {
	return []byte(fmt.Sprintf("hmac:%s:%x:%s:%d:%v:%v", key, m.TransactionID, m.Username, m.Priority, m.HasControlling, m.HasControlled))
}

func (fakeCodec) Fingerprint(b []byte) uint32 {
	var sum uint32
	for _, c := range b {
		sum = sum*31 + uint32(c)
	}
	return sum
}

// fakeClock is a mutable, manually advanced Clock for deterministic
// scheduler tests (spec §9: "time source ... should be injectable").
type fakeClock struct {
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeRand is a deterministic RandSource, cycling through fixed values so
// tests get reproducible tie-breakers/ufrags/foundations.
type fakeRand struct {
	seed uint64
}

func (r *fakeRand) Uint64() uint64 {
	r.seed = r.seed*6364136223846793005 + 1442695040888963407
	return r.seed
}

func (r *fakeRand) HexString(n int) string {
	const digits = "0123456789abcdef"
	b := make([]byte, n)
	for i := range b {
		b[i] = digits[r.Uint64()%16]
	}
	return string(b)
}

// pendingDelivery is one datagram queued for delivery between ticks,
// avoiding a synchronous call back into the peer session's HandleMessage
// while the sending session's mutex is still held.
type pendingDelivery struct {
	to          *Session
	streamIndex int
	local, peer TransportAddress
	component   ComponentID
	data        []byte
}

// fakeSocket records every send and, if peer is set, queues it for
// asynchronous delivery into outbox rather than calling peer.HandleMessage
// synchronously (which would re-enter the sending session's own mutex when
// the peer replies within the same tick).
type fakeSocket struct {
	local       TransportAddress
	peer        *Session
	streamIndex int
	component   ComponentID
	outbox      *[]pendingDelivery
	sent        [][]byte
}

func (s *fakeSocket) Send(b []byte, addr TransportAddress) error {
	s.sent = append(s.sent, b)
	if s.peer != nil && s.outbox != nil {
		*s.outbox = append(*s.outbox, pendingDelivery{
			to: s.peer, streamIndex: s.streamIndex,
			local: addr, peer: s.local, component: s.component, data: b,
		})
	}
	return nil
}
