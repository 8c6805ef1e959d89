package ice

// StunAdapter wraps a StunCodec to build and validate the four ICE-flavored
// STUN messages the engine exchanges (spec §4.2). It holds no session
// state of its own; every value it needs is passed in by the engine.
type StunAdapter struct {
	Codec StunCodec
	Rand  RandSource
}

// NewStunAdapter constructs an adapter over codec and rand.
func NewStunAdapter(codec StunCodec, rand RandSource) *StunAdapter {
	return &StunAdapter{Codec: codec, Rand: rand}
}

func (a *StunAdapter) newTransactionID() TransactionID {
	var id TransactionID
	hex := a.Rand.HexString(len(id) * 2)
	for i := range id {
		id[i] = hexByte(hex[i*2], hex[i*2+1])
	}
	return id
}

func hexByte(hi, lo byte) byte {
	return hexNibble(hi)<<4 | hexNibble(lo)
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

// BuildBindingRequest implements spec §4.2's build_binding_request. On
// retransmission (pair.Transaction already set), the same transaction ID is
// reused; otherwise a fresh one is minted and stored on the pair.
func (a *StunAdapter) BuildBindingRequest(pair *Pair, role Role, tieBreaker uint64, localUfrag, remoteUfrag, remotePwd string) ([]byte, TransactionID, error) {
	if pair.Transaction.IsZero() {
		pair.Transaction = a.newTransactionID()
	}
	m := &StunMessage{
		Class:         ClassRequest,
		TransactionID: pair.Transaction,
		Username:      remoteUfrag + ":" + localUfrag,
		HasPriority:   true,
		// Low 24 bits of the local candidate's priority, top byte the
		// PeerReflexive type preference (110) -- spec §4.2, correcting the
		// source bug noted in spec §9 by using the RFC formula rather than
		// reusing the raw local pair priority byte layout.
		Priority:     ComputePriority(TypePreference(PeerReflexive), localPreferenceOf(pair.Local.Priority), pair.Local.Component),
		UseCandidate: role == Controlling && pair.IsNominated,
		IntegrityKey: remotePwd,
	}
	switch role {
	case Controlling:
		m.HasControlling, m.ControllingTieBreaker = true, tieBreaker
	case Controlled:
		m.HasControlled, m.ControlledTieBreaker = true, tieBreaker
	}
	b, err := a.Codec.Encode(m)
	return b, pair.Transaction, err
}

// localPreferenceOf extracts the local_pref field (bits 8-23) the candidate
// priority was built with, per spec §4.1's priority layout.
func localPreferenceOf(candidatePriority uint32) uint32 {
	return (candidatePriority >> 8) & 0xFFFF
}

// BuildBindingSuccess implements build_binding_success: echoes the
// transaction ID and USERNAME, sets XOR-MAPPED-ADDRESS to observedSource,
// signs with localPwd.
func (a *StunAdapter) BuildBindingSuccess(request *StunMessage, observedSource TransportAddress, localPwd string) ([]byte, error) {
	m := &StunMessage{
		Class:               ClassSuccessResponse,
		TransactionID:       request.TransactionID,
		Username:            request.Username,
		HasXORMappedAddress: true,
		XORMappedAddress:    observedSource,
		IntegrityKey:        localPwd,
	}
	return a.Codec.Encode(m)
}

// BuildBindingError implements build_binding_error.
func (a *StunAdapter) BuildBindingError(request *StunMessage, code ErrorCode) ([]byte, error) {
	m := &StunMessage{
		Class:         ClassErrorResponse,
		TransactionID: request.TransactionID,
		HasErrorCode:  true,
		ErrorCode:     code,
	}
	return a.Codec.Encode(m)
}

// BuildBindingIndication implements build_binding_indication: a minimal
// message with FINGERPRINT only, used for keep-alives.
func (a *StunAdapter) BuildBindingIndication() ([]byte, error) {
	m := &StunMessage{
		Class:         ClassIndication,
		TransactionID: a.newTransactionID(),
	}
	return a.Codec.Encode(m)
}

// VerifyIntegrity reports whether m's received MESSAGE-INTEGRITY matches
// the HMAC computed over m with key.
func (a *StunAdapter) VerifyIntegrity(m *StunMessage, key string) bool {
	if !m.HasMessageIntegrity {
		return false
	}
	expected := a.Codec.ShortTermHMAC(key, m)
	if len(expected) == 0 || len(expected) != len(m.ReceivedIntegrity) {
		return false
	}
	for i := range expected {
		if expected[i] != m.ReceivedIntegrity[i] {
			return false
		}
	}
	return true
}
