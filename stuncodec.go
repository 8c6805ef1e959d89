package ice

// MessageClass is a STUN message class (RFC 5389 §3).
type MessageClass byte

// STUN message classes used by this engine; only the Binding method is ever
// exchanged (spec §1, "STUN message codec ... out of scope").
const (
	ClassRequest MessageClass = iota
	ClassIndication
	ClassSuccessResponse
	ClassErrorResponse
)

// ErrorCode is a STUN ERROR-CODE attribute value: class and number combine
// as class*100+number (RFC 5389 §15.6), e.g. class=4 number=0 is 400.
type ErrorCode struct {
	Class  byte
	Number byte
	Reason string
}

// The three ERROR-CODE values the engine ever builds (spec §4.2).
var (
	ErrorMissingAttribute = ErrorCode{Class: 4, Number: 0, Reason: "Missing Attribute"}
	ErrorBadIntegrity     = ErrorCode{Class: 4, Number: 1, Reason: "Bad Integrity"}
	ErrorRoleConflict     = ErrorCode{Class: 4, Number: 87, Reason: "Role Conflict"}
)

// StunMessage is the engine's codec-independent view of an ICE-flavored
// STUN message: a binding request, success response, error response, or
// indication carrying exactly the attributes spec.md §4.2/§4.4 reference.
// It is built and consumed by the StunAdapter (stunadapter.go); the actual
// wire encoding/decoding and cryptographic primitives are delegated to a
// StunCodec implementation.
type StunMessage struct {
	Class         MessageClass
	TransactionID TransactionID

	Username string

	HasPriority bool
	Priority    uint32

	// At most one of these is set; both zero means neither attribute was
	// present.
	ControllingTieBreaker uint64
	HasControlling        bool
	ControlledTieBreaker  uint64
	HasControlled         bool

	UseCandidate bool

	HasXORMappedAddress bool
	XORMappedAddress    TransportAddress

	HasErrorCode bool
	ErrorCode    ErrorCode

	HasMessageIntegrity bool
	// ReceivedIntegrity is the MESSAGE-INTEGRITY attribute value as it
	// arrived on the wire, present only after Parse.
	ReceivedIntegrity []byte

	HasFingerprint bool

	// IntegrityKey, set only on outbound messages, is the short-term
	// credential key (password) the codec signs with during Encode.
	// Indications (build_binding_indication) leave it empty, matching
	// spec §4.2's "minimal message with FINGERPRINT only."
	IntegrityKey string
}

// StunCodec is the external collaborator that turns a StunMessage to and
// from wire bytes and exposes the cryptographic primitives the adapter
// needs to validate an inbound message (spec §6, "STUN codec interface").
type StunCodec interface {
	// Parse decodes b into a StunMessage. It returns an error for
	// malformed input (spec §7, "Malformed STUN" -> drop, log warning);
	// it does not itself judge whether required ICE attributes are
	// present, only whether the wire format is well-formed.
	Parse(b []byte) (*StunMessage, error)

	// Encode serializes m, computing and attaching MESSAGE-INTEGRITY
	// (when m.IntegrityKey is non-empty) and FINGERPRINT.
	Encode(m *StunMessage) ([]byte, error)

	// ShortTermHMAC computes the short-term MESSAGE-INTEGRITY value the
	// message would carry if signed with key, for comparison against
	// ReceivedIntegrity.
	ShortTermHMAC(key string, m *StunMessage) []byte

	// Fingerprint computes the CRC-32 FINGERPRINT value for b, the raw
	// message bytes up to (not including) the FINGERPRINT attribute
	// itself, per RFC 5389 §15.5.
	Fingerprint(b []byte) uint32
}
